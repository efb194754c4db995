// ABOUTME: Tests for the fixed-window rate limiter
// ABOUTME: Covers window boundaries, retry-after, concurrency, and fail-closed backends

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benedictkwok/cover-letter-assistant/internal/audit"
	"github.com/benedictkwok/cover-letter-assistant/internal/clock"
	"github.com/benedictkwok/cover-letter-assistant/internal/config"
	"github.com/benedictkwok/cover-letter-assistant/internal/metrics"
)

var testStart = time.Date(2025, 1, 15, 10, 0, 0, 0, time.UTC)

type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureRecorder) Record(_ context.Context, e audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureRecorder) ofType(t audit.EventType) []audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []audit.Event
	for _, e := range c.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

func newTestLimiter(t *testing.T, store BucketStore, fake *clock.Fake, rec audit.Recorder) *Limiter {
	t.Helper()
	l, err := New(store, RulesFromConfig(config.DefaultRateLimits),
		WithClock(fake), WithRecorder(rec), WithMetrics(metrics.New()))
	require.NoError(t, err)
	return l
}

func TestLimiter_AllowsUpToCapThenDenies(t *testing.T) {
	fake := clock.NewFake(testStart)
	rec := &captureRecorder{}
	l := newTestLimiter(t, NewMemoryStore(), fake, rec)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		d, err := l.Check(ctx, config.ActionAuth, "alice@example.com")
		require.NoError(t, err, "attempt %d", i)
		assert.True(t, d.Allowed)
		assert.Equal(t, i, d.Count)
		assert.Equal(t, 5-i, d.Remaining)
		assert.Equal(t, testStart.Add(15*time.Minute), d.ResetAt)
		fake.Advance(time.Minute)
	}

	d, err := l.Check(ctx, config.ActionAuth, "alice@example.com")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.False(t, d.Allowed)
	assert.Equal(t, 10*time.Minute, d.RetryAfter)

	var le *LimitError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, config.ActionAuth, le.Action)
	assert.Equal(t, 10*time.Minute, le.RetryAfter)

	denials := rec.ofType(audit.RateLimited)
	require.Len(t, denials, 1)
	assert.Equal(t, audit.OutcomeDenied, denials[0].Outcome)
	assert.Equal(t, "alice@example.com", denials[0].Identity)
	assert.Equal(t, 600, denials[0].Detail["retry_after_seconds"])
}

func TestLimiter_WindowBoundary(t *testing.T) {
	fake := clock.NewFake(testStart)
	l := newTestLimiter(t, NewMemoryStore(), fake, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Check(ctx, config.ActionAuth, "bob@example.com")
		require.NoError(t, err)
	}

	// One nanosecond before the window closes the key is still throttled.
	fake.Set(testStart.Add(15*time.Minute - time.Nanosecond))
	d, err := l.Check(ctx, config.ActionAuth, "bob@example.com")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, time.Nanosecond, d.RetryAfter)

	// At exactly windowStart+window a fresh window begins.
	fake.Set(testStart.Add(15 * time.Minute))
	d, err = l.Check(ctx, config.ActionAuth, "bob@example.com")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
	assert.Equal(t, testStart.Add(30*time.Minute), d.ResetAt)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	fake := clock.NewFake(testStart)
	l := newTestLimiter(t, NewMemoryStore(), fake, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := l.Check(ctx, config.ActionAuth, "carol@example.com")
		require.NoError(t, err)
	}
	_, err := l.Check(ctx, config.ActionAuth, "carol@example.com")
	require.ErrorIs(t, err, ErrRateLimited)

	_, err = l.Check(ctx, config.ActionAuth, "dave@example.com")
	assert.NoError(t, err, "different identifier")
	_, err = l.Check(ctx, config.ActionUpload, "carol@example.com")
	assert.NoError(t, err, "different action")
}

func TestLimiter_UnknownAction(t *testing.T) {
	l := newTestLimiter(t, NewMemoryStore(), clock.NewFake(testStart), nil)

	_, err := l.Check(context.Background(), "export", "alice@example.com")
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestLimiter_ConcurrentSameKey(t *testing.T) {
	const (
		workers = 50
		limit   = 7
	)
	fake := clock.NewFake(testStart)
	l, err := New(NewMemoryStore(), map[string]Rule{"upload": {Cap: limit, Window: time.Hour}}, WithClock(fake))
	require.NoError(t, err)

	var allowed, denied atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(context.Background(), "upload", "same@example.com")
			if d.Allowed {
				allowed.Add(1)
			} else if errors.Is(err, ErrRateLimited) {
				denied.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), allowed.Load())
	assert.Equal(t, int64(workers-limit), denied.Load())
}

type failingStore struct{}

func (failingStore) Hit(context.Context, Key, Rule, time.Time) (Bucket, error) {
	return Bucket{}, errors.New("database is locked")
}

func TestLimiter_BackendFailureFailsClosed(t *testing.T) {
	rec := &captureRecorder{}
	l := newTestLimiter(t, failingStore{}, clock.NewFake(testStart), rec)

	d, err := l.Check(context.Background(), config.ActionAuth, "erin@example.com")
	require.Error(t, err)
	assert.False(t, d.Allowed)
	assert.NotErrorIs(t, err, ErrRateLimited)
	assert.Len(t, rec.ofType(audit.PersistenceError), 1)
}

func TestLimiter_Prune(t *testing.T) {
	fake := clock.NewFake(testStart)
	store := NewMemoryStore()
	l := newTestLimiter(t, store, fake, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, config.ActionAuth, fmt.Sprintf("u%d@example.com", i))
		require.NoError(t, err)
	}
	fake.Advance(30 * time.Minute)
	_, err := l.Check(ctx, config.ActionAuth, "fresh@example.com")
	require.NoError(t, err)

	// Upload has the longest window (60m); nothing is old enough yet.
	n, err := l.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	fake.Advance(31 * time.Minute)
	n, err = l.Prune(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, store.Len())
}

func TestNew_RejectsBadRules(t *testing.T) {
	_, err := New(NewMemoryStore(), map[string]Rule{"auth": {Cap: 0, Window: time.Minute}})
	assert.True(t, config.IsConfigurationError(err))

	_, err = New(NewMemoryStore(), map[string]Rule{"auth": {Cap: 1}})
	assert.True(t, config.IsConfigurationError(err))

	_, err = New(nil, nil)
	assert.Error(t, err)
}

func TestAdvance(t *testing.T) {
	rule := Rule{Cap: 2, Window: time.Minute}

	b := Advance(Bucket{}, false, rule, testStart)
	assert.Equal(t, Bucket{WindowStart: testStart, Count: 1}, b)

	b = Advance(b, true, rule, testStart.Add(30*time.Second))
	assert.Equal(t, 2, b.Count)
	assert.Equal(t, testStart, b.WindowStart)

	b = Advance(b, true, rule, testStart.Add(time.Minute))
	assert.Equal(t, Bucket{WindowStart: testStart.Add(time.Minute), Count: 1}, b)
}
