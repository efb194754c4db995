// ABOUTME: Tests for the daily quota tracker
// ABOUTME: Covers the cap, lazy rollover in the reference zone, admin reset, and concurrency

package quota

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benedictkwok/cover-letter-assistant/internal/audit"
	"github.com/benedictkwok/cover-letter-assistant/internal/clock"
)

type captureRecorder struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureRecorder) Record(_ context.Context, e audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureRecorder) count(t audit.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (c *captureRecorder) last() audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events[len(c.events)-1]
}

func newTestTracker(t *testing.T, counter Counter, fake *clock.Fake, opts ...Option) (*Tracker, *captureRecorder) {
	t.Helper()
	rec := &captureRecorder{}
	opts = append([]Option{WithClock(fake), WithRecorder(rec)}, opts...)
	tr, err := NewTracker(counter, 5, opts...)
	require.NoError(t, err)
	return tr, rec
}

func TestTracker_CapAndExceeded(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	tr, rec := newTestTracker(t, NewMemoryCounter(), fake)
	ctx := context.Background()

	remaining, err := tr.Remaining(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	for i := 1; i <= 5; i++ {
		st, err := tr.IncrementIfAvailable(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, i, st.Used)
		assert.Equal(t, 5-i, st.Remaining)
		assert.Equal(t, "2025-01-15", st.Day)
	}

	st, err := tr.IncrementIfAvailable(ctx, "alice@example.com")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, 5, st.Used, "denied attempt does not consume")
	assert.Equal(t, 0, st.Remaining)

	assert.Equal(t, 5, rec.count(audit.QuotaConsumed))
	assert.Equal(t, 1, rec.count(audit.QuotaExceeded))
	assert.Equal(t, audit.OutcomeDenied, rec.last().Outcome)
}

func TestTracker_CaseInsensitiveKey(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	tr, _ := newTestTracker(t, NewMemoryCounter(), fake)
	ctx := context.Background()

	_, err := tr.IncrementIfAvailable(ctx, "Alice@Example.com")
	require.NoError(t, err)
	remaining, err := tr.Remaining(ctx, "  alice@example.COM ")
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
}

func TestTracker_RolloverAtReferenceMidnight(t *testing.T) {
	zone := time.FixedZone("UTC-5", -5*60*60)
	// 23:59 local on Jan 15 is 04:59 UTC on Jan 16.
	fake := clock.NewFake(time.Date(2025, 1, 15, 23, 59, 0, 0, zone))
	tr, _ := newTestTracker(t, NewMemoryCounter(), fake, WithLocation(zone))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := tr.IncrementIfAvailable(ctx, "bob@example.com")
		require.NoError(t, err)
	}
	st, err := tr.Status(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15", st.Day, "day follows the reference zone, not UTC")
	assert.Equal(t, time.Date(2025, 1, 16, 0, 0, 0, 0, zone), st.ResetAt)

	_, err = tr.IncrementIfAvailable(ctx, "bob@example.com")
	require.ErrorIs(t, err, ErrQuotaExceeded)

	fake.Advance(time.Minute)
	remaining, err := tr.Remaining(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining, "stale day is treated as zero")

	st, err = tr.IncrementIfAvailable(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Used)
	assert.Equal(t, "2025-01-16", st.Day)
}

func TestTracker_AdminReset(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	tr, rec := newTestTracker(t, NewMemoryCounter(), fake)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := tr.IncrementIfAvailable(ctx, "carol@example.com")
		require.NoError(t, err)
	}

	require.NoError(t, tr.AdminReset(ctx, "carol@example.com", "Admin@Example.com"))

	remaining, err := tr.Remaining(ctx, "carol@example.com")
	require.NoError(t, err)
	assert.Equal(t, 5, remaining)

	e := rec.last()
	assert.Equal(t, audit.QuotaReset, e.Type)
	assert.Equal(t, "carol@example.com", e.Identity)
	assert.Equal(t, "admin@example.com", e.Detail["actor"])
}

func TestTracker_ConcurrentIncrements(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	tr, _ := newTestTracker(t, NewMemoryCounter(), fake)

	var allowed, exceeded atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := tr.IncrementIfAvailable(context.Background(), "dave@example.com")
			switch {
			case err == nil:
				allowed.Add(1)
			case errors.Is(err, ErrQuotaExceeded):
				exceeded.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), allowed.Load())
	assert.Equal(t, int64(35), exceeded.Load())
}

func TestTracker_DailyTotals(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	tr, _ := newTestTracker(t, NewMemoryCounter(), fake)
	ctx := context.Background()

	for _, id := range []string{"a@example.com", "a@example.com", "b@example.com"} {
		_, err := tr.IncrementIfAvailable(ctx, id)
		require.NoError(t, err)
	}

	totals, err := tr.DailyTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, Totals{Day: "2025-01-15", Actions: 3, Identities: 2}, totals)

	fake.Advance(24 * time.Hour)
	totals, err = tr.DailyTotals(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, totals.Actions)
}

type failingCounter struct{}

func (failingCounter) IncrementIfBelow(context.Context, string, string, int) (int, bool, error) {
	return 0, false, errors.New("disk I/O error")
}

func (failingCounter) Get(context.Context, string, string) (int, error) {
	return 0, errors.New("disk I/O error")
}

func (failingCounter) Reset(context.Context, string, string) error {
	return errors.New("disk I/O error")
}

func TestTracker_BackendFailureFailsClosed(t *testing.T) {
	fake := clock.NewFake(time.Date(2025, 1, 15, 9, 0, 0, 0, time.UTC))
	tr, rec := newTestTracker(t, failingCounter{}, fake)
	ctx := context.Background()

	_, err := tr.IncrementIfAvailable(ctx, "erin@example.com")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrQuotaExceeded)

	_, err = tr.Remaining(ctx, "erin@example.com")
	assert.Error(t, err)
	assert.Error(t, tr.AdminReset(ctx, "erin@example.com", "admin@example.com"))

	assert.Equal(t, 3, rec.count(audit.PersistenceError))

	_, err = tr.DailyTotals(ctx)
	assert.ErrorIs(t, err, ErrTotalsUnsupported)
}

func TestNewTracker_Validation(t *testing.T) {
	_, err := NewTracker(nil, 5)
	assert.Error(t, err)
	_, err = NewTracker(NewMemoryCounter(), 0)
	assert.Error(t, err)
}
