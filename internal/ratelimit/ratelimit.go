// ABOUTME: Fixed-window rate limiter keyed by (action, identifier)
// ABOUTME: Backends perform the window check and increment as one indivisible step

package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/benedictkwok/cover-letter-assistant/internal/audit"
	"github.com/benedictkwok/cover-letter-assistant/internal/clock"
	"github.com/benedictkwok/cover-letter-assistant/internal/config"
	"github.com/benedictkwok/cover-letter-assistant/internal/metrics"
)

// Errors returned by Check.
var (
	ErrRateLimited   = errors.New("rate limited")
	ErrUnknownAction = errors.New("unknown rate limit action")
)

// LimitError reports a denied attempt and when the caller may retry.
// It matches ErrRateLimited with errors.Is.
type LimitError struct {
	Action     string
	Identifier string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("rate limited: %s: retry after %s", e.Action, e.RetryAfter.Round(time.Second))
}

// Is reports whether target is ErrRateLimited.
func (e *LimitError) Is(target error) bool { return target == ErrRateLimited }

// Rule is the cap and window length for one action.
type Rule struct {
	Cap    int
	Window time.Duration
}

// Key identifies one bucket.
type Key struct {
	Action     string
	Identifier string
}

// Bucket is the throttle state for one key.
type Bucket struct {
	WindowStart time.Time
	Count       int
}

// Advance applies one attempt made at now to prev. A new window starts when
// there is no bucket yet or now has reached the end of the current window.
func Advance(prev Bucket, exists bool, rule Rule, now time.Time) Bucket {
	if !exists || !now.Before(prev.WindowStart.Add(rule.Window)) {
		return Bucket{WindowStart: now, Count: 1}
	}
	prev.Count++
	return prev
}

// BucketStore records attempts. Hit must apply Advance and persist the
// result as one indivisible step per key.
type BucketStore interface {
	Hit(ctx context.Context, key Key, rule Rule, now time.Time) (Bucket, error)
}

// Pruner is implemented by stores that can drop buckets whose window
// started before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int, error)
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Count      int
	Limit      int
	Remaining  int
	RetryAfter time.Duration
	ResetAt    time.Time
}

// Limiter applies per-action rules on top of a BucketStore.
type Limiter struct {
	store    BucketStore
	rules    map[string]Rule
	clock    clock.Clock
	recorder audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(l *Limiter) { l.clock = clock.OrSystem(c) }
}

// WithRecorder sets where denials and backend failures are audited.
func WithRecorder(r audit.Recorder) Option {
	return func(l *Limiter) { l.recorder = audit.OrDiscard(r) }
}

// WithMetrics counts decisions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// New creates a Limiter. Every rule needs a positive cap and window.
func New(store BucketStore, rules map[string]Rule, opts ...Option) (*Limiter, error) {
	if store == nil {
		return nil, errors.New("ratelimit: bucket store is required")
	}
	copied := make(map[string]Rule, len(rules))
	for action, rule := range rules {
		if rule.Cap < 1 {
			return nil, config.Errorf("rate_limits."+action+".cap", "must be at least 1")
		}
		if rule.Window <= 0 {
			return nil, config.Errorf("rate_limits."+action+".window", "must be positive")
		}
		copied[action] = rule
	}

	l := &Limiter{
		store:    store,
		rules:    copied,
		clock:    clock.System{},
		recorder: audit.Discard{},
		logger:   slog.Default().With("component", "ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// RulesFromConfig converts the configured limits.
func RulesFromConfig(limits map[string]config.RateLimitConfig) map[string]Rule {
	rules := make(map[string]Rule, len(limits))
	for action, rl := range limits {
		rules[action] = Rule{Cap: rl.Cap, Window: rl.Window}
	}
	return rules
}

// Rule returns the rule for action.
func (l *Limiter) Rule(action string) (Rule, bool) {
	r, ok := l.rules[action]
	return r, ok
}

// Actions lists the configured actions in sorted order.
func (l *Limiter) Actions() []string {
	out := make([]string, 0, len(l.rules))
	for a := range l.rules {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// Check records one attempt for (action, identifier) and decides it.
// A denied attempt returns the Decision together with a *LimitError.
// A backend failure denies the attempt and returns the backend error.
func (l *Limiter) Check(ctx context.Context, action, identifier string) (Decision, error) {
	rule, ok := l.rules[action]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}

	now := l.clock.Now()
	b, err := l.store.Hit(ctx, Key{Action: action, Identifier: identifier}, rule, now)
	if err != nil {
		l.metrics.ObserveDecision("ratelimit", action, metrics.OutcomeError)
		l.logger.Error("rate limit backend failed", "action", action, "error", err)
		l.recorder.Record(ctx, audit.Event{
			Type:     audit.PersistenceError,
			Identity: identifier,
			Outcome:  audit.OutcomeError,
			Detail:   map[string]any{"component": "ratelimit", "action": action},
		})
		return Decision{Limit: rule.Cap}, fmt.Errorf("checking rate limit for %s: %w", action, err)
	}

	resetAt := b.WindowStart.Add(rule.Window)
	d := Decision{
		Allowed:   b.Count <= rule.Cap,
		Count:     b.Count,
		Limit:     rule.Cap,
		Remaining: max(rule.Cap-b.Count, 0),
		ResetAt:   resetAt,
	}
	if d.Allowed {
		l.metrics.ObserveDecision("ratelimit", action, metrics.OutcomeAllowed)
		return d, nil
	}

	d.RetryAfter = resetAt.Sub(now)
	l.metrics.ObserveDecision("ratelimit", action, metrics.OutcomeDenied)
	l.recorder.Record(ctx, audit.Event{
		Type:     audit.RateLimited,
		Identity: identifier,
		Outcome:  audit.OutcomeDenied,
		Detail: map[string]any{
			"action":              action,
			"count":               b.Count,
			"limit":               rule.Cap,
			"retry_after_seconds": int(d.RetryAfter.Round(time.Second) / time.Second),
		},
	})
	return d, &LimitError{Action: action, Identifier: identifier, RetryAfter: d.RetryAfter}
}

// Prune drops buckets whose window has ended for every configured rule.
// Stores that cannot prune report zero.
func (l *Limiter) Prune(ctx context.Context) (int, error) {
	p, ok := l.store.(Pruner)
	if !ok {
		return 0, nil
	}
	var longest time.Duration
	for _, r := range l.rules {
		longest = max(longest, r.Window)
	}
	return p.Prune(ctx, l.clock.Now().Add(-longest))
}
