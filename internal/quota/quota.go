// ABOUTME: Daily usage quota per identity with lazy rollover at the reference-zone midnight
// ABOUTME: Increments are check-and-add in one step; admin resets are audited

package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/benedictkwok/cover-letter-assistant/internal/audit"
	"github.com/benedictkwok/cover-letter-assistant/internal/clock"
	"github.com/benedictkwok/cover-letter-assistant/internal/identity"
	"github.com/benedictkwok/cover-letter-assistant/internal/metrics"
)

// DayLayout formats the quota day key.
const DayLayout = "2006-01-02"

// ErrQuotaExceeded is returned when the daily cap has been reached.
var ErrQuotaExceeded = errors.New("daily quota exceeded")

// ErrTotalsUnsupported is returned by DailyTotals for counters that cannot aggregate.
var ErrTotalsUnsupported = errors.New("daily totals not supported by counter")

// Counter stores one (day, count) pair per storage key. A stored day that
// differs from the requested day counts as zero.
type Counter interface {
	// IncrementIfBelow adds one to key's count for day when it is below
	// limit, as one indivisible step. It returns the resulting count and
	// whether the increment happened.
	IncrementIfBelow(ctx context.Context, key, day string, limit int) (int, bool, error)
	// Get returns key's count for day.
	Get(ctx context.Context, key, day string) (int, error)
	// Reset sets key's count for day to zero.
	Reset(ctx context.Context, key, day string) error
}

// Totals summarizes one day of usage across identities.
type Totals struct {
	Day        string
	Actions    int
	Identities int
}

// TotalsCounter is implemented by counters that can aggregate a day.
type TotalsCounter interface {
	DailyTotals(ctx context.Context, day string) (Totals, error)
}

// Status describes one identity's quota for the current day.
type Status struct {
	Used      int
	Remaining int
	Limit     int
	Day       string
	ResetAt   time.Time
}

// Tracker enforces the daily cap.
type Tracker struct {
	counter  Counter
	limit    int
	loc      *time.Location
	clock    clock.Clock
	recorder audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithLocation sets the reference time zone. The default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(t *Tracker) {
		if loc != nil {
			t.loc = loc
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(t *Tracker) { t.clock = clock.OrSystem(c) }
}

// WithRecorder sets where quota events are audited.
func WithRecorder(r audit.Recorder) Option {
	return func(t *Tracker) { t.recorder = audit.OrDiscard(r) }
}

// WithMetrics counts decisions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Tracker) { t.metrics = m }
}

// NewTracker creates a Tracker allowing limit actions per identity per day.
func NewTracker(counter Counter, limit int, opts ...Option) (*Tracker, error) {
	if counter == nil {
		return nil, errors.New("quota: counter is required")
	}
	if limit < 1 {
		return nil, fmt.Errorf("quota: daily limit must be at least 1, got %d", limit)
	}
	t := &Tracker{
		counter:  counter,
		limit:    limit,
		loc:      time.UTC,
		clock:    clock.System{},
		recorder: audit.Discard{},
		logger:   slog.Default().With("component", "quota"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Limit returns the daily cap.
func (t *Tracker) Limit() int { return t.limit }

// Day returns the quota day containing now.
func (t *Tracker) Day(now time.Time) string {
	return now.In(t.loc).Format(DayLayout)
}

// NextReset returns the first instant of the day after the one containing now.
func (t *Tracker) NextReset(now time.Time) time.Time {
	y, m, d := now.In(t.loc).Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.loc)
}

// Remaining returns how many actions the identity has left today.
func (t *Tracker) Remaining(ctx context.Context, raw string) (int, error) {
	st, err := t.Status(ctx, raw)
	if err != nil {
		return 0, err
	}
	return st.Remaining, nil
}

// Status reports the identity's usage for today.
func (t *Tracker) Status(ctx context.Context, raw string) (Status, error) {
	now := t.clock.Now()
	day := t.Day(now)
	used, err := t.counter.Get(ctx, identity.StorageKey(raw), day)
	if err != nil {
		t.persistenceFailed(ctx, raw, "status", err)
		return Status{}, fmt.Errorf("reading quota: %w", err)
	}
	return t.status(used, day, now), nil
}

// IncrementIfAvailable consumes one unit of today's quota. At the cap it
// returns ErrQuotaExceeded without consuming anything. A backend failure
// denies the action.
func (t *Tracker) IncrementIfAvailable(ctx context.Context, raw string) (Status, error) {
	now := t.clock.Now()
	day := t.Day(now)
	key := identity.Normalize(raw)

	count, ok, err := t.counter.IncrementIfBelow(ctx, identity.StorageKey(raw), day, t.limit)
	if err != nil {
		t.metrics.ObserveDecision("quota", "consume", metrics.OutcomeError)
		t.persistenceFailed(ctx, raw, "increment", err)
		return Status{Limit: t.limit, Day: day}, fmt.Errorf("incrementing quota: %w", err)
	}

	st := t.status(count, day, now)
	if !ok {
		t.metrics.ObserveDecision("quota", "consume", metrics.OutcomeDenied)
		t.recorder.Record(ctx, audit.Event{
			Type:     audit.QuotaExceeded,
			Identity: key,
			Outcome:  audit.OutcomeDenied,
			Detail:   map[string]any{"used": st.Used, "limit": st.Limit, "day": day},
		})
		return st, ErrQuotaExceeded
	}

	t.metrics.ObserveDecision("quota", "consume", metrics.OutcomeAllowed)
	t.recorder.Record(ctx, audit.Event{
		Type:     audit.QuotaConsumed,
		Identity: key,
		Outcome:  audit.OutcomeAllowed,
		Detail:   map[string]any{"used": st.Used, "remaining": st.Remaining, "day": day},
	})
	return st, nil
}

// AdminReset zeroes the identity's count for today regardless of the cap.
// actor names the administrator and is recorded in the audit trail.
func (t *Tracker) AdminReset(ctx context.Context, raw, actor string) error {
	now := t.clock.Now()
	day := t.Day(now)
	key := identity.Normalize(raw)

	if err := t.counter.Reset(ctx, identity.StorageKey(raw), day); err != nil {
		t.persistenceFailed(ctx, raw, "reset", err)
		return fmt.Errorf("resetting quota: %w", err)
	}

	t.logger.Info("quota reset", "identity", key, "actor", actor, "day", day)
	t.recorder.Record(ctx, audit.Event{
		Type:     audit.QuotaReset,
		Identity: key,
		Outcome:  audit.OutcomeAllowed,
		Detail:   map[string]any{"actor": identity.OrUnknown(identity.Normalize(actor)), "day": day},
	})
	return nil
}

// DailyTotals aggregates today's usage when the counter supports it.
func (t *Tracker) DailyTotals(ctx context.Context) (Totals, error) {
	tc, ok := t.counter.(TotalsCounter)
	if !ok {
		return Totals{}, ErrTotalsUnsupported
	}
	day := t.Day(t.clock.Now())
	totals, err := tc.DailyTotals(ctx, day)
	if err != nil {
		return Totals{}, fmt.Errorf("aggregating usage for %s: %w", day, err)
	}
	return totals, nil
}

func (t *Tracker) status(used int, day string, now time.Time) Status {
	return Status{
		Used:      used,
		Remaining: max(t.limit-used, 0),
		Limit:     t.limit,
		Day:       day,
		ResetAt:   t.NextReset(now),
	}
}

func (t *Tracker) persistenceFailed(ctx context.Context, raw, op string, err error) {
	t.logger.Error("quota backend failed", "op", op, "error", err)
	t.recorder.Record(ctx, audit.Event{
		Type:     audit.PersistenceError,
		Identity: identity.Normalize(raw),
		Outcome:  audit.OutcomeError,
		Detail:   map[string]any{"component": "quota", "op": op},
	})
}
