// ABOUTME: Asynchronous audit logger with a single writer goroutine
// ABOUTME: Record never blocks on I/O; overflow and sink failures go to the fallback log

package audit

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/time/rate"

	"github.com/benedictkwok/cover-letter-assistant/internal/clock"
	"github.com/benedictkwok/cover-letter-assistant/internal/identity"
	"github.com/benedictkwok/cover-letter-assistant/internal/metrics"
)

const (
	defaultBufferSize   = 1024
	defaultBatchSize    = 64
	defaultWriteTimeout = 5 * time.Second
)

// Fallback reasons reported to metrics and the fallback log.
const (
	reasonQueueFull = "queue_full"
	reasonSinkError = "sink_error"
	reasonClosed    = "closed"
)

// request is either an event or, when flushed is set, a flush marker.
type request struct {
	event   Event
	flushed chan struct{}
}

// Logger is the asynchronous Recorder. Events recorded by one goroutine
// reach the sink in the order they were recorded.
type Logger struct {
	sink      Sink
	clock     clock.Clock
	fallback  *slog.Logger
	metrics   *metrics.Metrics
	batchSize int
	timeout   time.Duration

	queue chan request
	done  chan struct{}

	// mu guards closed and every send on queue.
	mu     sync.RWMutex
	closed bool

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	warn rate.Sometimes
}

// Option configures a Logger.
type Option func(*Logger)

// WithBufferSize sets how many events may wait for the writer.
func WithBufferSize(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.queue = make(chan request, n)
		}
	}
}

// WithBatchSize caps how many events are handed to the sink at once.
func WithBatchSize(n int) Option {
	return func(l *Logger) {
		if n > 0 {
			l.batchSize = n
		}
	}
}

// WithClock sets the time source used to stamp events.
func WithClock(c clock.Clock) Option {
	return func(l *Logger) { l.clock = clock.OrSystem(c) }
}

// WithFallback sets the logger that receives events the sink could not take.
func WithFallback(logger *slog.Logger) Option {
	return func(l *Logger) {
		if logger != nil {
			l.fallback = logger
		}
	}
}

// WithMetrics reports accepted and diverted events.
func WithMetrics(m *metrics.Metrics) Option {
	return func(l *Logger) { l.metrics = m }
}

// NewLogger starts a Logger writing to sink.
func NewLogger(sink Sink, opts ...Option) *Logger {
	l := &Logger{
		sink:      sink,
		clock:     clock.System{},
		fallback:  slog.Default().With("component", "audit"),
		batchSize: defaultBatchSize,
		timeout:   defaultWriteTimeout,
		queue:     make(chan request, defaultBufferSize),
		done:      make(chan struct{}),
		entropy:   ulid.Monotonic(rand.Reader, 0),
		warn:      rate.Sometimes{First: 1, Interval: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	go l.run()
	return l
}

// Record stamps, sanitizes and enqueues e. It never blocks on the sink.
func (l *Logger) Record(ctx context.Context, e Event) {
	e = l.prepare(e)

	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		l.divert(ctx, e, reasonClosed)
		return
	}

	select {
	case l.queue <- request{event: e}:
		l.metrics.ObserveAuditEvent(string(e.Type), string(e.Outcome))
		l.metrics.SetAuditQueueDepth(len(l.queue))
	default:
		l.divert(ctx, e, reasonQueueFull)
	}
}

// Flush waits until every event recorded before the call has been handed
// to the sink (or diverted to the fallback log).
func (l *Logger) Flush(ctx context.Context) error {
	marker := make(chan struct{})

	l.mu.RLock()
	if l.closed {
		l.mu.RUnlock()
		return nil
	}
	select {
	case l.queue <- request{flushed: marker}:
	case <-ctx.Done():
		l.mu.RUnlock()
		return ctx.Err()
	}
	l.mu.RUnlock()

	select {
	case <-marker:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close drains the queue and stops the writer. Events recorded after Close
// go to the fallback log. It is safe to call multiple times.
func (l *Logger) Close(ctx context.Context) error {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.queue)
	}
	l.mu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) prepare(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.clock.Now()
	}
	e.Timestamp = e.Timestamp.UTC()
	if e.ID == "" {
		e.ID = l.newID(e.Timestamp)
	}
	if e.Outcome == "" {
		e.Outcome = OutcomeAllowed
	}
	e.Identity = identity.OrUnknown(e.Identity)
	e.Detail = SanitizeDetail(e.Detail)
	return e
}

func (l *Logger) newID(ts time.Time) string {
	l.entropyMu.Lock()
	defer l.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(ts), l.entropy).String()
}

func (l *Logger) run() {
	defer close(l.done)

	batch := make([]Event, 0, l.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		l.write(batch)
		batch = batch[:0]
	}

	for req := range l.queue {
		if req.flushed != nil {
			flush()
			close(req.flushed)
			continue
		}
		batch = append(batch, req.event)
		if len(batch) >= l.batchSize || len(l.queue) == 0 {
			flush()
		}
	}
	flush()
}

func (l *Logger) write(batch []Event) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	err := l.writeSink(ctx, batch)
	l.metrics.SetAuditQueueDepth(len(l.queue))
	if err == nil {
		return
	}

	l.warn.Do(func() {
		l.fallback.Warn("audit sink write failed", "error", err, "events", len(batch))
	})
	for _, e := range batch {
		l.divert(ctx, e, reasonSinkError)
	}
}

// writeSink hands batch to the sink. A panicking sink is reported as an
// error so the writer goroutine keeps running.
func (l *Logger) writeSink(ctx context.Context, batch []Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("audit sink panic: %v", r)
		}
	}()
	return l.sink.WriteEvents(ctx, batch)
}

// divert writes e to the fallback logger.
func (l *Logger) divert(ctx context.Context, e Event, reason string) {
	l.metrics.ObserveAuditFallback(reason)
	l.fallback.LogAttrs(ctx, slog.LevelWarn, "audit event",
		slog.String("reason", reason),
		slog.String("id", e.ID),
		slog.Time("timestamp", e.Timestamp),
		slog.String("event_type", string(e.Type)),
		slog.String("identity", e.Identity),
		slog.String("outcome", string(e.Outcome)),
		slog.Any("detail", e.Detail),
	)
}
