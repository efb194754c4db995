// ABOUTME: Audit sinks: in-memory, JSON-lines file, and fan-out
// ABOUTME: A sink receives batches from the single audit writer goroutine

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Sink persists batches of audit events. The batch slice is reused after
// WriteEvents returns, so implementations must copy what they keep.
type Sink interface {
	WriteEvents(ctx context.Context, events []Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, events []Event) error

// WriteEvents calls f.
func (f SinkFunc) WriteEvents(ctx context.Context, events []Event) error {
	return f(ctx, events)
}

// MemorySink keeps events in memory. It is used by tests and by
// deployments that have no durable store configured.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// WriteEvents appends the batch, or returns the injected failure.
func (m *MemorySink) WriteEvents(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.events = append(m.events, events...)
	return nil
}

// SetError makes subsequent writes fail with err until cleared with nil.
func (m *MemorySink) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Events returns a copy of everything written so far, in write order.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Count returns how many events of type t were written.
func (m *MemorySink) Count(t EventType) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

// FileSink appends events to a file as JSON lines.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// NewFileSink opens (or creates) path for appending.
// Parent directories are created if needed.
func NewFileSink(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	return &FileSink{f: f, path: path}, nil
}

// WriteEvents encodes each event on its own line and syncs the file.
func (s *FileSink) WriteEvents(_ context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	enc := json.NewEncoder(s.f)
	for _, e := range events {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("writing audit event %s: %w", e.ID, err)
		}
	}
	if err := s.f.Sync(); err != nil {
		return fmt.Errorf("syncing audit log: %w", err)
	}
	return nil
}

// Path returns the file being written.
func (s *FileSink) Path() string { return s.path }

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}

// MultiSink writes every batch to each sink in order. All sinks are
// attempted; their failures are joined.
type MultiSink []Sink

// WriteEvents fans the batch out.
func (ms MultiSink) WriteEvents(ctx context.Context, events []Event) error {
	var errs []error
	for _, s := range ms {
		if err := s.WriteEvents(ctx, events); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
