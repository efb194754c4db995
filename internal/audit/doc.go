// Package audit records security-relevant events in an append-only trail.
//
// Logger is the production Recorder. Record stamps each event with a ULID
// and a timestamp, strips any detail value that is not a boolean, number or
// short string, and hands it to a buffered queue. A single writer goroutine
// drains the queue in batches into a Sink. When the queue is full or the
// sink fails, the event is written to a fallback slog logger instead and
// counted in metrics; the caller never sees an error.
//
// Sinks:
//
//   - store.SQLiteStore (durable, queryable)
//   - FileSink (JSON lines)
//   - MemorySink (tests)
//   - MultiSink (fan-out)
package audit
