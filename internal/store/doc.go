// Package store provides durable storage for the gate using SQLite.
//
// # Tables
//
//   - audit_events: the append-only audit trail (audit.Sink)
//   - rate_buckets: one fixed-window bucket per (action, identifier) (ratelimit.BucketStore)
//   - daily_usage: one (day, count) row per identity storage key (quota.Counter)
//
// # Atomicity
//
// The database is opened with a single connection. Bucket hits and quota
// increments are each one INSERT ... ON CONFLICT DO UPDATE ... RETURNING
// statement, so the read-check-write for a key can never interleave with
// another caller's.
//
// # Rollover
//
// Nothing is swept on a timer. A bucket whose window has ended, or a usage
// row for an earlier day, is treated as fresh the next time it is touched,
// which also covers state left behind by a restart.
//
// # Errors
//
// Every database failure is returned as *PersistenceError (matching
// ErrPersistence), and callers deny the request rather than guess.
package store
