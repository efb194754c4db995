// ABOUTME: Rate-limit bucket persistence with a single-statement fixed-window upsert
// ABOUTME: Implements ratelimit.BucketStore and ratelimit.Pruner

package store

import (
	"context"
	"time"

	"github.com/benedictkwok/cover-letter-assistant/internal/ratelimit"
)

// hitBucketQuery starts a new window when none exists or the current one
// has ended, otherwise counts one more attempt. SET expressions see the
// row as it was before the update.
const hitBucketQuery = `
	INSERT INTO rate_buckets (action, identifier, window_start_ns, count)
	VALUES (?1, ?2, ?3, 1)
	ON CONFLICT (action, identifier) DO UPDATE SET
		window_start_ns = CASE
			WHEN ?3 >= rate_buckets.window_start_ns + ?4 THEN ?3
			ELSE rate_buckets.window_start_ns
		END,
		count = CASE
			WHEN ?3 >= rate_buckets.window_start_ns + ?4 THEN 1
			ELSE rate_buckets.count + 1
		END
	RETURNING window_start_ns, count
`

// Hit implements ratelimit.BucketStore.
func (s *SQLiteStore) Hit(ctx context.Context, key ratelimit.Key, rule ratelimit.Rule, now time.Time) (ratelimit.Bucket, error) {
	var startNS int64
	var count int
	err := s.db.QueryRowContext(ctx, hitBucketQuery,
		key.Action,
		key.Identifier,
		now.UnixNano(),
		rule.Window.Nanoseconds(),
	).Scan(&startNS, &count)
	if err != nil {
		return ratelimit.Bucket{}, persistErr("hit rate bucket", err)
	}
	return ratelimit.Bucket{WindowStart: time.Unix(0, startNS).UTC(), Count: count}, nil
}

// Prune implements ratelimit.Pruner.
func (s *SQLiteStore) Prune(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM rate_buckets WHERE window_start_ns < ?`, before.UnixNano())
	if err != nil {
		return 0, persistErr("prune rate buckets", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("prune rate buckets", err)
	}
	if n > 0 {
		s.logger.Debug("pruned rate buckets", "count", n)
	}
	return int(n), nil
}
