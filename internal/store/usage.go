// ABOUTME: Daily usage persistence keyed by per-identity storage key
// ABOUTME: Implements quota.Counter and quota.TotalsCounter with lazy day rollover

package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/benedictkwok/cover-letter-assistant/internal/quota"
)

// incrementUsageQuery inserts a first use, or bumps the row when it is for
// a past day or still below the cap. When the WHERE clause rejects the
// update no row is returned and the caller is at the cap.
const incrementUsageQuery = `
	INSERT INTO daily_usage (storage_key, day, count, updated_at)
	VALUES (?1, ?2, 1, ?4)
	ON CONFLICT (storage_key) DO UPDATE SET
		count = CASE WHEN daily_usage.day <> ?2 THEN 1 ELSE daily_usage.count + 1 END,
		day = ?2,
		updated_at = ?4
	WHERE daily_usage.day <> ?2 OR daily_usage.count < ?3
	RETURNING count
`

// IncrementIfBelow implements quota.Counter.
func (s *SQLiteStore) IncrementIfBelow(ctx context.Context, key, day string, limit int) (int, bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, incrementUsageQuery,
		key, day, limit, formatTS(time.Now()),
	).Scan(&count)
	switch {
	case err == nil:
		return count, true, nil
	case errors.Is(err, sql.ErrNoRows):
		current, err := s.Get(ctx, key, day)
		if err != nil {
			return 0, false, err
		}
		return current, false, nil
	default:
		return 0, false, persistErr("increment daily usage", err)
	}
}

// Get implements quota.Counter.
func (s *SQLiteStore) Get(ctx context.Context, key, day string) (int, error) {
	var storedDay string
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT day, count FROM daily_usage WHERE storage_key = ?`, key,
	).Scan(&storedDay, &count)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, nil
	case err != nil:
		return 0, persistErr("read daily usage", err)
	case storedDay != day:
		return 0, nil
	default:
		return count, nil
	}
}

// Reset implements quota.Counter.
func (s *SQLiteStore) Reset(ctx context.Context, key, day string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO daily_usage (storage_key, day, count, updated_at)
		VALUES (?1, ?2, 0, ?3)
		ON CONFLICT (storage_key) DO UPDATE SET
			day = ?2,
			count = 0,
			updated_at = ?3
	`, key, day, formatTS(time.Now()))
	return persistErr("reset daily usage", err)
}

// DailyTotals implements quota.TotalsCounter.
func (s *SQLiteStore) DailyTotals(ctx context.Context, day string) (quota.Totals, error) {
	t := quota.Totals{Day: day}
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(count), 0), COUNT(*)
		FROM daily_usage
		WHERE day = ? AND count > 0
	`, day).Scan(&t.Actions, &t.Identities)
	if err != nil {
		return quota.Totals{}, persistErr("aggregate daily usage", err)
	}
	return t, nil
}
