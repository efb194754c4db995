// ABOUTME: Tests for audit event persistence
// ABOUTME: Covers batch append, filtered listing, ordering, statistics, and use as a logger sink

package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benedictkwok/cover-letter-assistant/internal/audit"
)

func seedEvents(t *testing.T, s *SQLiteStore) {
	t.Helper()
	events := []audit.Event{
		{ID: "01", Timestamp: base, Type: audit.LoginSucceeded, Identity: "alice@example.com", Outcome: audit.OutcomeAllowed},
		{ID: "02", Timestamp: base.Add(time.Minute), Type: audit.NotInvited, Identity: "mallory@example.com", Outcome: audit.OutcomeDenied},
		{ID: "03", Timestamp: base.Add(2 * time.Minute), Type: audit.LoginFailed, Identity: "unknown", Outcome: audit.OutcomeDenied, Detail: map[string]any{"reason": "invalid_format"}},
		{ID: "04", Timestamp: base.Add(3 * time.Minute), Type: audit.RateLimited, Identity: "alice@example.com", Outcome: audit.OutcomeDenied, Detail: map[string]any{"action": "auth", "count": 6}},
		{ID: "05", Timestamp: base.Add(4 * time.Minute), Type: audit.FileSubmitted, Identity: "alice@example.com", Outcome: audit.OutcomeAllowed, Detail: map[string]any{"extension": ".pdf"}},
	}
	require.NoError(t, s.WriteEvents(context.Background(), events))
}

func TestListAuditEvents_NewestFirst(t *testing.T) {
	s := setupTestStore(t)
	seedEvents(t, s)

	events, err := s.ListAuditEvents(context.Background(), AuditFilter{})
	require.NoError(t, err)
	require.Len(t, events, 5)
	assert.Equal(t, "05", events[0].ID)
	assert.Equal(t, "01", events[4].ID)

	rl := events[1]
	assert.Equal(t, audit.RateLimited, rl.Type)
	assert.True(t, rl.Timestamp.Equal(base.Add(3*time.Minute)))
	assert.Equal(t, "auth", rl.Detail["action"])
	assert.Equal(t, float64(6), rl.Detail["count"], "numbers come back as JSON numbers")
	assert.Nil(t, events[4].Detail)
}

func TestListAuditEvents_Filters(t *testing.T) {
	s := setupTestStore(t)
	seedEvents(t, s)
	ctx := context.Background()

	alice := "alice@example.com"
	denied := audit.OutcomeDenied
	rateLimited := audit.RateLimited
	since := base.Add(2 * time.Minute)
	until := base.Add(3 * time.Minute)

	tests := []struct {
		name    string
		filter  AuditFilter
		wantIDs []string
	}{
		{name: "identity", filter: AuditFilter{Identity: &alice}, wantIDs: []string{"05", "04", "01"}},
		{name: "outcome", filter: AuditFilter{Outcome: &denied}, wantIDs: []string{"04", "03", "02"}},
		{name: "type", filter: AuditFilter{Type: &rateLimited}, wantIDs: []string{"04"}},
		{name: "time range", filter: AuditFilter{Since: &since, Until: &until}, wantIDs: []string{"04", "03"}},
		{name: "limit", filter: AuditFilter{Limit: 2}, wantIDs: []string{"05", "04"}},
		{name: "combined", filter: AuditFilter{Identity: &alice, Outcome: &denied}, wantIDs: []string{"04"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			events, err := s.ListAuditEvents(ctx, tt.filter)
			require.NoError(t, err)
			ids := make([]string, len(events))
			for i, e := range events {
				ids[i] = e.ID
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestListAuditEvents_Empty(t *testing.T) {
	s := setupTestStore(t)
	events, err := s.ListAuditEvents(context.Background(), AuditFilter{})
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func TestNormalizeAuditLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeAuditLimit(0))
	assert.Equal(t, 100, normalizeAuditLimit(-3))
	assert.Equal(t, 50, normalizeAuditLimit(50))
	assert.Equal(t, 1000, normalizeAuditLimit(5000))
}

func TestAuditStats(t *testing.T) {
	s := setupTestStore(t)
	seedEvents(t, s)
	ctx := context.Background()

	stats, err := s.AuditStats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SuccessfulLogins)
	assert.Equal(t, 2, stats.FailedLogins)
	assert.Equal(t, 3, stats.TotalAuthAttempts)
	assert.Equal(t, 1, stats.FileSubmissions)
	assert.Equal(t, 1, stats.RateLimitViolations)
	assert.Equal(t, 2, stats.UniqueIdentities, "unknown is not an identity")
	assert.Equal(t, 1, stats.ByType[audit.NotInvited])

	stats, err = s.AuditStats(ctx, base.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalAuthAttempts)
	assert.Equal(t, 1, stats.RateLimitViolations)
	assert.Equal(t, 1, stats.UniqueIdentities)
}

func TestWriteEvents_AsLoggerSink(t *testing.T) {
	s := setupTestStore(t)
	l := audit.NewLogger(s, audit.WithBatchSize(8))
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		l.Record(ctx, audit.Event{
			Type:     audit.QuotaConsumed,
			Identity: "alice@example.com",
			Detail:   map[string]any{"used": i},
		})
	}
	require.NoError(t, l.Close(ctx))

	events, err := s.ListAuditEvents(ctx, AuditFilter{Limit: 100})
	require.NoError(t, err)
	require.Len(t, events, 20)

	// ULIDs follow record order, so newest-first puts the last record on top.
	assert.Equal(t, float64(19), events[0].Detail["used"])
	for i := 1; i < len(events); i++ {
		assert.Greater(t, events[i-1].ID, events[i].ID)
	}
}

func TestWriteEvents_Failures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := NewSQLiteStoreFromDB(db)
	ctx := context.Background()
	batch := []audit.Event{{ID: "x", Timestamp: base, Type: audit.LoginSucceeded, Identity: "a", Outcome: audit.OutcomeAllowed}}

	mock.ExpectBegin().WillReturnError(errors.New("database is locked"))
	assert.ErrorIs(t, s.WriteEvents(ctx, batch), ErrPersistence)

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO audit_events").
		ExpectExec().WillReturnError(fmt.Errorf("constraint failed"))
	mock.ExpectRollback()
	assert.ErrorIs(t, s.WriteEvents(ctx, batch), ErrPersistence)

	assert.NoError(t, s.WriteEvents(ctx, nil), "empty batch does not touch the database")
	require.NoError(t, mock.ExpectationsWereMet())
}
