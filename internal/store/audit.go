// ABOUTME: Audit event persistence: batch append, filtered listing and security statistics
// ABOUTME: Implements audit.Sink; events are append-only and never updated

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/benedictkwok/cover-letter-assistant/internal/audit"
	"github.com/benedictkwok/cover-letter-assistant/internal/identity"
)

// tsLayout is fixed-width so timestamps sort lexicographically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// AuditFilter specifies filtering options for listing audit events.
type AuditFilter struct {
	Since    *time.Time       // events at or after this time
	Until    *time.Time       // events at or before this time
	Identity *string          // filter by identity key
	Type     *audit.EventType // filter by event type
	Outcome  *audit.Outcome   // filter by outcome
	Limit    int              // max results (default 100, max 1000)
}

// AuditStats aggregates the audit trail for monitoring.
type AuditStats struct {
	TotalAuthAttempts   int
	SuccessfulLogins    int
	FailedLogins        int
	FileSubmissions     int
	RateLimitViolations int
	UniqueIdentities    int
	ByType              map[audit.EventType]int
}

func formatTS(t time.Time) string { return t.UTC().Format(tsLayout) }

// WriteEvents implements audit.Sink. The batch is written in one transaction.
func (s *SQLiteStore) WriteEvents(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin audit batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_events (id, ts, event_type, identity, outcome, detail_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return persistErr("prepare audit insert", err)
	}
	defer stmt.Close()

	for _, e := range events {
		var detailJSON *string
		if len(e.Detail) > 0 {
			data, err := json.Marshal(e.Detail)
			if err != nil {
				return fmt.Errorf("marshaling audit detail: %w", err)
			}
			str := string(data)
			detailJSON = &str
		}
		if _, err := stmt.ExecContext(ctx,
			e.ID,
			formatTS(e.Timestamp),
			string(e.Type),
			e.Identity,
			string(e.Outcome),
			detailJSON,
		); err != nil {
			return persistErr("insert audit event", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return persistErr("commit audit batch", err)
	}

	s.logger.Debug("appended audit events", "count", len(events))
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// auditQueryArgs holds the nullable string forms of filter fields.
type auditQueryArgs struct {
	sinceStr   *string
	untilStr   *string
	typeStr    *string
	outcomeStr *string
}

// buildAuditQueryArgs converts filter time/enum fields to query args.
func buildAuditQueryArgs(f AuditFilter) auditQueryArgs {
	var args auditQueryArgs
	if f.Since != nil {
		s := formatTS(*f.Since)
		args.sinceStr = &s
	}
	if f.Until != nil {
		s := formatTS(*f.Until)
		args.untilStr = &s
	}
	if f.Type != nil {
		t := string(*f.Type)
		args.typeStr = &t
	}
	if f.Outcome != nil {
		o := string(*f.Outcome)
		args.outcomeStr = &o
	}
	return args
}

// scanAuditEvent scans a row into an audit.Event.
func scanAuditEvent(scanner interface{ Scan(dest ...any) error }) (audit.Event, error) {
	var e audit.Event
	var typeStr, outcomeStr, tsStr string
	var detailJSON sql.NullString

	if err := scanner.Scan(
		&e.ID,
		&tsStr,
		&typeStr,
		&e.Identity,
		&outcomeStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit event: %w", err)
	}

	e.Type = audit.EventType(typeStr)
	e.Outcome = audit.Outcome(outcomeStr)
	var err error
	e.Timestamp, err = time.Parse(tsLayout, tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON.Valid {
		if err := json.Unmarshal([]byte(detailJSON.String), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

const auditEventsQuery = `
	SELECT id, ts, event_type, identity, outcome, detail_json
	FROM audit_events
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR ts <= ?)
	  AND (? IS NULL OR identity = ?)
	  AND (? IS NULL OR event_type = ?)
	  AND (? IS NULL OR outcome = ?)
	ORDER BY ts DESC, id DESC
	LIMIT ?
`

// ListAuditEvents returns audit events matching the filter criteria.
// Results are returned newest first.
func (s *SQLiteStore) ListAuditEvents(ctx context.Context, f AuditFilter) ([]audit.Event, error) {
	limit := normalizeAuditLimit(f.Limit)
	args := buildAuditQueryArgs(f)

	rows, err := s.db.QueryContext(ctx, auditEventsQuery,
		args.sinceStr, args.sinceStr,
		args.untilStr, args.untilStr,
		f.Identity, f.Identity,
		args.typeStr, args.typeStr,
		args.outcomeStr, args.outcomeStr,
		limit,
	)
	if err != nil {
		return nil, persistErr("query audit events", err)
	}
	defer func() { _ = rows.Close() }()

	var events []audit.Event
	for rows.Next() {
		e, err := scanAuditEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate audit events", err)
	}

	if events == nil {
		events = []audit.Event{}
	}
	return events, nil
}

// AuditStats aggregates events recorded at or after since.
// A zero since covers the whole trail.
func (s *SQLiteStore) AuditStats(ctx context.Context, since time.Time) (*AuditStats, error) {
	sinceStr := formatTS(since)
	if since.IsZero() {
		sinceStr = ""
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, COUNT(*)
		FROM audit_events
		WHERE ts >= ?
		GROUP BY event_type
	`, sinceStr)
	if err != nil {
		return nil, persistErr("query audit stats", err)
	}
	defer func() { _ = rows.Close() }()

	stats := &AuditStats{ByType: map[audit.EventType]int{}}
	for rows.Next() {
		var typeStr string
		var n int
		if err := rows.Scan(&typeStr, &n); err != nil {
			return nil, fmt.Errorf("scanning audit stats: %w", err)
		}
		stats.ByType[audit.EventType(typeStr)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("iterate audit stats", err)
	}

	stats.SuccessfulLogins = stats.ByType[audit.LoginSucceeded]
	stats.FailedLogins = stats.ByType[audit.LoginFailed] + stats.ByType[audit.NotInvited]
	stats.TotalAuthAttempts = stats.SuccessfulLogins + stats.FailedLogins
	stats.FileSubmissions = stats.ByType[audit.FileSubmitted]
	stats.RateLimitViolations = stats.ByType[audit.RateLimited]

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT identity)
		FROM audit_events
		WHERE ts >= ? AND identity <> ?
	`, sinceStr, identity.Unknown).Scan(&stats.UniqueIdentities)
	if err != nil {
		return nil, persistErr("count audit identities", err)
	}

	return stats, nil
}
