// ABOUTME: Audit event model and detail sanitization
// ABOUTME: Details carry categorical or numeric values only, never free text

package audit

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"
)

// EventType names a security-relevant occurrence.
type EventType string

const (
	LoginSucceeded   EventType = "login_succeeded"
	LoginFailed      EventType = "login_failed"
	NotInvited       EventType = "not_invited"
	RateLimited      EventType = "rate_limited"
	SessionIssued    EventType = "session_issued"
	SessionValidated EventType = "session_validated"
	SessionRejected  EventType = "session_rejected"
	SessionRevoked   EventType = "session_revoked"
	QuotaConsumed    EventType = "quota_consumed"
	QuotaExceeded    EventType = "quota_exceeded"
	QuotaReset       EventType = "quota_reset"
	FileSubmitted    EventType = "file_submitted"
	FileRejected     EventType = "file_rejected"
	ConfigReloaded   EventType = "config_reloaded"
	ConfigRejected   EventType = "config_rejected"
	PersistenceError EventType = "persistence_error"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	LoginSucceeded,
	LoginFailed,
	NotInvited,
	RateLimited,
	SessionIssued,
	SessionValidated,
	SessionRejected,
	SessionRevoked,
	QuotaConsumed,
	QuotaExceeded,
	QuotaReset,
	FileSubmitted,
	FileRejected,
	ConfigReloaded,
	ConfigRejected,
	PersistenceError,
}

// Outcome is the decision attached to an event.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeError   Outcome = "error"
)

// MaxDetailString is the longest string value (in runes) kept in Detail.
const MaxDetailString = 64

// Event is one entry of the audit trail.
type Event struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      EventType      `json:"event_type"`
	Identity  string         `json:"identity"`
	Outcome   Outcome        `json:"outcome"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Recorder accepts audit events. Implementations must not block on I/O
// and never report failures to the caller.
type Recorder interface {
	Record(ctx context.Context, e Event)
}

// Discard is a Recorder that drops every event.
type Discard struct{}

// Record does nothing.
func (Discard) Record(context.Context, Event) {}

// OrDiscard returns r, or Discard when r is nil.
func OrDiscard(r Recorder) Recorder {
	if r == nil {
		return Discard{}
	}
	return r
}

// SanitizeDetail returns a copy of d holding only booleans, numbers and
// short strings. Longer strings are replaced with a length marker and any
// other value with its type name.
func SanitizeDetail(d map[string]any) map[string]any {
	if len(d) == 0 {
		return nil
	}
	out := make(map[string]any, len(d))
	for k, v := range d {
		out[k] = sanitizeValue(v)
	}
	return out
}

func sanitizeValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case bool, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return x
	case time.Duration:
		return x.String()
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case string:
		if n := utf8.RuneCountInString(x); n > MaxDetailString {
			return fmt.Sprintf("[redacted:%d chars]", n)
		}
		return x
	default:
		return fmt.Sprintf("[omitted:%T]", v)
	}
}
