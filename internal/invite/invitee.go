// ABOUTME: Invited identity model and sentinel errors for the invitation list
// ABOUTME: Status and access level mirror the invited_users file fields

package invite

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotInvited is returned when an identity is not on the invitation list.
var ErrNotInvited = errors.New("identity not invited")

// DateLayout is the format of invited_date values.
const DateLayout = "2006-01-02"

// Status is the lifecycle state of an invitation.
type Status string

const (
	StatusActive  Status = "active"
	StatusRevoked Status = "revoked"
)

// AccessLevel distinguishes administrators from regular users.
type AccessLevel string

const (
	AccessUser  AccessLevel = "user"
	AccessAdmin AccessLevel = "admin"
)

// Invitee is an approved principal.
type Invitee struct {
	Key         string // normalized identity key
	Name        string
	Status      Status
	AccessLevel AccessLevel
	InvitedAt   time.Time
	Notes       string
}

// Active reports whether the invitation is currently usable.
func (i Invitee) Active() bool { return i.Status == StatusActive }

// IsAdmin reports whether the invitee has administrative access.
func (i Invitee) IsAdmin() bool { return i.AccessLevel == AccessAdmin }

func parseStatus(s string) (Status, error) {
	switch Status(s) {
	case "":
		return StatusActive, nil
	case StatusActive, StatusRevoked:
		return Status(s), nil
	default:
		return "", fmt.Errorf("unknown status %q", s)
	}
}

func parseAccessLevel(s string) (AccessLevel, error) {
	switch AccessLevel(s) {
	case "":
		return AccessUser, nil
	case AccessUser, AccessAdmin:
		return AccessLevel(s), nil
	default:
		return "", fmt.Errorf("unknown access level %q", s)
	}
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid invited_date %q: %w", s, err)
	}
	return t, nil
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DateLayout)
}
