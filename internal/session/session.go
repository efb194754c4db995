// ABOUTME: Stateless session credentials signed with HS256 and tied to an invited identity
// ABOUTME: Validation re-checks the invitation list so revocation takes effect immediately

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/benedictkwok/cover-letter-assistant/internal/audit"
	"github.com/benedictkwok/cover-letter-assistant/internal/clock"
	"github.com/benedictkwok/cover-letter-assistant/internal/config"
	"github.com/benedictkwok/cover-letter-assistant/internal/denylist"
	"github.com/benedictkwok/cover-letter-assistant/internal/invite"
	"github.com/benedictkwok/cover-letter-assistant/internal/metrics"
)

// Validation errors
var (
	ErrInvalidCredential = errors.New("invalid credential")
	ErrExpiredCredential = errors.New("credential expired")
	ErrRevokedIdentity   = errors.New("identity revoked")
)

// DefaultLifetime is how long a credential stays valid.
const DefaultLifetime = config.DefaultSessionLifetime

// rejection reasons recorded in the audit trail
const (
	reasonMalformed = "malformed"
	reasonExpired   = "expired"
	reasonLoggedOut = "logged_out"
	reasonRevoked   = "revoked"
	reasonNotActive = "not_active"
)

// Session is an issued credential and what it asserts.
type Session struct {
	Credential string
	Identity   string
	IssuedAt   time.Time
	ExpiresAt  time.Time
	Sequence   uint64
	ID         string
}

// Directory answers whether an identity is still invited.
type Directory interface {
	Lookup(raw string) (invite.Invitee, error)
}

// claims is the signed payload.
type claims struct {
	jwt.RegisteredClaims
	Seq uint64 `json:"seq"`
}

// Manager issues and validates session credentials.
type Manager struct {
	secret    []byte
	lifetime  time.Duration
	directory Directory
	clock     clock.Clock
	seq       atomic.Uint64
	denied    *denylist.List
	recorder  audit.Recorder
	metrics   *metrics.Metrics
	logger    *slog.Logger
	parser    *jwt.Parser
}

// Option configures a Manager.
type Option func(*Manager)

// WithLifetime sets the credential lifetime.
func WithLifetime(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.lifetime = d
		}
	}
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return func(m *Manager) { m.clock = clock.OrSystem(c) }
}

// WithRecorder sets where session outcomes are audited.
func WithRecorder(r audit.Recorder) Option {
	return func(m *Manager) { m.recorder = audit.OrDiscard(r) }
}

// WithMetrics counts validation outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithDenylist sets the list consulted for logged-out credentials.
func WithDenylist(l *denylist.List) Option {
	return func(m *Manager) { m.denied = l }
}

// NewManager creates a Manager. The secret must be at least
// config.MinSecretLength bytes.
func NewManager(secret []byte, directory Directory, opts ...Option) (*Manager, error) {
	if len(secret) < config.MinSecretLength {
		return nil, config.Errorf("auth.session_secret", "must be at least %d bytes", config.MinSecretLength)
	}
	if directory == nil {
		return nil, errors.New("session: directory is required")
	}

	m := &Manager{
		secret:    append([]byte(nil), secret...),
		lifetime:  DefaultLifetime,
		directory: directory,
		clock:     clock.System{},
		recorder:  audit.Discard{},
		logger:    slog.Default().With("component", "session"),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.denied == nil {
		m.denied = denylist.New(denylist.DefaultMaxSize, m.clock)
	}
	return m, nil
}

// Lifetime returns the configured credential lifetime.
func (m *Manager) Lifetime() time.Duration { return m.lifetime }

// Issue creates a credential for an active invitee.
func (m *Manager) Issue(ctx context.Context, inv invite.Invitee) (Session, error) {
	if !inv.Active() {
		return Session{}, ErrRevokedIdentity
	}

	now := m.clock.Now().Truncate(time.Second)
	s := Session{
		Identity:  inv.Key,
		IssuedAt:  now,
		ExpiresAt: now.Add(m.lifetime).Truncate(time.Second),
		Sequence:  m.seq.Add(1),
		ID:        uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.Identity,
			IssuedAt:  jwt.NewNumericDate(s.IssuedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
			ID:        s.ID,
		},
		Seq: s.Sequence,
	})
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return Session{}, fmt.Errorf("signing session: %w", err)
	}
	s.Credential = signed

	m.recorder.Record(ctx, audit.Event{
		Type:     audit.SessionIssued,
		Identity: s.Identity,
		Outcome:  audit.OutcomeAllowed,
		Detail:   map[string]any{"lifetime_seconds": int(m.lifetime / time.Second)},
	})
	return s, nil
}

// Validate checks the credential's signature and validity window, that it
// has not been logged out, and that its identity is still an active invitee.
func (m *Manager) Validate(ctx context.Context, credential string) (invite.Invitee, error) {
	c, err := m.parse(credential)
	if err != nil {
		m.reject(ctx, "", reasonMalformed)
		return invite.Invitee{}, ErrInvalidCredential
	}

	now := m.clock.Now()
	if now.Before(c.IssuedAt.Time) {
		m.reject(ctx, "", reasonMalformed)
		return invite.Invitee{}, ErrInvalidCredential
	}
	if !now.Before(c.ExpiresAt.Time) {
		m.reject(ctx, c.Subject, reasonExpired)
		return invite.Invitee{}, ErrExpiredCredential
	}
	if m.denied.Contains(c.ID) {
		m.reject(ctx, c.Subject, reasonLoggedOut)
		return invite.Invitee{}, ErrInvalidCredential
	}

	inv, err := m.directory.Lookup(c.Subject)
	if err != nil {
		m.reject(ctx, c.Subject, reasonRevoked)
		return invite.Invitee{}, ErrRevokedIdentity
	}
	if !inv.Active() {
		m.reject(ctx, c.Subject, reasonNotActive)
		return invite.Invitee{}, ErrRevokedIdentity
	}

	m.metrics.ObserveDecision("session", "validate", metrics.OutcomeAllowed)
	m.recorder.Record(ctx, audit.Event{
		Type:     audit.SessionValidated,
		Identity: inv.Key,
		Outcome:  audit.OutcomeAllowed,
	})
	return inv, nil
}

// Revoke logs a credential out. It is rejected from then on, until it would
// have expired anyway. Revoking an expired credential is a no-op.
func (m *Manager) Revoke(ctx context.Context, credential string) error {
	c, err := m.parse(credential)
	if err != nil {
		return ErrInvalidCredential
	}
	if !m.clock.Now().Before(c.ExpiresAt.Time) {
		return nil
	}

	if m.denied.Add(c.ID, c.ExpiresAt.Time) {
		m.logger.Warn("logout denylist full, evicted a credential that had not expired")
	}
	m.logger.Debug("session revoked", "identity", c.Subject, "seq", c.Seq)
	m.recorder.Record(ctx, audit.Event{
		Type:     audit.SessionRevoked,
		Identity: c.Subject,
		Outcome:  audit.OutcomeAllowed,
	})
	return nil
}

// Close releases the denylist's background sweeper.
func (m *Manager) Close() {
	m.denied.Close()
}

// parse verifies the signature and required claims without judging time.
func (m *Manager) parse(credential string) (*claims, error) {
	var c claims
	token, err := m.parser.ParseWithClaims(credential, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, ErrInvalidCredential
	}
	if c.Subject == "" || c.ID == "" || c.IssuedAt == nil || c.ExpiresAt == nil {
		return nil, fmt.Errorf("%w: missing claim", ErrInvalidCredential)
	}
	return &c, nil
}

func (m *Manager) reject(ctx context.Context, subject, reason string) {
	m.metrics.ObserveDecision("session", "validate", metrics.OutcomeDenied)
	m.recorder.Record(ctx, audit.Event{
		Type:     audit.SessionRejected,
		Identity: subject,
		Outcome:  audit.OutcomeDenied,
		Detail:   map[string]any{"reason": reason},
	})
}
