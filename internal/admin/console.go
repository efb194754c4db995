// ABOUTME: Administrative console for the invitation gate
// ABOUTME: Password-guarded invite management, quota resets, and usage statistics

package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/benedictkwok/cover-letter-assistant/internal/audit"
	"github.com/benedictkwok/cover-letter-assistant/internal/clock"
	"github.com/benedictkwok/cover-letter-assistant/internal/identity"
	"github.com/benedictkwok/cover-letter-assistant/internal/invite"
	"github.com/benedictkwok/cover-letter-assistant/internal/quota"
	"github.com/benedictkwok/cover-letter-assistant/internal/store"
)

// MinPasswordLength is the shortest administrator password HashPassword accepts.
const MinPasswordLength = 8

// Console errors
var (
	ErrUnauthorized     = errors.New("invalid administrator password")
	ErrAdminDisabled    = errors.New("administrator password not configured")
	ErrPasswordTooShort = fmt.Errorf("password must be at least %d characters", MinPasswordLength)
	ErrNotEditable      = errors.New("invitation list is not backed by an editable file")
)

// dummyHash keeps Authenticate's timing the same when no hash is configured.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// AuditStore is the read side of the persisted audit trail.
type AuditStore interface {
	AuditStats(ctx context.Context, since time.Time) (*store.AuditStats, error)
	ListAuditEvents(ctx context.Context, f store.AuditFilter) ([]audit.Event, error)
}

// Reloader swaps the served invitation list. *gateway.Gateway implements it
// and audits the outcome.
type Reloader interface {
	ReloadInvitations(ctx context.Context, src invite.Source) error
}

// Config holds the collaborators of a Console. Registry and Quota are required.
type Config struct {
	PasswordHash string
	Registry     *invite.Registry
	// File receives invite edits. Nil makes the list read-only.
	File *invite.FileSource
	// Source is reloaded after an edit; it defaults to File.
	Source   invite.Source
	Reloader Reloader
	Quota    *quota.Tracker
	Audit    AuditStore
	Clock    clock.Clock
	Logger   *slog.Logger
}

// Console performs administrative operations.
type Console struct {
	hash     []byte
	registry *invite.Registry
	file     *invite.FileSource
	source   invite.Source
	reloader Reloader
	quota    *quota.Tracker
	audit    AuditStore
	clock    clock.Clock
	logger   *slog.Logger
}

// NewConsole creates a Console.
func NewConsole(cfg Config) (*Console, error) {
	if cfg.Registry == nil || cfg.Quota == nil {
		return nil, errors.New("admin: registry and quota are required")
	}
	c := &Console{
		hash:     []byte(cfg.PasswordHash),
		registry: cfg.Registry,
		file:     cfg.File,
		source:   cfg.Source,
		reloader: cfg.Reloader,
		quota:    cfg.Quota,
		audit:    cfg.Audit,
		clock:    clock.OrSystem(cfg.Clock),
		logger:   cfg.Logger,
	}
	if c.source == nil && c.file != nil {
		c.source = c.file
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "admin")
	return c, nil
}

// HashPassword returns a bcrypt hash suitable for admin.password_hash.
func HashPassword(password string) (string, error) {
	if len(password) < MinPasswordLength {
		return "", ErrPasswordTooShort
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}

// Authenticate checks password against the configured hash.
func (c *Console) Authenticate(password string) error {
	if len(c.hash) == 0 {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return ErrAdminDisabled
	}
	if err := bcrypt.CompareHashAndPassword(c.hash, []byte(password)); err != nil {
		c.logger.Warn("administrator authentication failed")
		return ErrUnauthorized
	}
	return nil
}

// Invitees returns the served invitation list, sorted by key.
func (c *Console) Invitees() []invite.Invitee {
	return c.registry.Snapshot().All()
}

// AddInvitee writes inv to the invitation file and reloads. Re-adding an
// existing identity replaces its entry.
func (c *Console) AddInvitee(ctx context.Context, inv invite.Invitee) error {
	if c.file == nil {
		return ErrNotEditable
	}
	key, err := identity.Validate(inv.Key)
	if err != nil {
		return err
	}
	inv.Key = key
	if inv.InvitedAt.IsZero() {
		inv.InvitedAt = c.clock.Now()
	}
	if err := c.file.Put(inv); err != nil {
		return fmt.Errorf("saving invitee: %w", err)
	}
	c.logger.Info("invitee added", "identity", key, "access_level", inv.AccessLevel)
	return c.reload(ctx)
}

// RevokeInvitee marks an identity revoked and reloads. Sessions already
// issued to it stop validating immediately.
func (c *Console) RevokeInvitee(ctx context.Context, raw string) error {
	return c.setStatus(ctx, raw, invite.StatusRevoked)
}

// RestoreInvitee reactivates a revoked identity.
func (c *Console) RestoreInvitee(ctx context.Context, raw string) error {
	return c.setStatus(ctx, raw, invite.StatusActive)
}

func (c *Console) setStatus(ctx context.Context, raw string, status invite.Status) error {
	if c.file == nil {
		return ErrNotEditable
	}
	if err := c.file.SetStatus(raw, status); err != nil {
		return err
	}
	c.logger.Info("invitee status changed", "identity", identity.Normalize(raw), "status", status)
	return c.reload(ctx)
}

func (c *Console) reload(ctx context.Context) error {
	if c.reloader != nil {
		return c.reloader.ReloadInvitations(ctx, c.source)
	}
	return c.registry.Reload(ctx, c.source)
}

// ResetQuota zeroes raw's quota for today on behalf of actor.
func (c *Console) ResetQuota(ctx context.Context, raw, actor string) error {
	key, err := identity.Validate(raw)
	if err != nil {
		return err
	}
	return c.quota.AdminReset(ctx, key, actor)
}

// QuotaStatus reports raw's quota for today.
func (c *Console) QuotaStatus(ctx context.Context, raw string) (quota.Status, error) {
	return c.quota.Status(ctx, raw)
}

// Stats summarizes the gate for the operator.
type Stats struct {
	Since      time.Time
	Invitees   int
	Active     int
	Admins     int
	Audit      *store.AuditStats
	Usage      quota.Totals
	UsageKnown bool
}

// Stats aggregates the invitation list, the audit trail since the given
// time, and today's usage when the counter backend can total it.
func (c *Console) Stats(ctx context.Context, since time.Time) (*Stats, error) {
	st := &Stats{Since: since}
	for _, inv := range c.registry.Snapshot().All() {
		st.Invitees++
		if inv.Active() {
			st.Active++
			if inv.IsAdmin() {
				st.Admins++
			}
		}
	}

	if c.audit != nil {
		as, err := c.audit.AuditStats(ctx, since)
		if err != nil {
			return nil, fmt.Errorf("reading audit stats: %w", err)
		}
		st.Audit = as
	}

	totals, err := c.quota.DailyTotals(ctx)
	switch {
	case errors.Is(err, quota.ErrTotalsUnsupported):
	case err != nil:
		return nil, err
	default:
		st.Usage = totals
		st.UsageKnown = true
	}
	return st, nil
}

// RecentEvents lists audit events, newest first.
func (c *Console) RecentEvents(ctx context.Context, f store.AuditFilter) ([]audit.Event, error) {
	if c.audit == nil {
		return nil, errors.New("admin: no audit store configured")
	}
	return c.audit.ListAuditEvents(ctx, f)
}
