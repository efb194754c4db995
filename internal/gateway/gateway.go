// ABOUTME: Gateway orchestrator that gates logins and privileged actions
// ABOUTME: Chains invitation lookup, rate limiting, sessions and the daily quota with an audit at every exit

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/benedictkwok/cover-letter-assistant/internal/audit"
	"github.com/benedictkwok/cover-letter-assistant/internal/config"
	"github.com/benedictkwok/cover-letter-assistant/internal/identity"
	"github.com/benedictkwok/cover-letter-assistant/internal/invite"
	"github.com/benedictkwok/cover-letter-assistant/internal/metrics"
	"github.com/benedictkwok/cover-letter-assistant/internal/quota"
	"github.com/benedictkwok/cover-letter-assistant/internal/ratelimit"
	"github.com/benedictkwok/cover-letter-assistant/internal/session"
)

// Errors returned by the gateway itself. Component errors
// (invite.ErrNotInvited, *ratelimit.LimitError, quota.ErrQuotaExceeded,
// session errors, persistence errors) pass through wrapped.
var (
	ErrForbidden       = errors.New("administrator access required")
	ErrUnsupportedFile = errors.New("unsupported file type")
)

// DefaultAllowedExtensions are the document types accepted by Submit.
var DefaultAllowedExtensions = []string{".pdf", ".doc", ".docx", ".txt"}

// LoginRequest is one login attempt.
type LoginRequest struct {
	Identity   string
	RemoteAddr string
}

// Grant is returned when a privileged action may proceed.
type Grant struct {
	Identity  string
	Used      int
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// Authenticator issues and checks session credentials. *session.Manager
// implements it.
type Authenticator interface {
	Issue(ctx context.Context, inv invite.Invitee) (session.Session, error)
	Validate(ctx context.Context, credential string) (invite.Invitee, error)
	Revoke(ctx context.Context, credential string) error
}

// Components are the collaborators a Gateway orchestrates. Registry,
// Sessions, Limiter and Quota are required.
type Components struct {
	Registry *invite.Registry
	Sessions Authenticator
	Limiter  *ratelimit.Limiter
	Quota    *quota.Tracker
	Recorder audit.Recorder
	Metrics  *metrics.Metrics
	Logger   *slog.Logger

	// Source is what Reload reads. ReloadInvitations accepts any source.
	Source invite.Source
	// AllowedExtensions overrides DefaultAllowedExtensions.
	AllowedExtensions []string
}

// Gateway gates access to the assistant.
type Gateway struct {
	registry *invite.Registry
	sessions Authenticator
	limiter  *ratelimit.Limiter
	quota    *quota.Tracker
	recorder audit.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
	source   invite.Source

	allowed map[string]bool

	// closers are released in reverse on Close
	closers []func(context.Context) error
}

// New assembles a Gateway from already-built components.
func New(c Components) (*Gateway, error) {
	if c.Registry == nil || c.Sessions == nil || c.Limiter == nil || c.Quota == nil {
		return nil, errors.New("gateway: registry, sessions, limiter and quota are required")
	}
	if _, ok := c.Limiter.Rule(config.ActionAuth); !ok {
		return nil, config.Errorf("rate_limits."+config.ActionAuth, "is required")
	}

	logger := c.Logger
	if logger == nil {
		logger = slog.Default()
	}
	exts := c.AllowedExtensions
	if len(exts) == 0 {
		exts = DefaultAllowedExtensions
	}
	allowed := make(map[string]bool, len(exts))
	for _, ext := range exts {
		allowed[strings.ToLower(ext)] = true
	}

	return &Gateway{
		registry: c.Registry,
		sessions: c.Sessions,
		limiter:  c.Limiter,
		quota:    c.Quota,
		recorder: audit.OrDiscard(c.Recorder),
		metrics:  c.Metrics,
		logger:   logger.With("component", "gateway"),
		source:   c.Source,
		allowed:  allowed,
	}, nil
}

// Registry returns the invitation registry.
func (g *Gateway) Registry() *invite.Registry { return g.registry }

// Quota returns the quota tracker.
func (g *Gateway) Quota() *quota.Tracker { return g.quota }

// Limiter returns the rate limiter.
func (g *Gateway) Limiter() *ratelimit.Limiter { return g.limiter }

// Login admits an invited identity and issues a session credential.
func (g *Gateway) Login(ctx context.Context, req LoginRequest) (session.Session, error) {
	key, err := identity.Validate(req.Identity)
	if err != nil {
		g.metrics.ObserveDecision("gateway", "login", metrics.OutcomeDenied)
		g.recorder.Record(ctx, audit.Event{
			Type:    audit.LoginFailed,
			Outcome: audit.OutcomeDenied,
			Detail:  g.loginDetail(req, "invalid_format"),
		})
		return session.Session{}, err
	}

	inv, err := g.registry.Lookup(key)
	if err != nil || !inv.Active() {
		g.metrics.ObserveDecision("gateway", "login", metrics.OutcomeDenied)
		reason := "not_listed"
		if err == nil {
			reason = "revoked"
		}
		g.recorder.Record(ctx, audit.Event{
			Type:     audit.NotInvited,
			Identity: key,
			Outcome:  audit.OutcomeDenied,
			Detail:   g.loginDetail(req, reason),
		})
		return session.Session{}, invite.ErrNotInvited
	}

	if _, err := g.limiter.Check(ctx, config.ActionAuth, key); err != nil {
		g.metrics.ObserveDecision("gateway", "login", outcomeFor(err))
		g.logger.Warn("login throttled", "identity", key, "remote_addr", req.RemoteAddr, "error", err)
		return session.Session{}, err
	}

	s, err := g.sessions.Issue(ctx, inv)
	if err != nil {
		g.metrics.ObserveDecision("gateway", "login", metrics.OutcomeError)
		g.recorder.Record(ctx, audit.Event{
			Type:     audit.LoginFailed,
			Identity: key,
			Outcome:  audit.OutcomeError,
			Detail:   g.loginDetail(req, "issue_failed"),
		})
		return session.Session{}, fmt.Errorf("issuing session: %w", err)
	}

	g.metrics.ObserveDecision("gateway", "login", metrics.OutcomeAllowed)
	g.recorder.Record(ctx, audit.Event{
		Type:     audit.LoginSucceeded,
		Identity: key,
		Outcome:  audit.OutcomeAllowed,
		Detail:   g.loginDetail(req, ""),
	})
	g.logger.Info("login succeeded", "identity", key, "remote_addr", req.RemoteAddr)
	return s, nil
}

func (g *Gateway) loginDetail(req LoginRequest, reason string) map[string]any {
	d := map[string]any{}
	if reason != "" {
		d["reason"] = reason
	}
	if req.RemoteAddr != "" {
		d["remote_addr"] = req.RemoteAddr
	}
	return d
}

// Authorize validates the credential and consumes one unit of the
// identity's daily quota.
func (g *Gateway) Authorize(ctx context.Context, credential string) (Grant, error) {
	inv, err := g.sessions.Validate(ctx, credential)
	if err != nil {
		g.metrics.ObserveDecision("gateway", "authorize", metrics.OutcomeDenied)
		return Grant{}, err
	}

	st, err := g.quota.IncrementIfAvailable(ctx, inv.Key)
	grant := Grant{
		Identity:  inv.Key,
		Used:      st.Used,
		Remaining: st.Remaining,
		Limit:     st.Limit,
		ResetAt:   st.ResetAt,
	}
	if err != nil {
		g.metrics.ObserveDecision("gateway", "authorize", outcomeFor(err))
		return grant, err
	}

	g.metrics.ObserveDecision("gateway", "authorize", metrics.OutcomeAllowed)
	return grant, nil
}

// Submit checks that an uploaded file may be accepted for the session's
// identity: the extension must be allowed and the upload rate not exceeded.
func (g *Gateway) Submit(ctx context.Context, credential, filename string) error {
	inv, err := g.sessions.Validate(ctx, credential)
	if err != nil {
		g.metrics.ObserveDecision("gateway", "submit", metrics.OutcomeDenied)
		return err
	}

	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	if !g.allowed[ext] {
		g.metrics.ObserveDecision("gateway", "submit", metrics.OutcomeDenied)
		g.recorder.Record(ctx, audit.Event{
			Type:     audit.FileRejected,
			Identity: inv.Key,
			Outcome:  audit.OutcomeDenied,
			Detail:   map[string]any{"extension": extensionLabel(ext)},
		})
		return fmt.Errorf("%w: %q", ErrUnsupportedFile, extensionLabel(ext))
	}

	if _, err := g.limiter.Check(ctx, config.ActionUpload, inv.Key); err != nil {
		g.metrics.ObserveDecision("gateway", "submit", outcomeFor(err))
		return err
	}

	g.metrics.ObserveDecision("gateway", "submit", metrics.OutcomeAllowed)
	g.recorder.Record(ctx, audit.Event{
		Type:     audit.FileSubmitted,
		Identity: inv.Key,
		Outcome:  audit.OutcomeAllowed,
		Detail:   map[string]any{"extension": ext},
	})
	return nil
}

func extensionLabel(ext string) string {
	if ext == "" {
		return "none"
	}
	return ext
}

// Logout revokes the credential.
func (g *Gateway) Logout(ctx context.Context, credential string) error {
	return g.sessions.Revoke(ctx, credential)
}

// QuotaStatus reports the session identity's quota without consuming any.
func (g *Gateway) QuotaStatus(ctx context.Context, credential string) (quota.Status, error) {
	inv, err := g.sessions.Validate(ctx, credential)
	if err != nil {
		return quota.Status{}, err
	}
	return g.quota.Status(ctx, inv.Key)
}

// ResetQuota zeroes target's quota for today. The actor credential must
// belong to an active administrator.
func (g *Gateway) ResetQuota(ctx context.Context, actorCredential, target string) error {
	actor, err := g.sessions.Validate(ctx, actorCredential)
	if err != nil {
		return err
	}
	if !actor.IsAdmin() {
		g.metrics.ObserveDecision("gateway", "reset_quota", metrics.OutcomeDenied)
		g.recorder.Record(ctx, audit.Event{
			Type:     audit.QuotaReset,
			Identity: actor.Key,
			Outcome:  audit.OutcomeDenied,
			Detail:   map[string]any{"reason": "not_admin"},
		})
		return ErrForbidden
	}

	key, err := identity.Validate(target)
	if err != nil {
		return err
	}
	if err := g.quota.AdminReset(ctx, key, actor.Key); err != nil {
		g.metrics.ObserveDecision("gateway", "reset_quota", metrics.OutcomeError)
		return err
	}
	g.metrics.ObserveDecision("gateway", "reset_quota", metrics.OutcomeAllowed)
	return nil
}

// Reload re-reads the configured invitation source.
func (g *Gateway) Reload(ctx context.Context) error {
	if g.source == nil {
		return config.Errorf("invitations", "no source configured")
	}
	return g.ReloadInvitations(ctx, g.source)
}

// ReloadInvitations swaps in the invitation list from src. On failure the
// current list keeps serving.
func (g *Gateway) ReloadInvitations(ctx context.Context, src invite.Source) error {
	err := g.registry.Reload(ctx, src)
	g.metrics.ObserveReload(err == nil)
	if err != nil {
		field := "invitations"
		var ce *config.ConfigurationError
		if errors.As(err, &ce) && ce.Field != "" {
			field = ce.Field
		}
		g.logger.Error("invitation reload rejected", "source", src.Name(), "error", err)
		g.recorder.Record(ctx, audit.Event{
			Type:    audit.ConfigRejected,
			Outcome: audit.OutcomeDenied,
			Detail:  map[string]any{"field": field, "invitees": g.registry.Len()},
		})
		return err
	}

	g.recorder.Record(ctx, audit.Event{
		Type:    audit.ConfigReloaded,
		Outcome: audit.OutcomeAllowed,
		Detail:  map[string]any{"invitees": g.registry.Len()},
	})
	return nil
}

// Close releases everything the gateway owns, in reverse build order.
func (g *Gateway) Close(ctx context.Context) error {
	var errs []error
	for i := len(g.closers) - 1; i >= 0; i-- {
		if err := g.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	g.closers = nil
	return errors.Join(errs...)
}

// outcomeFor maps a component error to a metrics outcome.
func outcomeFor(err error) string {
	switch {
	case errors.Is(err, ratelimit.ErrRateLimited), errors.Is(err, quota.ErrQuotaExceeded):
		return metrics.OutcomeDenied
	default:
		return metrics.OutcomeError
	}
}
