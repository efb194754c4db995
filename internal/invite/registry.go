// ABOUTME: Invitation registry holding an immutable snapshot behind an atomic pointer
// ABOUTME: Readers never block; Reload builds a full snapshot and swaps it in one store

package invite

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/benedictkwok/cover-letter-assistant/internal/clock"
	"github.com/benedictkwok/cover-letter-assistant/internal/config"
	"github.com/benedictkwok/cover-letter-assistant/internal/identity"
)

// Source produces the complete invitation list.
type Source interface {
	Load(ctx context.Context) ([]Invitee, error)
	Name() string
}

// Snapshot is an immutable view of the invitation list.
type Snapshot struct {
	invitees map[string]Invitee
	source   string
	loadedAt time.Time
}

// Lookup returns the invitee stored under an already-normalized key.
func (s *Snapshot) Lookup(key string) (Invitee, bool) {
	inv, ok := s.invitees[key]
	return inv, ok
}

// Len returns the number of invitees, including revoked ones.
func (s *Snapshot) Len() int { return len(s.invitees) }

// Source names where the snapshot was loaded from.
func (s *Snapshot) Source() string { return s.source }

// LoadedAt is when the snapshot was built.
func (s *Snapshot) LoadedAt() time.Time { return s.loadedAt }

// All returns every invitee sorted by key.
func (s *Snapshot) All() []Invitee {
	out := make([]Invitee, 0, len(s.invitees))
	for _, inv := range s.invitees {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Registry answers invitation lookups against the current snapshot.
type Registry struct {
	current atomic.Pointer[Snapshot]
	clock   clock.Clock
	logger  *slog.Logger
}

// NewRegistry returns a Registry with an empty snapshot.
// A nil clock means the wall clock.
func NewRegistry(c clock.Clock) *Registry {
	r := &Registry{
		clock:  clock.OrSystem(c),
		logger: slog.Default().With("component", "invite"),
	}
	r.current.Store(&Snapshot{invitees: map[string]Invitee{}, source: "empty"})
	return r
}

// Lookup normalizes raw and returns its invitee, or ErrNotInvited.
// Revoked invitees are returned as-is; callers decide what revocation means.
func (r *Registry) Lookup(raw string) (Invitee, error) {
	key := identity.Normalize(raw)
	if key == "" {
		return Invitee{}, ErrNotInvited
	}
	inv, ok := r.current.Load().Lookup(key)
	if !ok {
		return Invitee{}, ErrNotInvited
	}
	return inv, nil
}

// Snapshot returns the current snapshot.
func (r *Registry) Snapshot() *Snapshot { return r.current.Load() }

// Len returns the size of the current snapshot.
func (r *Registry) Len() int { return r.current.Load().Len() }

// Admins returns the active invitees with administrative access.
func (r *Registry) Admins() []Invitee {
	var admins []Invitee
	for _, inv := range r.current.Load().All() {
		if inv.Active() && inv.IsAdmin() {
			admins = append(admins, inv)
		}
	}
	return admins
}

// Reload replaces the snapshot with the contents of src. On any failure
// the previous snapshot stays active and a *config.ConfigurationError is returned.
func (r *Registry) Reload(ctx context.Context, src Source) error {
	invitees, err := src.Load(ctx)
	if err != nil {
		if config.IsConfigurationError(err) {
			return err
		}
		return &config.ConfigurationError{Field: "invitations", Err: fmt.Errorf("loading %s: %w", src.Name(), err)}
	}

	snap, err := buildSnapshot(invitees, src.Name(), r.clock.Now())
	if err != nil {
		return err
	}

	prev := r.current.Swap(snap)
	r.logger.Info("invitation list reloaded",
		"source", src.Name(),
		"invitees", snap.Len(),
		"previous", prev.Len(),
	)
	return nil
}

func buildSnapshot(invitees []Invitee, source string, now time.Time) (*Snapshot, error) {
	m := make(map[string]Invitee, len(invitees))
	for _, inv := range invitees {
		key := identity.Normalize(inv.Key)
		if key == "" {
			return nil, config.Errorf("invitations", "%s: empty identity key", source)
		}
		if _, dup := m[key]; dup {
			return nil, config.Errorf("invitations", "%s: duplicate identity %q after normalization", source, key)
		}

		status, err := parseStatus(string(inv.Status))
		if err != nil {
			return nil, config.Errorf("invitations", "%s: %s: %w", source, key, err)
		}
		level, err := parseAccessLevel(string(inv.AccessLevel))
		if err != nil {
			return nil, config.Errorf("invitations", "%s: %s: %w", source, key, err)
		}

		inv.Key = key
		inv.Status = status
		inv.AccessLevel = level
		m[key] = inv
	}
	return &Snapshot{invitees: m, source: source, loadedAt: now}, nil
}
