// ABOUTME: Tests for the invitation registry
// ABOUTME: Covers normalized lookup, atomic reload, and rejection of bad snapshots

package invite

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/benedictkwok/cover-letter-assistant/internal/clock"
	"github.com/benedictkwok/cover-letter-assistant/internal/config"
)

func newTestRegistry(t *testing.T, invitees ...Invitee) *Registry {
	t.Helper()
	r := NewRegistry(clock.NewFake(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, r.Reload(context.Background(), Static(invitees)))
	return r
}

func TestRegistry_LookupNormalizes(t *testing.T) {
	r := newTestRegistry(t,
		Invitee{Key: "Alice@Example.com", Name: "Alice"},
		Invitee{Key: "bob@example.com", Name: "Bob", AccessLevel: AccessAdmin},
	)

	tests := []struct {
		input string
		want  string
	}{
		{"alice@example.com", "Alice"},
		{"  ALICE@EXAMPLE.COM  ", "Alice"},
		{"Bob@Example.Com", "Bob"},
	}
	for _, tt := range tests {
		inv, err := r.Lookup(tt.input)
		require.NoError(t, err, tt.input)
		assert.Equal(t, tt.want, inv.Name)
	}

	inv, err := r.Lookup("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", inv.Key)
	assert.Equal(t, StatusActive, inv.Status, "status defaults to active")
	assert.Equal(t, AccessUser, inv.AccessLevel, "access level defaults to user")
}

func TestRegistry_LookupNotInvited(t *testing.T) {
	r := newTestRegistry(t, Invitee{Key: "alice@example.com"})

	_, err := r.Lookup("mallory@example.com")
	assert.ErrorIs(t, err, ErrNotInvited)

	_, err = r.Lookup("   ")
	assert.ErrorIs(t, err, ErrNotInvited)
}

func TestRegistry_RevokedIsReturned(t *testing.T) {
	r := newTestRegistry(t, Invitee{Key: "carol@example.com", Status: StatusRevoked})

	inv, err := r.Lookup("carol@example.com")
	require.NoError(t, err)
	assert.False(t, inv.Active())
}

func TestRegistry_Admins(t *testing.T) {
	r := newTestRegistry(t,
		Invitee{Key: "a@example.com", AccessLevel: AccessAdmin},
		Invitee{Key: "b@example.com"},
		Invitee{Key: "c@example.com", AccessLevel: AccessAdmin, Status: StatusRevoked},
	)

	admins := r.Admins()
	require.Len(t, admins, 1)
	assert.Equal(t, "a@example.com", admins[0].Key)
	assert.Equal(t, 3, r.Len())
}

func TestRegistry_ReloadFailureKeepsSnapshot(t *testing.T) {
	r := newTestRegistry(t, Invitee{Key: "alice@example.com"})
	before := r.Snapshot()

	tests := []struct {
		name string
		src  Source
	}{
		{
			name: "duplicate after normalization",
			src:  Static{{Key: "dave@example.com"}, {Key: " DAVE@example.com"}},
		},
		{
			name: "empty key",
			src:  Static{{Key: "  "}},
		},
		{
			name: "unknown status",
			src:  Static{{Key: "dave@example.com", Status: "suspended"}},
		},
		{
			name: "unknown access level",
			src:  Static{{Key: "dave@example.com", AccessLevel: "root"}},
		},
		{
			name: "source error",
			src:  failingSource{err: errors.New("disk unavailable")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Reload(context.Background(), tt.src)
			require.Error(t, err)
			assert.True(t, config.IsConfigurationError(err), "got %T", err)

			assert.Same(t, before, r.Snapshot())
			_, err = r.Lookup("alice@example.com")
			assert.NoError(t, err)
		})
	}
}

func TestRegistry_ReloadReplacesWholeSet(t *testing.T) {
	r := newTestRegistry(t, Invitee{Key: "alice@example.com"}, Invitee{Key: "bob@example.com"})

	require.NoError(t, r.Reload(context.Background(), Static{{Key: "carol@example.com"}}))

	_, err := r.Lookup("alice@example.com")
	assert.ErrorIs(t, err, ErrNotInvited)
	_, err = r.Lookup("carol@example.com")
	assert.NoError(t, err)
	assert.Equal(t, "static", r.Snapshot().Source())
	assert.Equal(t, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC), r.Snapshot().LoadedAt())
}

func TestRegistry_ConcurrentReadsDuringReload(t *testing.T) {
	setA := Static{{Key: "a1@example.com"}, {Key: "a2@example.com"}}
	setB := Static{{Key: "b1@example.com"}, {Key: "b2@example.com"}}
	r := newTestRegistry(t, setA...)

	ctx := context.Background()
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if i%2 == 0 {
				_ = r.Reload(ctx, setB)
			} else {
				_ = r.Reload(ctx, setA)
			}
		}
		close(stop)
	}()

	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				// A snapshot is never a mix of both sets.
				snap := r.Snapshot()
				_, a1 := snap.Lookup("a1@example.com")
				_, a2 := snap.Lookup("a2@example.com")
				_, b1 := snap.Lookup("b1@example.com")
				_, b2 := snap.Lookup("b2@example.com")
				if !((a1 && a2 && !b1 && !b2) || (b1 && b2 && !a1 && !a2)) {
					t.Errorf("torn snapshot: a1=%v a2=%v b1=%v b2=%v", a1, a2, b1, b2)
					return
				}
			}
		}()
	}
	wg.Wait()
}

type failingSource struct{ err error }

func (f failingSource) Name() string { return "failing" }

func (f failingSource) Load(context.Context) ([]Invitee, error) { return nil, f.err }
