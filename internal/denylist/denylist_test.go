// ABOUTME: Tests for the credential denylist
// ABOUTME: Validates expiry, extension, size limits, sweeping, and concurrency safety

package denylist

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/benedictkwok/cover-letter-assistant/internal/clock"
)

var base = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func TestList_ContainsUntilExpiry(t *testing.T) {
	fake := clock.NewFake(base)
	l := New(10, fake)
	defer l.Close()

	assert.False(t, l.Contains("jti-1"))

	l.Add("jti-1", base.Add(time.Hour))
	assert.True(t, l.Contains("jti-1"))

	fake.Advance(time.Hour - time.Second)
	assert.True(t, l.Contains("jti-1"))

	fake.Advance(time.Second)
	assert.False(t, l.Contains("jti-1"), "entry lapses at its expiry")
}

func TestList_AddExtendsButNeverShortens(t *testing.T) {
	fake := clock.NewFake(base)
	l := New(10, fake)
	defer l.Close()

	l.Add("jti", base.Add(time.Hour))
	l.Add("jti", base.Add(time.Minute))
	fake.Advance(30 * time.Minute)
	assert.True(t, l.Contains("jti"))

	l.Add("jti", base.Add(2*time.Hour))
	fake.Advance(time.Hour)
	assert.True(t, l.Contains("jti"))
	assert.Equal(t, 1, l.Len())
}

func TestList_EvictsOldestAtCapacity(t *testing.T) {
	l := New(3, clock.NewFake(base))
	defer l.Close()

	for i := 0; i < 4; i++ {
		l.Add(fmt.Sprintf("jti-%d", i), base.Add(time.Hour))
	}

	assert.Equal(t, 3, l.Len())
	assert.False(t, l.Contains("jti-0"))
	assert.True(t, l.Contains("jti-3"))
}

func TestList_CapacityPrefersExpiredEntries(t *testing.T) {
	fake := clock.NewFake(base)
	l := New(3, fake)
	defer l.Close()

	assert.False(t, l.Add("old", base.Add(time.Minute)))
	assert.False(t, l.Add("live-1", base.Add(time.Hour)))
	assert.False(t, l.Add("live-2", base.Add(time.Hour)))

	fake.Advance(2 * time.Minute)
	assert.False(t, l.Add("live-3", base.Add(time.Hour)), "the expired entry makes room")
	assert.True(t, l.Contains("live-1"))
	assert.True(t, l.Contains("live-2"))
	assert.True(t, l.Contains("live-3"))

	assert.True(t, l.Add("live-4", base.Add(time.Hour)), "a live id had to go")
	assert.False(t, l.Contains("live-1"))
	assert.Equal(t, 3, l.Len())
}

func TestList_Sweep(t *testing.T) {
	fake := clock.NewFake(base)
	l := New(10, fake)
	defer l.Close()

	l.Add("short", base.Add(time.Minute))
	l.Add("long", base.Add(time.Hour))
	fake.Advance(2 * time.Minute)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
	assert.True(t, l.Contains("long"))
}

func TestList_Concurrent(t *testing.T) {
	l := New(1000, nil)
	defer l.Close()

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				id := fmt.Sprintf("g%d-%d", g, i)
				l.Add(id, time.Now().Add(time.Hour))
				assert.True(t, l.Contains(id))
			}
		}(g)
	}
	wg.Wait()
	assert.Equal(t, 800, l.Len())
}

func TestList_CloseIdempotent(t *testing.T) {
	l := New(0, nil)
	assert.NotPanics(t, func() {
		l.Close()
		l.Close()
	})
}
