// ABOUTME: Thread-safe, size-limited set of revoked credential ids with per-entry expiry
// ABOUTME: Entries drop out once the credential they block would have expired anyway

package denylist

import (
	"container/list"
	"sync"
	"time"

	"github.com/benedictkwok/cover-letter-assistant/internal/clock"
)

// DefaultMaxSize bounds memory when no size is given.
const DefaultMaxSize = 100_000

// entry stores the expiry and list element for a denied id.
type entry struct {
	until   time.Time
	element *list.Element
}

// List tracks credential ids that must be rejected until their expiry.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction
// when the list is full.
type List struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   *list.List // ids in insertion order (oldest at front)
	maxSize int
	clock   clock.Clock
	done    chan struct{}
	closed  bool
}

// New creates a denylist holding at most maxSize ids. A background
// goroutine periodically removes expired entries; call Close to stop it.
func New(maxSize int, c clock.Clock) *List {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	l := &List{
		entries: make(map[string]*entry),
		order:   list.New(),
		maxSize: maxSize,
		clock:   clock.OrSystem(c),
		done:    make(chan struct{}),
	}
	go l.cleanup()
	return l
}

// Contains reports whether id is denied at the current time.
func (l *List) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.entries[id]
	if !ok {
		return false
	}
	return l.clock.Now().Before(e.until)
}

// Add denies id until the given time. Adding an id again extends its expiry
// when the new time is later. At capacity, expired entries are swept first;
// if the list is still full the oldest entry is evicted and Add reports
// true, meaning an id that was still denied is accepted again.
func (l *List) Add(id string, until time.Time) (evictedLive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, exists := l.entries[id]; exists {
		if until.After(e.until) {
			e.until = until
		}
		l.order.MoveToBack(e.element)
		return false
	}

	if len(l.entries) >= l.maxSize {
		l.sweepLocked()
	}
	if len(l.entries) >= l.maxSize {
		evictedLive = l.evictOldest()
	}

	elem := l.order.PushBack(id)
	l.entries[id] = &entry{until: until, element: elem}
	return evictedLive
}

// Len returns the number of tracked ids, including expired ones not yet swept.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// evictOldest removes the oldest entry and reports whether it was still
// in force. Must be called with mu held.
func (l *List) evictOldest() bool {
	front := l.order.Front()
	if front == nil {
		return false
	}
	id, _ := front.Value.(string)
	live := l.clock.Now().Before(l.entries[id].until)
	l.order.Remove(front)
	delete(l.entries, id)
	return live
}

func (l *List) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.Sweep()
		case <-l.done:
			return
		}
	}
}

// Sweep removes every expired entry and returns how many were removed.
func (l *List) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked()
}

func (l *List) sweepLocked() int {
	now := l.clock.Now()
	n := 0
	for id, e := range l.entries {
		if !now.Before(e.until) {
			l.order.Remove(e.element)
			delete(l.entries, id)
			n++
		}
	}
	return n
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (l *List) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.closed {
		close(l.done)
		l.closed = true
	}
}
