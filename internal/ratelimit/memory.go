// ABOUTME: In-memory bucket store with one mutex per key
// ABOUTME: Different keys proceed without contention; the same key is serialized

package ratelimit

import (
	"context"
	"sync"
	"time"
)

type memoryBucket struct {
	mu      sync.Mutex
	bucket  Bucket
	exists  bool
	removed bool // set by Prune; holders must fetch a fresh slot
}

// MemoryStore keeps buckets in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[Key]*memoryBucket
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[Key]*memoryBucket)}
}

// Hit implements BucketStore.
func (s *MemoryStore) Hit(_ context.Context, key Key, rule Rule, now time.Time) (Bucket, error) {
	for {
		mb := s.entry(key)

		mb.mu.Lock()
		if mb.removed {
			mb.mu.Unlock()
			continue
		}
		mb.bucket = Advance(mb.bucket, mb.exists, rule, now)
		mb.exists = true
		b := mb.bucket
		mb.mu.Unlock()
		return b, nil
	}
}

// entry returns the per-key slot, creating it under the write lock if needed.
func (s *MemoryStore) entry(key Key) *memoryBucket {
	s.mu.RLock()
	mb, ok := s.buckets[key]
	s.mu.RUnlock()
	if ok {
		return mb
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Double-check after acquiring write lock
	if mb, ok := s.buckets[key]; ok {
		return mb
	}
	mb = &memoryBucket{}
	s.buckets[key] = mb
	return mb
}

// Prune implements Pruner.
func (s *MemoryStore) Prune(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for key, mb := range s.buckets {
		mb.mu.Lock()
		stale := mb.exists && mb.bucket.WindowStart.Before(before)
		if stale {
			mb.removed = true
		}
		mb.mu.Unlock()
		if stale {
			delete(s.buckets, key)
			n++
		}
	}
	return n, nil
}

// Len returns the number of tracked keys.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buckets)
}
