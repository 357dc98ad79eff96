package cache

import (
	"maps"
	"sync"
	"time"
)

// Entry is one cached payload and the time it was written.
type Entry[T any] struct {
	Payload   T         `json:"payload"`
	WrittenAt time.Time `json:"written_at"`
}

// Region is one independently keyed partition of the results cache.
type Region[T any] struct {
	name    string
	owner   *Results
	mu      sync.RWMutex
	entries map[string]Entry[T]
}

func newRegion[T any](name string, owner *Results) *Region[T] {
	return &Region[T]{name: name, owner: owner, entries: make(map[string]Entry[T])}
}

// Name returns the region name used in logs and metrics.
func (r *Region[T]) Name() string { return r.name }

// Get returns the payload stored under key if it is still fresh. An expired entry
// is removed and reported as absent.
func (r *Region[T]) Get(key string) (T, bool) {
	now := r.owner.now()

	r.mu.RLock()
	entry, ok := r.entries[key]
	r.mu.RUnlock()

	if ok && r.owner.fresh(entry.WrittenAt, now) {
		r.owner.metrics.CacheHit(r.name)
		return entry.Payload, true
	}
	if ok {
		r.mu.Lock()
		// Another writer may have refreshed the key in between.
		if current, still := r.entries[key]; still && !r.owner.fresh(current.WrittenAt, now) {
			delete(r.entries, key)
			r.owner.metrics.CacheEvicted(1)
		}
		r.mu.Unlock()
	}
	r.owner.metrics.CacheMiss(r.name)
	var zero T
	return zero, false
}

// Set stores value under key stamped with the current time, replacing any
// previous entry. The change reaches the slot on the next Flush.
func (r *Region[T]) Set(key string, value T) {
	r.mu.Lock()
	r.entries[key] = Entry[T]{Payload: value, WrittenAt: r.owner.now()}
	r.mu.Unlock()
	r.owner.dirty.Store(true)
}

// Delete removes key from the region.
func (r *Region[T]) Delete(key string) {
	r.mu.Lock()
	_, ok := r.entries[key]
	delete(r.entries, key)
	r.mu.Unlock()
	if ok {
		r.owner.dirty.Store(true)
	}
}

// Len returns the number of stored entries, fresh or not.
func (r *Region[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Region[T]) sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for key, entry := range r.entries {
		if !r.owner.fresh(entry.WrittenAt, now) {
			delete(r.entries, key)
			removed++
		}
	}
	return removed
}

func (r *Region[T]) reset() {
	r.mu.Lock()
	r.entries = make(map[string]Entry[T])
	r.mu.Unlock()
}

func (r *Region[T]) snapshot() map[string]Entry[T] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return maps.Clone(r.entries)
}

func (r *Region[T]) load(entries map[string]Entry[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, entry := range entries {
		r.entries[key] = entry
	}
}
