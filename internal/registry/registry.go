// Package registry implements the announcement store behind the directory:
// a multimap from client address to announced instances, bounded in keys
// and expired lazily by TTL.
//
// A Registry does no locking. Insert, CleanKey and Clean mutate and need
// exclusive access; Get, Len and EntryCount only read and may share access
// with each other but never with a mutator.
package registry

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Registry maps client addresses to the entries announced from them.
type Registry[K comparable, ID comparable] struct {
	buckets  map[K][]Entry[ID]
	ttl      time.Duration
	capacity int
	clock    clock.Clock
}

// Option customises a Registry at construction.
type Option func(*options)

type options struct {
	clock clock.Clock
}

// WithClock replaces the wall clock used for timestamps and expiry.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// New creates a registry holding at most capacity keys whose entries live for ttl.
func New[K comparable, ID comparable](capacity int, ttl time.Duration, opts ...Option) *Registry[K, ID] {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Registry[K, ID]{
		buckets:  make(map[K][]Entry[ID], capacity),
		ttl:      ttl,
		capacity: capacity,
		clock:    o.clock,
	}
}

// TTL returns the configured entry lifetime.
func (r *Registry[K, ID]) TTL() time.Duration { return r.ttl }

// Capacity returns the maximum number of keys.
func (r *Registry[K, ID]) Capacity() int { return r.capacity }

// Len returns the number of keys currently stored, stale or not.
func (r *Registry[K, ID]) Len() int { return len(r.buckets) }

// EntryCount returns the number of stored entries across all keys.
func (r *Registry[K, ID]) EntryCount() int {
	n := 0
	for _, bucket := range r.buckets {
		n += len(bucket)
	}
	return n
}

// Insert stores or refreshes the announcement of id under key.
// A new key is only admitted while the registry is below capacity; when it
// is full a complete clean runs first and the insert is retried once.
// It returns false when the key could not be admitted.
func (r *Registry[K, ID]) Insert(key K, id ID, name string) bool {
	now := r.clock.Now()
	if bucket, ok := r.buckets[key]; ok {
		r.buckets[key] = upsert(bucket, id, name, now)
		return true
	}
	if len(r.buckets) >= r.capacity {
		r.Clean()
		if len(r.buckets) >= r.capacity {
			return false
		}
	}
	r.buckets[key] = []Entry[ID]{{ID: id, Name: name, Updated: now}}
	return true
}

func upsert[ID comparable](bucket []Entry[ID], id ID, name string, now time.Time) []Entry[ID] {
	for i := range bucket {
		if bucket[i].ID == id {
			bucket[i].refresh(name, now)
			return bucket
		}
	}
	return append(bucket, Entry[ID]{ID: id, Name: name, Updated: now})
}

// Get returns copies of the fresh entries under key. dirty is true when the
// key still holds at least one stale entry; ok is false when key is unknown.
// Get never modifies the registry.
func (r *Registry[K, ID]) Get(key K) (entries []Entry[ID], dirty bool, ok bool) {
	bucket, ok := r.buckets[key]
	if !ok {
		return nil, false, false
	}
	now := r.clock.Now()
	entries = make([]Entry[ID], 0, len(bucket))
	for _, e := range bucket {
		if e.Valid(now, r.ttl) {
			entries = append(entries, e)
		}
	}
	return entries, len(entries) != len(bucket), true
}

// CleanKey drops the stale entries under key, and key itself once empty.
func (r *Registry[K, ID]) CleanKey(key K) {
	bucket, ok := r.buckets[key]
	if !ok {
		return
	}
	r.retain(key, bucket, r.clock.Now())
}

// Clean drops every stale entry and every key left without entries.
func (r *Registry[K, ID]) Clean() {
	now := r.clock.Now()
	for key, bucket := range r.buckets {
		r.retain(key, bucket, now)
	}
}

func (r *Registry[K, ID]) retain(key K, bucket []Entry[ID], now time.Time) {
	kept := bucket[:0]
	for _, e := range bucket {
		if e.Valid(now, r.ttl) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(r.buckets, key)
		return
	}
	// zero the tail so dropped entries do not pin their IDs
	var zero Entry[ID]
	for i := len(kept); i < len(bucket); i++ {
		bucket[i] = zero
	}
	r.buckets[key] = kept
}
