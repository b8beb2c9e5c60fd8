package store

import (
	"sort"
	"sync"
	"time"

	"github.com/clubindex/clubindex/pkg/types"
)

// Store is a thread-safe holder for the current snapshot and its build time.
//
// The installed map is never mutated after Replace, so the value returned by
// Snapshot can be iterated without holding any lock.
type Store struct {
	mu        sync.RWMutex
	data      types.Snapshot
	updatedAt time.Time
}

// New creates an empty Store. LastUpdated reports false until the first Replace.
func New() *Store {
	return &Store{data: types.Snapshot{}}
}

// Replace installs snap as the current snapshot, built at updatedAt.
// Callers must not modify snap after calling Replace.
func (s *Store) Replace(snap types.Snapshot, updatedAt time.Time) {
	if snap == nil {
		snap = types.Snapshot{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = snap
	s.updatedAt = updatedAt
}

// Snapshot returns the current snapshot and the time it was built.
// The returned map must be treated as read-only.
func (s *Store) Snapshot() (types.Snapshot, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.data, s.updatedAt
}

// LastUpdated returns the build time of the current snapshot and whether any
// snapshot has been installed yet.
func (s *Store) LastUpdated() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatedAt, !s.updatedAt.IsZero()
}

// Get returns the record with the given ID.
func (s *Store) Get(id string) (types.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.data[id]
	return r, ok
}

// Count returns the number of records in the current snapshot.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// IDs returns the IDs of the current snapshot in ascending order.
func (s *Store) IDs() []string {
	snap, _ := s.Snapshot()
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
