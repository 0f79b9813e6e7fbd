// Package seen tracks which feed items have already been announced.
//
// The set is keyed by item ID and holds exactly one freshness marker per ID.
// It lives in memory and is mirrored to a storage.Backend after every commit.
package seen

import (
	"context"
	"sort"
	"sync"

	"relaybot/internal/storage"
)

type Store struct {
	backend storage.Backend

	// mu guards items and is never held across backend I/O.
	mu    sync.Mutex
	items map[string]string // id -> bumped_at

	// wmu serializes persists so the newest snapshot is always written last.
	wmu sync.Mutex
}

func New(backend storage.Backend) *Store {
	return &Store{backend: backend, items: map[string]string{}}
}

// Load replaces the in-memory set with the backend contents.
// On error the in-memory set is left empty; the caller decides whether to continue.
func (s *Store) Load(ctx context.Context) error {
	recs, err := s.backend.Load(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]string, len(recs))
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.ID == "" {
			continue
		}
		// Duplicate IDs in a hand-edited file collapse to the last entry.
		s.items[r.ID] = r.BumpedAt
	}
	return nil
}

// ContainsExact reports whether (id, bumpedAt) has been committed.
func (s *Store) ContainsExact(id, bumpedAt string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[id]
	return ok && v == bumpedAt
}

// Forget drops any record for id from memory only. The next Upsert persists the removal.
func (s *Store) Forget(id string) {
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

// Upsert records (id, bumpedAt), replacing any previous marker for id, then rewrites
// the backend with the full set. The in-memory update stands even if the write fails.
func (s *Store) Upsert(ctx context.Context, id, bumpedAt string) error {
	s.mu.Lock()
	s.items[id] = bumpedAt
	s.mu.Unlock()

	return s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.backend.Save(ctx, s.Records())
}

// Records returns a snapshot of the set sorted by ID.
func (s *Store) Records() []storage.Record {
	s.mu.Lock()
	recs := make([]storage.Record, 0, len(s.items))
	for id, at := range s.items {
		recs = append(recs, storage.Record{ID: id, BumpedAt: at})
	}
	s.mu.Unlock()

	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
