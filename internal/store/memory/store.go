// Package memory provides an in-process work store with the same
// compare-and-update semantics as the redis store. It backs tests and
// single-node development runs; production deployments share a redis store
// across engine instances.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mineproxy/gmp/internal/store"
	"github.com/mineproxy/gmp/internal/verify"
	"github.com/mineproxy/gmp/internal/work"
)

// Store is a mutex-guarded in-memory work store.
type Store struct {
	mu       sync.Mutex
	items    map[string]*work.Item
	keys     map[string][]byte
	counters map[string]int64
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		items:    make(map[string]*work.Item),
		keys:     make(map[string][]byte),
		counters: make(map[string]int64),
	}
}

// Get loads a work item by id.
func (s *Store) Get(_ context.Context, id string) (*work.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return item.Clone(), nil
}

// Put creates a work item with version 1.
func (s *Store) Put(_ context.Context, item *work.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := item.Clone()
	stored.Version = 1
	s.items[item.ID] = stored
	item.Version = 1
	return nil
}

// ListCandidates returns up to limit non-terminal items, earliest created first.
func (s *Store) ListCandidates(_ context.Context, limit int) ([]*work.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []*work.Item
	for _, item := range s.items {
		if !item.State.Terminal() {
			candidates = append(candidates, item.Clone())
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates, nil
}

// CompareAndUpdate replaces the stored record iff the version guard holds.
func (s *Store) CompareAndUpdate(_ context.Context, expectedVersion int64, item *work.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.items[item.ID]
	if !ok {
		return store.ErrNotFound
	}
	if current.Version != expectedVersion {
		return store.ErrVersionConflict
	}

	stored := item.Clone()
	stored.Version = expectedVersion + 1
	s.items[item.ID] = stored
	item.Version = stored.Version
	return nil
}

// Health always succeeds for the in-memory store.
func (s *Store) Health(_ context.Context) error {
	return nil
}

// RegisterMiner stores a miner's public credential.
func (s *Store) RegisterMiner(_ context.Context, minerID string, pubKey []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := make([]byte, len(pubKey))
	copy(key, pubKey)
	s.keys[minerID] = key
	return nil
}

// MinerKey resolves a miner's public credential.
func (s *Store) MinerKey(_ context.Context, minerID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key, ok := s.keys[minerID]
	if !ok {
		return nil, verify.ErrUnknownMiner
	}
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}

// IncrInvalid increments the per-miner invalid submission counter.
// The window is ignored in-process; counters live for the process lifetime.
func (s *Store) IncrInvalid(_ context.Context, minerID string, _ time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[minerID]++
	return s.counters[minerID], nil
}
