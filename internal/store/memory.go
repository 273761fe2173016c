package store

import (
	"context"
	"sync"

	"github.com/sells-group/proximity-cli/internal/geo"
	"github.com/sells-group/proximity-cli/internal/model"
)

// MemoryStore is an in-process Store. It enforces external id uniqueness
// under its lock.
type MemoryStore struct {
	mu         sync.RWMutex
	entities   map[string]model.Entity
	byExternal map[string]string
	buckets    map[int]map[string][]string
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	s := &MemoryStore{
		entities:   make(map[string]model.Entity),
		byExternal: make(map[string]string),
		buckets:    make(map[int]map[string][]string, len(geo.IndexPrecisions)),
	}
	for _, p := range geo.IndexPrecisions {
		s.buckets[p] = make(map[string][]string)
	}
	return s
}

func (s *MemoryStore) QueryByBucket(ctx context.Context, precision int, bucket string) ([]model.Entity, error) {
	if err := checkPrecision(precision); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.buckets[precision][bucket]
	out := make([]model.Entity, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.entities[id].Clone())
	}
	return out, nil
}

func (s *MemoryStore) QueryByExternalID(ctx context.Context, externalID string) (*model.Entity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byExternal[externalID]
	if !ok {
		return nil, nil
	}
	e := s.entities[id].Clone()
	return &e, nil
}

func (s *MemoryStore) Insert(ctx context.Context, e *model.Entity) error {
	if err := checkEntity(e); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byExternal[e.ExternalID]; ok {
		return ErrAlreadyExists
	}
	if _, ok := s.entities[e.ID]; ok {
		return ErrAlreadyExists
	}

	stored := e.Clone()
	hashes := indexHashes(&stored)
	stored.Geohashes = make(map[int]string, len(hashes))
	for i, p := range geo.IndexPrecisions {
		stored.Geohashes[p] = hashes[i]
		s.buckets[p][hashes[i]] = append(s.buckets[p][hashes[i]], stored.ID)
	}
	s.entities[stored.ID] = stored
	s.byExternal[stored.ExternalID] = stored.ID
	return nil
}

// Len returns the number of stored entities.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entities)
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
