package repository

import (
	"context"
	"slices"
	"sync"

	"github.com/okian/atlasbatch/internal/domain/model"
)

// MemoryStore keeps records for the lifetime of the process.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]model.OrderRecord
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]model.OrderRecord)}
}

func (s *MemoryStore) Get(_ context.Context, customerRef string) (model.OrderRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[customerRef]
	if !ok {
		return model.OrderRecord{}, ErrNotFound
	}
	return rec, nil
}

func (s *MemoryStore) Upsert(_ context.Context, rec model.OrderRecord) error {
	if rec.CustomerRef == "" {
		return ErrInvalidRef
	}
	s.mu.Lock()
	s.records[rec.CustomerRef] = rec
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]model.OrderRecord, error) {
	s.mu.RLock()
	out := make([]model.OrderRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	s.mu.RUnlock()
	sortRecords(out)
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

func sortRecords(recs []model.OrderRecord) {
	slices.SortFunc(recs, func(a, b model.OrderRecord) int {
		if a.SiteID != b.SiteID {
			return a.SiteID - b.SiteID
		}
		return a.Rank - b.Rank
	})
}
