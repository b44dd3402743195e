package memory

import (
	"context"
	"fmt"
	"sync"
)

// Store is an append-only collection of records searchable by similarity.
// A nil or all-zero query scores every record 0, so results come back in
// recency order.
type Store interface {
	Add(ctx context.Context, rec Record) error
	Search(ctx context.Context, query []float32, limit int) ([]ScoredRecord, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// InMemoryStore keeps records in process memory.
type InMemoryStore struct {
	mu      sync.RWMutex
	records []Record
	dims    int
}

// NewInMemoryStore creates a store for vectors of length dims.
func NewInMemoryStore(dims int) *InMemoryStore {
	return &InMemoryStore{dims: dims}
}

func (s *InMemoryStore) Add(_ context.Context, rec Record) error {
	if len(rec.Embedding) != s.dims {
		return fmt.Errorf("record %s has %d dimensions, store has %d: %w", rec.ID, len(rec.Embedding), s.dims, ErrDimensionMismatch)
	}

	rec.Context = append([]string(nil), rec.Context...)
	rec.Embedding = append([]float32(nil), rec.Embedding...)

	s.mu.Lock()
	s.records = append(s.records, rec)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Search(_ context.Context, query []float32, limit int) ([]ScoredRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Rank(s.records, query, limit), nil
}

func (s *InMemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records), nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
