package conversation

import (
	"context"
	"sync"
)

// ContextStore persists live conversation contexts per user.
type ContextStore interface {
	// Load returns the user's context, or nil when the user has none yet.
	Load(ctx context.Context, userID string) (*Context, error)
	Save(ctx context.Context, c *Context) error
	Delete(ctx context.Context, userID string) error
}

// InMemoryContextStore keeps contexts for the lifetime of the process.
type InMemoryContextStore struct {
	mu       sync.RWMutex
	contexts map[string]*Context
}

// NewInMemoryContextStore creates an empty store.
func NewInMemoryContextStore() *InMemoryContextStore {
	return &InMemoryContextStore{contexts: make(map[string]*Context)}
}

func (s *InMemoryContextStore) Load(_ context.Context, userID string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.contexts[userID]
	if !ok {
		return nil, nil
	}
	return c.clone(), nil
}

func (s *InMemoryContextStore) Save(_ context.Context, c *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.contexts[c.UserID] = c.clone()
	return nil
}

func (s *InMemoryContextStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.contexts, userID)
	return nil
}
