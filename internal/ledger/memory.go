package ledger

import (
	"context"
	"sync"
)

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu     sync.RWMutex
	latest map[string]Sample
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{latest: make(map[string]Sample)}
}

func (m *MemoryStore) PutLocation(_ context.Context, userID string, s Sample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latest[userID] = s
	return nil
}

func (m *MemoryStore) GetLatestLocation(_ context.Context, userID string) (Sample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.latest[userID]
	if !ok {
		return Sample{}, ErrNotFound
	}
	return s, nil
}

// PurgeUser removes the user's latest location.
func (m *MemoryStore) PurgeUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.latest, userID)
	return nil
}
