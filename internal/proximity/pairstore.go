package proximity

import (
	"context"
	"sync"
	"time"
)

// PairStore is the keyed store behind the deduplicator and the meeting
// detector. Update must serialize calls for the same key; calls for
// different keys may run concurrently. If fn returns an error the state
// is left unchanged.
type PairStore interface {
	Update(ctx context.Context, key PairKey, fn func(*PairState) error) error
	Get(ctx context.Context, key PairKey) (PairState, bool, error)
}

type pairEntry struct {
	mu      sync.Mutex
	state   PairState
	removed bool
}

// MemoryPairStore keeps pair state in process memory with one mutex per
// pair. State is lost on restart, which only delays the next alert or
// restarts an episode.
type MemoryPairStore struct {
	mu      sync.Mutex
	entries map[PairKey]*pairEntry
}

// NewMemoryPairStore creates an empty store.
func NewMemoryPairStore() *MemoryPairStore {
	return &MemoryPairStore{entries: make(map[PairKey]*pairEntry)}
}

func (m *MemoryPairStore) entry(key PairKey) *pairEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		e = &pairEntry{state: PairState{Key: key}}
		m.entries[key] = e
	}
	return e
}

func (m *MemoryPairStore) Update(ctx context.Context, key PairKey, fn func(*PairState) error) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e := m.entry(key)
		e.mu.Lock()
		if e.removed {
			// Pruned between lookup and lock; fetch the replacement.
			e.mu.Unlock()
			continue
		}
		next := e.state
		err := fn(&next)
		if err == nil {
			next.Key = key
			e.state = next
		}
		e.mu.Unlock()
		return err
	}
}

func (m *MemoryPairStore) Get(_ context.Context, key PairKey) (PairState, bool, error) {
	m.mu.Lock()
	e, ok := m.entries[key]
	m.mu.Unlock()
	if !ok {
		return PairState{}, false, nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return PairState{}, false, nil
	}
	return e.state, true, nil
}

// Len returns the number of tracked pairs.
func (m *MemoryPairStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Prune drops pairs not evaluated or alerted since before.
func (m *MemoryPairStore) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, e := range m.entries {
		e.mu.Lock()
		idle := e.state.LastEvaluatedAt.Before(before) && e.state.LastAlertAt.Before(before)
		if idle {
			e.removed = true
			delete(m.entries, key)
			n++
		}
		e.mu.Unlock()
	}
	return n, nil
}
