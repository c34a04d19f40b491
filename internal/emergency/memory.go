package emergency

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/albapepper/proximity-alerts/internal/notifications"
)

// DeliveryRecord is one stored delivery attempt.
type DeliveryRecord struct {
	AlertID string
	Kind    notifications.Kind
	notifications.Delivery
}

// MemoryStore is a process-local Store.
type MemoryStore struct {
	mu         sync.RWMutex
	alerts     map[string]Alert
	deliveries []DeliveryRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{alerts: make(map[string]Alert)}
}

func (m *MemoryStore) CreateAlert(_ context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.RecipientIDs = slices.Clone(a.RecipientIDs)
	m.alerts[a.ID] = a
	return nil
}

func (m *MemoryStore) GetAlert(_ context.Context, id string) (Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	if !ok {
		return Alert{}, ErrNotFound
	}
	a.RecipientIDs = slices.Clone(a.RecipientIDs)
	return a, nil
}

func (m *MemoryStore) ResolveAlert(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.alerts[id]
	if !ok {
		return false, ErrNotFound
	}
	if a.Status == StatusResolved {
		return false, nil
	}
	a.Status = StatusResolved
	a.ResolvedAt = &at
	m.alerts[id] = a
	return true, nil
}

func (m *MemoryStore) RecordDeliveries(_ context.Context, alertID string, kind notifications.Kind, ds []notifications.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range ds {
		m.deliveries = append(m.deliveries, DeliveryRecord{AlertID: alertID, Kind: kind, Delivery: d})
	}
	return nil
}

func (m *MemoryStore) ActiveAlertsFor(_ context.Context, userID string) ([]Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Alert{}
	for _, a := range m.alerts {
		if a.Status != StatusActive {
			continue
		}
		if a.SenderID == userID || slices.Contains(a.RecipientIDs, userID) {
			a.RecipientIDs = slices.Clone(a.RecipientIDs)
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Deliveries returns the stored delivery rows for an alert.
func (m *MemoryStore) Deliveries(alertID string) []DeliveryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []DeliveryRecord
	for _, d := range m.deliveries {
		if d.AlertID == alertID {
			out = append(out, d)
		}
	}
	return out
}

// Prune removes alerts resolved before the cutoff, with their deliveries.
func (m *MemoryStore) Prune(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for id, a := range m.alerts {
		if a.Status == StatusResolved && a.ResolvedAt != nil && a.ResolvedAt.Before(before) {
			delete(m.alerts, id)
			n++
		}
	}
	kept := m.deliveries[:0]
	for _, d := range m.deliveries {
		if _, ok := m.alerts[d.AlertID]; ok {
			kept = append(kept, d)
		}
	}
	m.deliveries = kept
	return n, nil
}
