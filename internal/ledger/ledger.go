// Package ledger keeps the latest position of every user plus a short,
// bounded window of recent positions used for meeting evaluation.
//
// The latest sample lives in the location store (last write wins, in
// server receipt order). The recent window is process-local and only
// feeds the meeting detector; losing it never affects latest-position
// queries.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/albapepper/proximity-alerts/internal/geo"
)

// ErrNotFound indicates no location has been recorded for a user.
var ErrNotFound = errors.New("location not found")

// DefaultLookback bounds the recent window.
const DefaultLookback = 10 * time.Minute

// Sample is one reported position.
type Sample struct {
	OwnerID    string    `json:"owner_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
	// ReceivedAt is stamped by the server and orders samples.
	ReceivedAt time.Time `json:"received_at"`
}

// Point returns the sample's coordinates.
func (s Sample) Point() geo.Point {
	return geo.Point{Latitude: s.Latitude, Longitude: s.Longitude}
}

// Validate rejects out-of-range coordinates and non-positive accuracy.
func (s Sample) Validate() error {
	if err := geo.ValidateCoordinates(s.Latitude, s.Longitude); err != nil {
		return err
	}
	if math.IsNaN(s.Accuracy) || s.Accuracy <= 0 {
		return fmt.Errorf("%w: accuracy %v must be positive", geo.ErrInvalidCoordinates, s.Accuracy)
	}
	return nil
}

// Store is the persistent location store. GetLatestLocation returns
// ErrNotFound when the user never reported a position.
type Store interface {
	PutLocation(ctx context.Context, userID string, s Sample) error
	GetLatestLocation(ctx context.Context, userID string) (Sample, error)
}

// Ledger fronts the location store and owns the recent windows.
type Ledger struct {
	store    Store
	lookback time.Duration

	mu      sync.Mutex
	windows map[string][]Sample
}

// New creates a ledger. A non-positive lookback uses DefaultLookback.
func New(store Store, lookback time.Duration) *Ledger {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	return &Ledger{
		store:    store,
		lookback: lookback,
		windows:  make(map[string][]Sample),
	}
}

// Record validates the sample, overwrites the user's latest position in
// the store and appends it to the recent window.
func (l *Ledger) Record(ctx context.Context, userID string, s Sample) (Sample, error) {
	s.OwnerID = userID
	if err := s.Validate(); err != nil {
		return Sample{}, err
	}
	if err := l.store.PutLocation(ctx, userID, s); err != nil {
		return Sample{}, fmt.Errorf("put location: %w", err)
	}
	l.Observe(userID, s)
	return s, nil
}

// Observe inserts an already-persisted sample into the recent window in
// ReceivedAt order and drops samples older than the lookback relative to
// the newest one. Concurrent writers may call it out of receipt order.
func (l *Ledger) Observe(userID string, s Sample) {
	s.OwnerID = userID

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.windows[userID]
	i := sort.Search(len(w), func(i int) bool { return w[i].ReceivedAt.After(s.ReceivedAt) })
	w = slices.Insert(w, i, s)

	cutoff := w[len(w)-1].ReceivedAt.Add(-l.lookback)
	l.windows[userID] = slices.DeleteFunc(w, func(x Sample) bool { return x.ReceivedAt.Before(cutoff) })
}

// Latest returns the user's most recent sample from the store.
func (l *Ledger) Latest(ctx context.Context, userID string) (Sample, bool, error) {
	s, err := l.store.GetLatestLocation(ctx, userID)
	if errors.Is(err, ErrNotFound) {
		return Sample{}, false, nil
	}
	if err != nil {
		return Sample{}, false, fmt.Errorf("get latest location: %w", err)
	}
	return s, true, nil
}

// RecentWindow returns a copy of the user's recent samples, oldest first.
func (l *Ledger) RecentWindow(userID string) []Sample {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Sample(nil), l.windows[userID]...)
}

// Purger is implemented by stores that can erase a user's locations.
type Purger interface {
	PurgeUser(ctx context.Context, userID string) error
}

// PurgeUser erases the user's stored locations, when the store supports
// it, and drops the recent window (account deletion).
func (l *Ledger) PurgeUser(ctx context.Context, userID string) error {
	if p, ok := l.store.(Purger); ok {
		if err := p.PurgeUser(ctx, userID); err != nil {
			return fmt.Errorf("purge locations: %w", err)
		}
	}
	l.mu.Lock()
	delete(l.windows, userID)
	l.mu.Unlock()
	return nil
}

// Prune drops windows whose newest sample is older than before. It keeps
// memory bounded for users who stopped reporting.
func (l *Ledger) Prune(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for id, w := range l.windows {
		if len(w) == 0 || w[len(w)-1].ReceivedAt.Before(before) {
			delete(l.windows, id)
			n++
		}
	}
	return n, nil
}
