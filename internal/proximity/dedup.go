package proximity

import (
	"context"
	"time"
)

// Deduplicator enforces the per-pair nearby alert cooldown.
type Deduplicator struct {
	store    PairStore
	cooldown time.Duration
}

// NewDeduplicator creates a Deduplicator over store.
func NewDeduplicator(store PairStore, cooldown time.Duration) *Deduplicator {
	return &Deduplicator{store: store, cooldown: cooldown}
}

// ShouldAlert reports whether a nearby alert for key may fire at now. On
// true, LastAlertAt is set to now inside the same locked update, before
// the caller dispatches anything; a concurrent call for the same pair
// sees the new value and returns false.
//
// Samples are evaluated out of receipt order, so a LastAlertAt slightly
// after now belongs to the same cooldown window. Only a value more than
// one cooldown ahead is treated as corrupt and overwritten.
func (d *Deduplicator) ShouldAlert(ctx context.Context, key PairKey, now time.Time) (bool, error) {
	fire := false
	err := d.store.Update(ctx, key, func(s *PairState) error {
		switch {
		case s.LastAlertAt.IsZero():
			fire = true
		case s.LastAlertAt.After(now):
			fire = s.LastAlertAt.Sub(now) > d.cooldown
		default:
			fire = now.Sub(s.LastAlertAt) > d.cooldown
		}
		if fire {
			s.LastAlertAt = now
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	return fire, nil
}
