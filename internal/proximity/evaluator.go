package proximity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/albapepper/proximity-alerts/internal/geo"
	"github.com/albapepper/proximity-alerts/internal/ledger"
)

// ContactGraph is the privacy authority consulted before any evaluation.
type ContactGraph interface {
	VisibleContactsOf(ctx context.Context, userID string) ([]string, error)
	IsVisible(ctx context.Context, userID string) (bool, error)
}

// LocationReader returns a user's latest sample; ok is false when the
// user never reported one.
type LocationReader interface {
	Latest(ctx context.Context, userID string) (s ledger.Sample, ok bool, err error)
}

// Candidate is one evaluated contact.
type Candidate struct {
	ContactID string
	Key       PairKey
	Contact   ledger.Sample
	Distance  float64
	Class     Class
	// Stale contacts are always classified far.
	Stale bool
}

// Evaluator computes the distance from a fresh sample to every visible
// contact. The scan is O(contacts) per update; contact lists are small.
type Evaluator struct {
	graph     ContactGraph
	locations LocationReader
	settings  Settings
	logger    *slog.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(graph ContactGraph, locations LocationReader, settings Settings, logger *slog.Logger) *Evaluator {
	return &Evaluator{graph: graph, locations: locations, settings: settings.withDefaults(), logger: logger}
}

// Evaluate classifies every visible contact of sample.OwnerID. Contacts
// without a known location are skipped; a failed lookup for one contact
// is logged and skipped without affecting the others.
func (e *Evaluator) Evaluate(ctx context.Context, sample ledger.Sample, now time.Time) ([]Candidate, error) {
	userID := sample.OwnerID

	gctx, cancel := context.WithTimeout(ctx, e.settings.IOTimeout)
	contacts, err := e.graph.VisibleContactsOf(gctx, userID)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("visible contacts: %w", err)
	}

	out := make([]Candidate, 0, len(contacts))
	for _, contactID := range contacts {
		lctx, cancel := context.WithTimeout(ctx, e.settings.IOTimeout)
		other, ok, err := e.locations.Latest(lctx, contactID)
		cancel()
		if err != nil {
			e.logger.Warn("contact location lookup failed", "user_id", userID, "contact_id", contactID, "error", err)
			continue
		}
		if !ok {
			continue
		}

		c := Candidate{
			ContactID: contactID,
			Key:       NewPairKey(userID, contactID),
			Contact:   other,
			Distance:  geo.Distance(sample.Point(), other.Point()),
		}
		c.Stale = now.Sub(other.ReceivedAt) > e.settings.StalenessWindow
		if c.Stale {
			c.Class = ClassFar
		} else {
			c.Class = Classify(c.Distance, e.settings)
		}
		out = append(out, c)
	}
	return out, nil
}
