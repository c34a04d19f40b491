// Package contacts is the read-only view of who matters to a user.
//
// A relationship is stored as two directed edges (A->B and B->A). The
// graph only reports a contact when both edges are accepted and neither
// side has blocked the other. All privacy filtering lives here: proximity
// evaluation and emergency fan-out both ask the Graph instead of reading
// edges themselves.
package contacts

import (
	"context"
	"errors"
	"fmt"
	"sort"
)

// ErrUserNotFound indicates an unknown user id.
var ErrUserNotFound = errors.New("user not found")

// EdgeState is the lifecycle state of one directed edge.
type EdgeState string

const (
	StatePending  EdgeState = "pending"
	StateAccepted EdgeState = "accepted"
	StateRejected EdgeState = "rejected"
	StateRemoved  EdgeState = "removed"
)

// User is the subset of the account record the engine needs.
type User struct {
	ID           string
	DisplayName  string
	BatteryLevel *int
	// GhostMode hides the user from everyone else's proximity and meeting
	// evaluation. Emergency broadcasts are unaffected.
	GhostMode bool
	Deleted   bool
}

// Edge is one directed pointer from OwnerID to ContactID.
type Edge struct {
	OwnerID   string
	ContactID string
	State     EdgeState
	Blocked   bool
}

// Relationship is an outgoing edge joined with its reverse edge (nil when
// missing) and the contact's user record.
type Relationship struct {
	Outgoing Edge
	Incoming *Edge
	Contact  User
}

// Store reads raw relationship data.
type Store interface {
	GetUser(ctx context.Context, userID string) (User, error)
	Relationships(ctx context.Context, userID string) ([]Relationship, error)
}

// Graph applies the visibility rules on top of a Store.
type Graph struct {
	store Store
}

// NewGraph creates a Graph.
func NewGraph(store Store) *Graph {
	return &Graph{store: store}
}

// mutual reports whether r is an accepted, unblocked edge in both directions.
func mutual(userID string, r Relationship) bool {
	if r.Outgoing.ContactID == userID || r.Outgoing.ContactID == "" {
		return false
	}
	if r.Outgoing.State != StateAccepted || r.Outgoing.Blocked {
		return false
	}
	if r.Incoming == nil || r.Incoming.State != StateAccepted || r.Incoming.Blocked {
		return false
	}
	return !r.Contact.Deleted
}

// VisibleContactsOf returns the mutual contacts of userID that are not in
// ghost mode, sorted by id. Never includes userID itself.
func (g *Graph) VisibleContactsOf(ctx context.Context, userID string) ([]string, error) {
	return g.collect(ctx, userID, func(r Relationship) bool { return !r.Contact.GhostMode })
}

// EmergencyContactsOf returns every mutual contact regardless of ghost
// mode. Ghost mode hides position, not the ability to receive an SOS.
func (g *Graph) EmergencyContactsOf(ctx context.Context, userID string) ([]string, error) {
	return g.collect(ctx, userID, func(Relationship) bool { return true })
}

// IsVisible reports whether userID takes part in proximity evaluation.
func (g *Graph) IsVisible(ctx context.Context, userID string) (bool, error) {
	u, err := g.store.GetUser(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get user: %w", err)
	}
	return !u.GhostMode && !u.Deleted, nil
}

// AreVisibleContacts reports whether b is in a's visible contact set.
func (g *Graph) AreVisibleContacts(ctx context.Context, a, b string) (bool, error) {
	ids, err := g.VisibleContactsOf(ctx, a)
	if err != nil {
		return false, err
	}
	i := sort.SearchStrings(ids, b)
	return i < len(ids) && ids[i] == b, nil
}

func (g *Graph) collect(ctx context.Context, userID string, keep func(Relationship) bool) ([]string, error) {
	rels, err := g.store.Relationships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	seen := make(map[string]struct{}, len(rels))
	out := make([]string, 0, len(rels))
	for _, r := range rels {
		if !mutual(userID, r) || !keep(r) {
			continue
		}
		id := r.Outgoing.ContactID
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}
