package contacts

import (
	"context"
	"sync"
)

type edgeKey struct{ owner, contact string }

// MemoryStore is a process-local Store with the edge lifecycle
// operations the identity service would normally own.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]User
	edges map[edgeKey]Edge
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]User),
		edges: make(map[edgeKey]Edge),
	}
}

// PutUser creates or replaces a user.
func (m *MemoryStore) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

// SetGhostMode toggles a user's ghost flag.
func (m *MemoryStore) SetGhostMode(userID string, on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[userID]
	u.ID = userID
	u.GhostMode = on
	m.users[userID] = u
}

// Request creates the pending pair of edges for a contact request.
func (m *MemoryStore) Request(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges[edgeKey{from, to}] = Edge{OwnerID: from, ContactID: to, State: StatePending}
	m.edges[edgeKey{to, from}] = Edge{OwnerID: to, ContactID: from, State: StatePending}
}

// Respond moves both edges to accepted or rejected.
func (m *MemoryStore) Respond(from, to string, accept bool) {
	state := StateRejected
	if accept {
		state = StateAccepted
	}
	m.setState(from, to, state)
}

// Remove marks both edges removed (unfriend).
func (m *MemoryStore) Remove(a, b string) {
	m.setState(a, b, StateRemoved)
}

// Block flags the blocker's edge.
func (m *MemoryStore) Block(blocker, blocked string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.edges[edgeKey{blocker, blocked}]
	e.OwnerID, e.ContactID, e.Blocked = blocker, blocked, true
	m.edges[edgeKey{blocker, blocked}] = e
}

// Befriend creates an accepted mutual relationship.
func (m *MemoryStore) Befriend(a, b string) {
	m.Request(a, b)
	m.Respond(a, b, true)
}

// PutEdge writes one directed edge as-is.
func (m *MemoryStore) PutEdge(e Edge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges[edgeKey{e.OwnerID, e.ContactID}] = e
}

func (m *MemoryStore) setState(a, b string, state EdgeState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range []edgeKey{{a, b}, {b, a}} {
		e := m.edges[k]
		e.OwnerID, e.ContactID, e.State = k.owner, k.contact, state
		m.edges[k] = e
	}
}

// PurgeUser removes every edge touching the user and flags the account deleted.
func (m *MemoryStore) PurgeUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.edges {
		if k.owner == userID || k.contact == userID {
			delete(m.edges, k)
		}
	}
	u := m.users[userID]
	u.ID = userID
	u.Deleted = true
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) GetUser(_ context.Context, userID string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *MemoryStore) Relationships(_ context.Context, userID string) ([]Relationship, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Relationship
	for k, e := range m.edges {
		if k.owner != userID {
			continue
		}
		r := Relationship{Outgoing: e, Contact: m.users[k.contact]}
		if r.Contact.ID == "" {
			r.Contact.ID = k.contact
		}
		if in, ok := m.edges[edgeKey{k.contact, userID}]; ok {
			in := in
			r.Incoming = &in
		}
		out = append(out, r)
	}
	return out, nil
}
