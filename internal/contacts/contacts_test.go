package contacts

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type brokenStore struct{}

func (brokenStore) GetUser(context.Context, string) (User, error) {
	return User{}, errors.New("boom")
}

func (brokenStore) Relationships(context.Context, string) ([]Relationship, error) {
	return nil, errors.New("boom")
}

func newFixture() *MemoryStore {
	m := NewMemoryStore()
	for _, id := range []string{"alice", "bob", "carol", "dave", "erin", "frank"} {
		m.PutUser(User{ID: id, DisplayName: id})
	}
	m.Befriend("alice", "bob")
	m.Befriend("alice", "carol")
	m.Befriend("alice", "dave")
	m.Request("alice", "erin") // never accepted
	return m
}

func TestVisibleContactsOf(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newFixture()
	g := NewGraph(m)

	got, err := g.VisibleContactsOf(ctx, "alice")
	if err != nil {
		t.Fatalf("visible contacts: %v", err)
	}
	if want := []string{"bob", "carol", "dave"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("visible = %v, want %v", got, want)
	}

	got, err = g.VisibleContactsOf(ctx, "bob")
	if err != nil {
		t.Fatalf("visible contacts: %v", err)
	}
	if want := []string{"alice"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("bob visible = %v, want %v", got, want)
	}
}

func TestVisibilityRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(m *MemoryStore)
		want   []string
	}{
		{"ghost contact hidden", func(m *MemoryStore) { m.SetGhostMode("bob", true) }, []string{"carol", "dave"}},
		{"blocked by contact", func(m *MemoryStore) { m.Block("carol", "alice") }, []string{"bob", "dave"}},
		{"blocked by owner", func(m *MemoryStore) { m.Block("alice", "carol") }, []string{"bob", "dave"}},
		{"removed", func(m *MemoryStore) { m.Remove("alice", "dave") }, []string{"bob", "carol"}},
		{"rejected", func(m *MemoryStore) { m.Respond("alice", "erin", false) }, []string{"bob", "carol", "dave"}},
		{"one-sided accept", func(m *MemoryStore) {
			m.PutEdge(Edge{OwnerID: "alice", ContactID: "frank", State: StateAccepted})
		}, []string{"bob", "carol", "dave"}},
		{"self edge ignored", func(m *MemoryStore) {
			m.PutEdge(Edge{OwnerID: "alice", ContactID: "alice", State: StateAccepted})
		}, []string{"bob", "carol", "dave"}},
		{"deleted contact", func(m *MemoryStore) { _ = m.PurgeUser(context.Background(), "bob") }, []string{"carol", "dave"}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := newFixture()
			tt.mutate(m)
			got, err := NewGraph(m).VisibleContactsOf(context.Background(), "alice")
			if err != nil {
				t.Fatalf("visible contacts: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("visible = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEmergencyContactsIgnoreGhostMode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newFixture()
	m.SetGhostMode("bob", true)
	g := NewGraph(m)

	got, err := g.EmergencyContactsOf(ctx, "alice")
	if err != nil {
		t.Fatalf("emergency contacts: %v", err)
	}
	if want := []string{"bob", "carol", "dave"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("emergency contacts = %v, want %v", got, want)
	}

	// A ghost sender still reaches its contacts.
	got, err = g.EmergencyContactsOf(ctx, "bob")
	if err != nil {
		t.Fatalf("emergency contacts: %v", err)
	}
	if want := []string{"alice"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("ghost sender contacts = %v, want %v", got, want)
	}
}

func TestIsVisibleAndAreVisibleContacts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := newFixture()
	m.SetGhostMode("carol", true)
	g := NewGraph(m)

	if ok, err := g.IsVisible(ctx, "alice"); err != nil || !ok {
		t.Fatalf("alice visible = %v, %v", ok, err)
	}
	if ok, err := g.IsVisible(ctx, "carol"); err != nil || ok {
		t.Fatalf("carol visible = %v, %v", ok, err)
	}
	if ok, err := g.IsVisible(ctx, "nobody"); err != nil || ok {
		t.Fatalf("unknown user visible = %v, %v", ok, err)
	}
	if ok, _ := g.AreVisibleContacts(ctx, "alice", "bob"); !ok {
		t.Fatal("expected alice and bob to be visible contacts")
	}
	if ok, _ := g.AreVisibleContacts(ctx, "alice", "carol"); ok {
		t.Fatal("ghost contact reported visible")
	}
}

func TestGraphSurfacesStoreErrors(t *testing.T) {
	t.Parallel()

	g := NewGraph(brokenStore{})
	if _, err := g.VisibleContactsOf(context.Background(), "alice"); err == nil {
		t.Fatal("expected error")
	}
	if _, err := g.IsVisible(context.Background(), "alice"); err == nil {
		t.Fatal("expected error")
	}
}
