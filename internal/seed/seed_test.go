package seed

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/albapepper/proximity-alerts/internal/contacts"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestApplySeedsGraph(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	data := `{
		"users": [{"id": "alice", "name": "Alice"}, {"id": "bob"}, {"id": "ghost", "ghost": true}, {"name": "nobody"}],
		"contacts": [["alice", "bob"], ["alice", "ghost"], ["alice", "alice"], ["alice", "zed"]]
	}`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	f, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	store := contacts.NewMemoryStore()
	result := Apply(context.Background(), Memory(store), f, quiet)

	if result.UsersUpserted != 3 || result.LinksUpserted != 2 || len(result.Errors) != 3 {
		t.Fatalf("result = %s %v", result.Summary(), result.Errors)
	}

	graph := contacts.NewGraph(store)
	visible, err := graph.VisibleContactsOf(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(visible) != 1 || visible[0] != "bob" {
		t.Errorf("visible contacts = %v, want [bob]", visible)
	}
	emergency, err := graph.EmergencyContactsOf(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(emergency) != 2 {
		t.Errorf("emergency contacts = %v, want bob and ghost", emergency)
	}
}

func TestLoadFileRejectsMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte(`{"users": 3}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFile(path); err == nil {
		t.Fatal("expected parse error")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatal("expected read error")
	}
}

func TestResultAdd(t *testing.T) {
	r := Result{UsersUpserted: 1}
	r.Add(Result{UsersUpserted: 2, LinksUpserted: 1, Errors: []string{"x"}})
	if got := r.Summary(); got != "users=3 links=1 errors=1" {
		t.Errorf("Summary() = %q", got)
	}
}
