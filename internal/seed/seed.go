package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/albapepper/proximity-alerts/internal/contacts"
)

// Fixture is the on-disk seed format.
//
//	{
//	  "users": [{"id": "alice", "name": "Alice"}, {"id": "bob", "ghost": true}],
//	  "contacts": [["alice", "bob"]]
//	}
type Fixture struct {
	Users []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Ghost bool   `json:"ghost"`
	} `json:"users"`
	Contacts [][2]string `json:"contacts"`
}

// Writer is a contact store that accepts seeded data.
type Writer interface {
	PutUser(ctx context.Context, u contacts.User) error
	Befriend(ctx context.Context, a, b string) error
}

// Memory adapts an in-memory contact store to Writer.
func Memory(m *contacts.MemoryStore) Writer {
	return memoryWriter{m}
}

type memoryWriter struct{ m *contacts.MemoryStore }

func (w memoryWriter) PutUser(_ context.Context, u contacts.User) error {
	w.m.PutUser(u)
	return nil
}

func (w memoryWriter) Befriend(_ context.Context, a, b string) error {
	w.m.Befriend(a, b)
	return nil
}

// LoadFile reads a fixture from path.
func LoadFile(path string) (Fixture, error) {
	var f Fixture
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("read seed file: %w", err)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("parse seed file: %w", err)
	}
	return f, nil
}

// Apply writes users first, then links. A link naming an unknown or
// identical user is recorded as an error and skipped.
func Apply(ctx context.Context, w Writer, f Fixture, logger *slog.Logger) Result {
	var result Result

	known := make(map[string]bool, len(f.Users))
	for _, u := range f.Users {
		if u.ID == "" {
			result.AddErrorf("user without id")
			continue
		}
		if err := w.PutUser(ctx, contacts.User{ID: u.ID, DisplayName: u.Name, GhostMode: u.Ghost}); err != nil {
			result.AddErrorf("upsert user %s: %v", u.ID, err)
			continue
		}
		known[u.ID] = true
		result.UsersUpserted++
	}

	for _, link := range f.Contacts {
		a, b := link[0], link[1]
		switch {
		case a == b:
			result.AddErrorf("link %s: self link", a)
		case !known[a] || !known[b]:
			result.AddErrorf("link %s-%s: unknown user", a, b)
		default:
			if err := w.Befriend(ctx, a, b); err != nil {
				result.AddErrorf("link %s-%s: %v", a, b, err)
				continue
			}
			result.LinksUpserted++
		}
	}

	logger.Info("Seed applied", "summary", result.Summary())
	return result
}
