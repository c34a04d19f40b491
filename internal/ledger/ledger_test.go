package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/albapepper/proximity-alerts/internal/geo"
)

type failingStore struct{ puts int }

func (f *failingStore) PutLocation(context.Context, string, Sample) error {
	f.puts++
	return errors.New("store unavailable")
}

func (f *failingStore) GetLatestLocation(context.Context, string) (Sample, error) {
	return Sample{}, errors.New("store unavailable")
}

func sampleAt(lat, lon float64, at time.Time) Sample {
	return Sample{Latitude: lat, Longitude: lon, Accuracy: 5, ObservedAt: at, ReceivedAt: at}
}

func TestRecordOverwritesLatest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(NewMemoryStore(), 10*time.Minute)

	if _, ok, err := l.Latest(ctx, "alice"); err != nil || ok {
		t.Fatalf("expected no latest location, got ok=%v err=%v", ok, err)
	}
	if _, err := l.Record(ctx, "alice", sampleAt(1, 1, base)); err != nil {
		t.Fatalf("record first: %v", err)
	}
	if _, err := l.Record(ctx, "alice", sampleAt(2, 2, base.Add(time.Minute))); err != nil {
		t.Fatalf("record second: %v", err)
	}

	got, ok, err := l.Latest(ctx, "alice")
	if err != nil || !ok {
		t.Fatalf("latest: ok=%v err=%v", ok, err)
	}
	if got.Latitude != 2 || got.OwnerID != "alice" {
		t.Fatalf("latest = %+v, want the second sample owned by alice", got)
	}
}

func TestRecordRejectsInvalidSamples(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	l := New(store, 0)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	bad := []Sample{
		sampleAt(95, 0, now),
		sampleAt(0, -181, now),
		{Latitude: 1, Longitude: 1, Accuracy: 0, ReceivedAt: now},
		{Latitude: 1, Longitude: 1, Accuracy: -3, ReceivedAt: now},
	}
	for _, s := range bad {
		if _, err := l.Record(ctx, "bob", s); !errors.Is(err, geo.ErrInvalidCoordinates) {
			t.Fatalf("record %+v: expected ErrInvalidCoordinates, got %v", s, err)
		}
	}
	if _, err := store.GetLatestLocation(ctx, "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("invalid samples reached the store: %v", err)
	}
	if w := l.RecentWindow("bob"); len(w) != 0 {
		t.Fatalf("invalid samples reached the window: %d", len(w))
	}
}

func TestRecentWindowIsBoundedAndOrdered(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(NewMemoryStore(), 10*time.Minute)

	for i := 0; i <= 15; i++ {
		if _, err := l.Record(ctx, "carol", sampleAt(float64(i)/100, 0, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	w := l.RecentWindow("carol")
	if len(w) != 11 {
		t.Fatalf("window length = %d, want 11 (minutes 5..15)", len(w))
	}
	for i := 1; i < len(w); i++ {
		if w[i].ReceivedAt.Before(w[i-1].ReceivedAt) {
			t.Fatalf("window not ordered oldest first at %d", i)
		}
	}

	// A fresh read is independent of later mutations.
	w[0].Latitude = 42
	if again := l.RecentWindow("carol"); again[0].Latitude == 42 {
		t.Fatal("RecentWindow returned shared storage")
	}
}

func TestObserveOutOfOrder(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	l := New(NewMemoryStore(), 10*time.Minute)
	l.Observe("dave", sampleAt(1, 1, base.Add(2*time.Second)))
	l.Observe("dave", sampleAt(1, 1, base))
	w := l.RecentWindow("dave")
	if len(w) != 2 || !w[0].ReceivedAt.Equal(base) || !w[1].ReceivedAt.Equal(base.Add(2*time.Second)) {
		t.Fatalf("window = %v, want oldest first", w)
	}

	short := New(NewMemoryStore(), time.Minute)
	for _, at := range []time.Duration{30 * time.Second, 0, 80 * time.Second} {
		short.Observe("erin", sampleAt(1, 1, base.Add(at)))
	}
	w = short.RecentWindow("erin")
	if len(w) != 2 {
		t.Fatalf("window length = %d, want 2", len(w))
	}
	if !w[0].ReceivedAt.Equal(base.Add(30*time.Second)) || !w[1].ReceivedAt.Equal(base.Add(80*time.Second)) {
		t.Fatalf("window = %v, want +30s and +80s", w)
	}
}

func TestRecordStoreFailureLeavesWindowUntouched(t *testing.T) {
	t.Parallel()

	store := &failingStore{}
	l := New(store, time.Minute)
	if _, err := l.Record(context.Background(), "dave", sampleAt(1, 1, time.Now())); err == nil {
		t.Fatal("expected store error")
	}
	if store.puts != 1 {
		t.Fatalf("puts = %d, want 1", store.puts)
	}
	if len(l.RecentWindow("dave")) != 0 {
		t.Fatal("window updated despite store failure")
	}
	if _, _, err := l.Latest(context.Background(), "dave"); err == nil {
		t.Fatal("expected latest error to surface")
	}
}

func TestPruneDropsIdleWindows(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	l := New(NewMemoryStore(), time.Hour)
	l.Observe("old", sampleAt(1, 1, base))
	l.Observe("fresh", sampleAt(1, 1, base.Add(time.Hour)))

	n, err := l.Prune(context.Background(), base.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Fatalf("pruned %d windows, want 1", n)
	}
	if len(l.RecentWindow("old")) != 0 || len(l.RecentWindow("fresh")) != 1 {
		t.Fatal("prune removed the wrong window")
	}
}

func TestPurgeUserErasesLatestAndWindow(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Now().UTC()
	l := New(NewMemoryStore(), 10*time.Minute)
	if _, err := l.Record(ctx, "alice", sampleAt(1, 1, now)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if _, err := l.Record(ctx, "bob", sampleAt(2, 2, now)); err != nil {
		t.Fatalf("record: %v", err)
	}

	if err := l.PurgeUser(ctx, "alice"); err != nil {
		t.Fatalf("PurgeUser: %v", err)
	}
	if _, ok, err := l.Latest(ctx, "alice"); err != nil || ok {
		t.Fatalf("alice latest after purge: ok=%v err=%v", ok, err)
	}
	if w := l.RecentWindow("alice"); len(w) != 0 {
		t.Fatalf("alice window after purge = %v", w)
	}
	if _, ok, _ := l.Latest(ctx, "bob"); !ok {
		t.Fatal("bob's location should survive")
	}
}
