package proximity_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/albapepper/proximity-alerts/internal/db/dbtest"
	"github.com/albapepper/proximity-alerts/internal/geo"
	"github.com/albapepper/proximity-alerts/internal/ledger"
	"github.com/albapepper/proximity-alerts/internal/proximity"
)

func TestPGPairStoreSerializesUpdates(t *testing.T) {
	t.Parallel()

	pool := dbtest.Open(t, 8)
	store := proximity.NewPGPairStore(pool.Pool)
	ctx := context.Background()
	key := proximity.NewPairKey(dbtest.ID("a"), dbtest.ID("b"))
	base := dbtest.Time(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))

	if _, ok, err := store.Get(ctx, key); err != nil || ok {
		t.Fatalf("Get before any update = %v, %v; want not found", ok, err)
	}

	const writers = 20
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Update(ctx, key, func(s *proximity.PairState) error {
				if s.LastEvaluatedAt.IsZero() {
					s.LastEvaluatedAt = base
				} else {
					s.LastEvaluatedAt = s.LastEvaluatedAt.Add(time.Second)
				}
				return nil
			})
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
	}

	s, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if want := base.Add((writers - 1) * time.Second); !s.LastEvaluatedAt.Equal(want) {
		t.Fatalf("LastEvaluatedAt = %v, want %v (lost updates)", s.LastEvaluatedAt, want)
	}
}

func TestPGDeduplicatorFiresOnce(t *testing.T) {
	t.Parallel()

	pool := dbtest.Open(t, 8)
	d := proximity.NewDeduplicator(proximity.NewPGPairStore(pool.Pool), 5*time.Minute)
	key := proximity.NewPairKey(dbtest.ID("a"), dbtest.ID("b"))
	now := dbtest.Time(time.Now())

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fired int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := d.ShouldAlert(context.Background(), key, now)
			if err != nil {
				t.Errorf("ShouldAlert: %v", err)
				return
			}
			if ok {
				mu.Lock()
				fired++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if fired != 1 {
		t.Fatalf("fired %d times, want 1", fired)
	}
}

func TestPGMeetingStoreNewestFirst(t *testing.T) {
	t.Parallel()

	pool := dbtest.Open(t, 4)
	store := proximity.NewPGMeetingStore(pool.Pool)
	ctx := context.Background()
	alice, bob := dbtest.ID("alice"), dbtest.ID("bob")
	base := dbtest.Time(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))

	for i := 0; i < 3; i++ {
		start := base.Add(time.Duration(i) * time.Hour)
		m := proximity.Meeting{
			ID:           dbtest.ID("meeting"),
			Participants: [2]string{alice, bob},
			StartedAt:    start,
			DurationMs:   (6 * time.Minute).Milliseconds(),
			Location:     geo.Point{Latitude: 48.85, Longitude: 2.35},
			CreatedAt:    start.Add(6 * time.Minute),
		}
		if err := store.AppendMeeting(ctx, m); err != nil {
			t.Fatalf("AppendMeeting: %v", err)
		}
	}

	got, err := store.MeetingsOf(ctx, bob, 2)
	if err != nil {
		t.Fatalf("MeetingsOf: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("meetings = %d, want 2", len(got))
	}
	if !got[0].StartedAt.Equal(base.Add(2*time.Hour)) || !got[1].StartedAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("order = %v, %v; want newest first", got[0].StartedAt, got[1].StartedAt)
	}
	if got[0].Participants != [2]string{alice, bob} {
		t.Fatalf("participants = %v", got[0].Participants)
	}

	all, err := store.MeetingsOf(ctx, alice, 0)
	if err != nil || len(all) != 3 {
		t.Fatalf("MeetingsOf without limit = %d, %v; want 3", len(all), err)
	}
}

// A single connection is enough to log a meeting: the history write
// never waits for a second connection while the pair row is locked.
func TestPGMeetingDetectorOnOneConnection(t *testing.T) {
	t.Parallel()

	pool := dbtest.Open(t, 1)
	history := proximity.NewPGMeetingStore(pool.Pool)
	det := proximity.NewMeetingDetector(proximity.NewPGPairStore(pool.Pool), history, 50, 5*time.Minute, 10*time.Minute)
	alice, bob := dbtest.ID("alice"), dbtest.ID("bob")
	key := proximity.NewPairKey(alice, bob)
	t0 := dbtest.Time(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))

	obs := func(at time.Time) proximity.Observation {
		s := ledger.Sample{Latitude: 48.85, Longitude: 2.35, Accuracy: 5, ReceivedAt: at}
		return proximity.Observation{Key: key, Distance: 10, A: s, B: s, Now: at}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := det.Observe(ctx, obs(t0)); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	m, err := det.Observe(ctx, obs(t0.Add(5*time.Minute)))
	if err != nil || m == nil {
		t.Fatalf("Observe = %v, %v; want a meeting", m, err)
	}
	again, err := det.Observe(ctx, obs(t0.Add(6*time.Minute)))
	if err != nil || again != nil {
		t.Fatalf("second Observe = %v, %v; want no meeting", again, err)
	}

	got, err := history.MeetingsOf(ctx, alice, 10)
	if err != nil || len(got) != 1 {
		t.Fatalf("history = %d, %v; want 1", len(got), err)
	}
	if got[0].DurationMs != (5 * time.Minute).Milliseconds() {
		t.Fatalf("duration = %d ms", got[0].DurationMs)
	}
}

func TestPGPairStorePrune(t *testing.T) {
	t.Parallel()

	pool := dbtest.Open(t, 4)
	store := proximity.NewPGPairStore(pool.Pool)
	ctx := context.Background()
	old := proximity.NewPairKey(dbtest.ID("a"), dbtest.ID("b"))
	fresh := proximity.NewPairKey(dbtest.ID("c"), dbtest.ID("d"))
	cutoff := dbtest.Time(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC))

	set := func(key proximity.PairKey, at time.Time) {
		if err := store.Update(ctx, key, func(s *proximity.PairState) error {
			s.LastEvaluatedAt = at
			return nil
		}); err != nil {
			t.Fatalf("Update: %v", err)
		}
	}
	set(old, cutoff.Add(-time.Hour))
	set(fresh, time.Now())

	if _, err := store.Prune(ctx, cutoff); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if _, ok, _ := store.Get(ctx, old); ok {
		t.Fatal("idle pair survived pruning")
	}
	if _, ok, _ := store.Get(ctx, fresh); !ok {
		t.Fatal("active pair was pruned")
	}
}
