package proximity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/albapepper/proximity-alerts/internal/geo"
	"github.com/albapepper/proximity-alerts/internal/ledger"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	s := DefaultSettings()
	tests := []struct {
		distance float64
		want     Class
	}{
		{0, ClassMeeting},
		{50, ClassMeeting},
		{50.1, ClassNearby},
		{77, ClassNearby},
		{500, ClassNearby},
		{500.1, ClassFar},
		{666, ClassFar},
	}
	for _, tt := range tests {
		if got := Classify(tt.distance, s); got != tt.want {
			t.Errorf("Classify(%v) = %v, want %v", tt.distance, got, tt.want)
		}
	}
}

func TestPairKeyIsOrderIndependent(t *testing.T) {
	t.Parallel()

	if NewPairKey("bob", "alice") != NewPairKey("alice", "bob") {
		t.Fatal("pair key depends on argument order")
	}
	a, b := NewPairKey("bob", "alice").Members()
	if a != "alice" || b != "bob" {
		t.Fatalf("Members() = %q, %q", a, b)
	}
}

func TestShouldAlertCooldown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	key := NewPairKey("a", "b")
	d := NewDeduplicator(NewMemoryPairStore(), 5*time.Minute)
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	steps := []struct {
		at   time.Duration
		want bool
	}{
		{0, true},
		{2 * time.Minute, false},
		{5 * time.Minute, false},
		{5*time.Minute + time.Second, true},
		{6 * time.Minute, false},
	}
	for _, st := range steps {
		got, err := d.ShouldAlert(ctx, key, t0.Add(st.at))
		if err != nil {
			t.Fatalf("ShouldAlert: %v", err)
		}
		if got != st.want {
			t.Fatalf("ShouldAlert at +%v = %v, want %v", st.at, got, st.want)
		}
	}
}

func TestShouldAlertResetsFutureTimestamp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryPairStore()
	key := NewPairKey("a", "b")
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	_ = store.Update(ctx, key, func(s *PairState) error {
		s.LastAlertAt = now.Add(time.Hour)
		return nil
	})

	fire, err := NewDeduplicator(store, 5*time.Minute).ShouldAlert(ctx, key, now)
	if err != nil || !fire {
		t.Fatalf("ShouldAlert = %v, %v; want true", fire, err)
	}
	s, _, _ := store.Get(ctx, key)
	if !s.LastAlertAt.Equal(now) {
		t.Fatalf("LastAlertAt = %v, want %v", s.LastAlertAt, now)
	}
}

func TestShouldAlertEarlierSampleEvaluatedLate(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	key := NewPairKey("a", "b")
	d := NewDeduplicator(NewMemoryPairStore(), 5*time.Minute)
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	if fire, err := d.ShouldAlert(ctx, key, t0.Add(5*time.Millisecond)); err != nil || !fire {
		t.Fatalf("first ShouldAlert = %v, %v; want true", fire, err)
	}
	if fire, err := d.ShouldAlert(ctx, key, t0); err != nil || fire {
		t.Fatalf("ShouldAlert for earlier sample = %v, %v; want false", fire, err)
	}
	s, _, _ := d.store.Get(ctx, key)
	if !s.LastAlertAt.Equal(t0.Add(5 * time.Millisecond)) {
		t.Fatalf("LastAlertAt = %v, want unchanged", s.LastAlertAt)
	}
}

func TestShouldAlertConcurrentFiresOnce(t *testing.T) {
	t.Parallel()

	d := NewDeduplicator(NewMemoryPairStore(), 5*time.Minute)
	key := NewPairKey("a", "b")
	now := time.Now()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		fired int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _ := d.ShouldAlert(context.Background(), key, now)
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

func TestMeetingDetectorResetsCorruptEpisode(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryPairStore()
	history := NewMemoryMeetingStore()
	det := NewMeetingDetector(store, history, 50, 5*time.Minute, 10*time.Minute)
	key := NewPairKey("a", "b")
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	_ = store.Update(ctx, key, func(s *PairState) error {
		s.InRangeSince = now.Add(time.Hour)
		s.LastEvaluatedAt = now
		return nil
	})

	m, err := det.Observe(ctx, Observation{Key: key, Distance: 10, A: sampleAt(now), B: sampleAt(now), Now: now})
	if err != nil || m != nil {
		t.Fatalf("Observe = %v, %v; want no meeting", m, err)
	}
	s, _, _ := store.Get(ctx, key)
	if !s.InRangeSince.Equal(now) {
		t.Fatalf("InRangeSince = %v, want %v", s.InRangeSince, now)
	}
}

func TestMeetingDetectorResetsAfterEvaluationGap(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	history := NewMemoryMeetingStore()
	det := NewMeetingDetector(NewMemoryPairStore(), history, 50, 5*time.Minute, 10*time.Minute)
	key := NewPairKey("a", "b")
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	observe := func(at time.Time) *Meeting {
		t.Helper()
		m, err := det.Observe(ctx, Observation{Key: key, Distance: 10, A: sampleAt(at), B: sampleAt(at), Now: at})
		if err != nil {
			t.Fatalf("Observe: %v", err)
		}
		return m
	}

	observe(t0)
	// An hour without evaluation is not an hour together.
	if m := observe(t0.Add(time.Hour)); m != nil {
		t.Fatalf("logged meeting across an evaluation gap: %+v", m)
	}
	if m := observe(t0.Add(time.Hour + 5*time.Minute)); m == nil {
		t.Fatal("expected a meeting after five continuous minutes")
	}
}

type failingHistory struct{ MemoryMeetingStore }

func (*failingHistory) AppendMeeting(context.Context, Meeting) error {
	return errors.New("disk full")
}

func TestMeetingDetectorRetriesFailedAppend(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryPairStore()
	key := NewPairKey("a", "b")
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	failing := NewMeetingDetector(store, &failingHistory{}, 50, 5*time.Minute, 10*time.Minute)
	obs := func(at time.Time) Observation {
		return Observation{Key: key, Distance: 10, A: sampleAt(at), B: sampleAt(at), Now: at}
	}
	if _, err := failing.Observe(ctx, obs(t0)); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	if _, err := failing.Observe(ctx, obs(t0.Add(5*time.Minute))); err == nil {
		t.Fatal("expected append error")
	}
	if s, _, _ := store.Get(ctx, key); s.Logged || !s.InRangeSince.Equal(t0) {
		t.Fatalf("state after failed append = %+v, want open unlogged episode", s)
	}

	history := NewMemoryMeetingStore()
	ok := NewMeetingDetector(store, history, 50, 5*time.Minute, 10*time.Minute)
	m, err := ok.Observe(ctx, obs(t0.Add(6*time.Minute)))
	if err != nil || m == nil {
		t.Fatalf("Observe after failure = %v, %v; want a meeting", m, err)
	}
	if m.DurationMs != (6 * time.Minute).Milliseconds() {
		t.Fatalf("duration = %d ms", m.DurationMs)
	}
}

// pairTouchingHistory updates the pair from inside AppendMeeting, which
// blocks forever if the caller still holds the pair's lock.
type pairTouchingHistory struct {
	MemoryMeetingStore
	store PairStore
}

func (h *pairTouchingHistory) AppendMeeting(ctx context.Context, m Meeting) error {
	key := NewPairKey(m.Participants[0], m.Participants[1])
	if err := h.store.Update(ctx, key, func(*PairState) error { return nil }); err != nil {
		return err
	}
	return h.MemoryMeetingStore.AppendMeeting(ctx, m)
}

func TestMeetingAppendRunsOutsidePairLock(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryPairStore()
	history := &pairTouchingHistory{store: store}
	det := NewMeetingDetector(store, history, 50, 5*time.Minute, 10*time.Minute)
	key := NewPairKey("a", "b")
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	obs := func(at time.Time) Observation {
		return Observation{Key: key, Distance: 10, A: sampleAt(at), B: sampleAt(at), Now: at}
	}

	if _, err := det.Observe(ctx, obs(t0)); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	done := make(chan *Meeting, 1)
	go func() {
		m, _ := det.Observe(ctx, obs(t0.Add(5*time.Minute)))
		done <- m
	}()
	select {
	case m := <-done:
		if m == nil || history.Len() != 1 {
			t.Fatalf("meeting = %v, history = %d; want one meeting", m, history.Len())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("meeting append ran while the pair was locked")
	}
}

func TestMeetingLocationAveragesEpisodeTrail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	t0 := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	at := func(owner string, lat, lon float64, d time.Duration) ledger.Sample {
		return ledger.Sample{OwnerID: owner, Latitude: lat, Longitude: lon, Accuracy: 5, ReceivedAt: t0.Add(d)}
	}
	trails := map[string][]ledger.Sample{
		// The first sample predates the episode and is ignored.
		"a": {at("a", 10, 179.9999, -time.Minute), at("a", 0, 179.9999, 0), at("a", 0, -179.9999, time.Minute)},
		"b": {at("b", 0.001, 180, 0)},
	}
	det := NewMeetingDetector(NewMemoryPairStore(), NewMemoryMeetingStore(), 50, 5*time.Minute, 10*time.Minute).
		WithTrail(func(id string) []ledger.Sample { return trails[id] })

	key := NewPairKey("a", "b")
	obs := func(d time.Duration) Observation {
		return Observation{Key: key, Distance: 10, A: at("a", 0, -179.9999, d), B: at("b", 0.001, 180, d), Now: t0.Add(d)}
	}
	if _, err := det.Observe(ctx, obs(0)); err != nil {
		t.Fatalf("Observe: %v", err)
	}
	m, err := det.Observe(ctx, obs(5*time.Minute))
	if err != nil || m == nil {
		t.Fatalf("Observe = %v, %v; want a meeting", m, err)
	}
	want := geo.Point{Latitude: 0.0005, Longitude: 180}
	if d := geo.Distance(m.Location, want); d > 1 {
		t.Fatalf("meeting location %v is %v m from %v", m.Location, d, want)
	}
}

func TestMemoryPairStorePrune(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryPairStore()
	now := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

	for i, key := range []PairKey{NewPairKey("a", "b"), NewPairKey("a", "c")} {
		at := now.Add(-time.Duration(i) * time.Hour)
		_ = store.Update(ctx, key, func(s *PairState) error {
			s.LastEvaluatedAt = at
			return nil
		})
	}

	n, err := store.Prune(ctx, now.Add(-30*time.Minute))
	if err != nil || n != 1 {
		t.Fatalf("Prune = %d, %v; want 1", n, err)
	}
	if _, ok, _ := store.Get(ctx, NewPairKey("a", "c")); ok {
		t.Fatal("idle pair survived prune")
	}
	if store.Len() != 1 {
		t.Fatalf("Len = %d, want 1", store.Len())
	}
}

func TestMemoryPairStoreUpdateErrorLeavesState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryPairStore()
	key := NewPairKey("a", "b")
	boom := errors.New("boom")

	err := store.Update(ctx, key, func(s *PairState) error {
		s.Logged = true
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Update err = %v", err)
	}
	s, _, _ := store.Get(ctx, key)
	if s.Logged {
		t.Fatal("failed update was applied")
	}
}

func sampleAt(at time.Time) ledger.Sample {
	return ledger.Sample{Latitude: 1, Longitude: 1, Accuracy: 5, ReceivedAt: at}
}
