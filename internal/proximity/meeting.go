package proximity

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/proximity-alerts/internal/geo"
	"github.com/albapepper/proximity-alerts/internal/ledger"
)

// Meeting is an immutable record of one togetherness episode.
type Meeting struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	StartedAt    time.Time `json:"started_at"`
	DurationMs   int64     `json:"duration_ms"`
	Location     geo.Point `json:"location"`
	CreatedAt    time.Time `json:"created_at"`
}

// MeetingStore is the append-only meeting history.
type MeetingStore interface {
	AppendMeeting(ctx context.Context, m Meeting) error
	MeetingsOf(ctx context.Context, userID string, limit int) ([]Meeting, error)
}

// Observation is one evaluation of a pair.
type Observation struct {
	Key      PairKey
	Distance float64
	// Stale is set when either sample is older than the staleness window.
	Stale bool
	A, B  ledger.Sample
	Now   time.Time
}

// TrailReader returns a user's recent samples, oldest first.
type TrailReader func(userID string) []ledger.Sample

// releaseTimeout bounds the compensating update after a failed append.
const releaseTimeout = 5 * time.Second

// MeetingDetector runs the Apart/Together state machine per pair and
// appends one Meeting per episode once the duration threshold is met.
type MeetingDetector struct {
	store     PairStore
	history   MeetingStore
	threshold float64
	duration  time.Duration
	staleness time.Duration
	trail     TrailReader
	newID     func() string
}

// NewMeetingDetector creates a detector. A pair not evaluated for longer
// than staleness is considered to have separated.
func NewMeetingDetector(store PairStore, history MeetingStore, threshold float64, duration, staleness time.Duration) *MeetingDetector {
	return &MeetingDetector{
		store:     store,
		history:   history,
		threshold: threshold,
		duration:  duration,
		staleness: staleness,
		newID:     uuid.NewString,
	}
}

// WithTrail makes the detector place meetings at the midpoint of both
// members' average position over the episode instead of their latest
// samples.
func (d *MeetingDetector) WithTrail(trail TrailReader) *MeetingDetector {
	d.trail = trail
	return d
}

// Observe advances the pair's state. It returns the Meeting appended by
// this call, or nil.
//
// The episode is claimed (Logged) inside the pair update and the append
// runs after the update committed, so no history write holds the pair
// lock. A failed append releases the claim and the next observation of
// the same episode retries it.
func (d *MeetingDetector) Observe(ctx context.Context, obs Observation) (*Meeting, error) {
	var (
		claimed bool
		since   time.Time
	)
	err := d.store.Update(ctx, obs.Key, func(s *PairState) error {
		// An episode that starts in the future is corrupt state.
		if s.InRangeSince.After(obs.Now) {
			s.resetEpisode()
		}
		// Nobody evaluated the pair for a while (ghost mode, no updates).
		if s.Together() && d.staleness > 0 && obs.Now.Sub(s.LastEvaluatedAt) > d.staleness {
			s.resetEpisode()
		}
		s.LastEvaluatedAt = obs.Now

		if obs.Stale || obs.Distance > d.threshold {
			s.resetEpisode()
			return nil
		}
		if !s.Together() {
			s.InRangeSince = obs.Now
			s.Logged = false
		}
		if s.Logged || obs.Now.Sub(s.InRangeSince) < d.duration {
			return nil
		}
		s.Logged = true
		claimed, since = true, s.InRangeSince
		return nil
	})
	if err != nil || !claimed {
		return nil, err
	}

	m := d.record(obs, since)
	if err := d.history.AppendMeeting(ctx, m); err != nil {
		err = fmt.Errorf("append meeting: %w", err)
		if rerr := d.release(ctx, obs.Key, since); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release episode: %w", rerr))
		}
		return nil, err
	}
	return &m, nil
}

// release clears the claim on the episode that started at since, unless
// the pair has moved on to another episode meanwhile.
func (d *MeetingDetector) release(ctx context.Context, key PairKey, since time.Time) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	return d.store.Update(ctx, key, func(s *PairState) error {
		if s.Logged && s.InRangeSince.Equal(since) {
			s.Logged = false
		}
		return nil
	})
}

func (d *MeetingDetector) record(obs Observation, since time.Time) Meeting {
	a, b := obs.Key.Members()
	return Meeting{
		ID:           d.newID(),
		Participants: [2]string{a, b},
		StartedAt:    since,
		DurationMs:   obs.Now.Sub(since).Milliseconds(),
		Location:     geo.MidpointOf(d.positionOver(obs.A, since), d.positionOver(obs.B, since)),
		CreatedAt:    obs.Now,
	}
}

// positionOver averages latest's owner's samples received since the
// episode started. Without a trail, or without samples in range, it is
// the latest sample's point.
func (d *MeetingDetector) positionOver(latest ledger.Sample, since time.Time) geo.Point {
	if d.trail == nil || latest.OwnerID == "" {
		return latest.Point()
	}
	var (
		lat, dlon float64
		ref       float64
		n         int
	)
	for _, s := range d.trail(latest.OwnerID) {
		if s.ReceivedAt.Before(since) {
			continue
		}
		if n == 0 {
			ref = s.Longitude
		}
		lat += s.Latitude
		dlon += wrapLongitude(s.Longitude - ref)
		n++
	}
	if n == 0 {
		return latest.Point()
	}
	return geo.Point{Latitude: lat / float64(n), Longitude: wrapLongitude(ref + dlon/float64(n))}
}

// wrapLongitude folds lon into [-180, 180).
func wrapLongitude(lon float64) float64 {
	return math.Mod(math.Mod(lon+180, 360)+360, 360) - 180
}

// MemoryMeetingStore is a process-local MeetingStore.
type MemoryMeetingStore struct {
	mu       sync.RWMutex
	meetings []Meeting
}

// NewMemoryMeetingStore creates an empty history.
func NewMemoryMeetingStore() *MemoryMeetingStore {
	return &MemoryMeetingStore{}
}

func (m *MemoryMeetingStore) AppendMeeting(_ context.Context, rec Meeting) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.meetings = append(m.meetings, rec)
	return nil
}

// MeetingsOf returns the user's meetings newest first.
func (m *MemoryMeetingStore) MeetingsOf(_ context.Context, userID string, limit int) ([]Meeting, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Meeting
	for _, rec := range m.meetings {
		if rec.Participants[0] == userID || rec.Participants[1] == userID {
			out = append(out, rec)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len returns the number of stored meetings.
func (m *MemoryMeetingStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.meetings)
}
