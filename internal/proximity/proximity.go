// Package proximity turns location updates into nearby alerts and
// meeting records.
//
// Pipeline per update: evaluate distances to visible contacts → dedupe
// nearby alerts per pair → advance the per-pair meeting state machine →
// dispatch surviving events. Each pair's state is read-modified-written
// under that pair's lock, so the two members of a pair can update
// concurrently without double alerts.
package proximity

import (
	"sort"
	"strings"
	"time"
)

// --------------------------------------------------------------------------
// Settings
// --------------------------------------------------------------------------

// Settings holds the engine thresholds.
type Settings struct {
	// NearbyThreshold is the distance (m) at or below which a contact is nearby.
	NearbyThreshold float64
	// MeetingThreshold is the stricter distance (m) that counts as together.
	MeetingThreshold float64
	// Cooldown is the minimum gap between nearby alerts for one pair.
	Cooldown time.Duration
	// MeetingDuration is how long a pair must stay together to log a meeting.
	MeetingDuration time.Duration
	// StalenessWindow is the age after which a contact's position no
	// longer counts; a stale pair is treated as apart.
	StalenessWindow time.Duration
	// IOTimeout bounds every store read/write made during evaluation.
	IOTimeout time.Duration
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		NearbyThreshold:  500,
		MeetingThreshold: 50,
		Cooldown:         5 * time.Minute,
		MeetingDuration:  5 * time.Minute,
		StalenessWindow:  10 * time.Minute,
		IOTimeout:        3 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultSettings.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.NearbyThreshold <= 0 {
		s.NearbyThreshold = d.NearbyThreshold
	}
	if s.MeetingThreshold <= 0 {
		s.MeetingThreshold = d.MeetingThreshold
	}
	if s.Cooldown <= 0 {
		s.Cooldown = d.Cooldown
	}
	if s.MeetingDuration <= 0 {
		s.MeetingDuration = d.MeetingDuration
	}
	if s.StalenessWindow <= 0 {
		s.StalenessWindow = d.StalenessWindow
	}
	if s.IOTimeout <= 0 {
		s.IOTimeout = d.IOTimeout
	}
	return s
}

// --------------------------------------------------------------------------
// Pair keys and state
// --------------------------------------------------------------------------

const pairSep = "|"

// PairKey identifies an unordered pair of users.
type PairKey string

// NewPairKey returns the same key for (a,b) and (b,a).
func NewPairKey(a, b string) PairKey {
	ids := []string{a, b}
	sort.Strings(ids)
	return PairKey(ids[0] + pairSep + ids[1])
}

// Members returns the two user ids in sorted order.
func (k PairKey) Members() (string, string) {
	a, b, _ := strings.Cut(string(k), pairSep)
	return a, b
}

// PairState is the mutable per-pair record shared by the deduplicator and
// the meeting detector. Zero times mean "absent".
type PairState struct {
	Key             PairKey
	LastAlertAt     time.Time
	InRangeSince    time.Time
	Logged          bool
	LastEvaluatedAt time.Time
}

// Together reports whether the pair is inside a togetherness episode.
func (s PairState) Together() bool {
	return !s.InRangeSince.IsZero()
}

func (s *PairState) resetEpisode() {
	s.InRangeSince = time.Time{}
	s.Logged = false
}

// --------------------------------------------------------------------------
// Classification
// --------------------------------------------------------------------------

// Class is the result of comparing one pair's distance to the thresholds.
type Class int

const (
	ClassFar Class = iota
	ClassNearby
	ClassMeeting
)

func (c Class) String() string {
	switch c {
	case ClassNearby:
		return "nearby"
	case ClassMeeting:
		return "meeting"
	default:
		return "far"
	}
}

// Classify maps a distance to a Class. Meeting implies nearby.
func Classify(distance float64, s Settings) Class {
	switch {
	case distance <= s.MeetingThreshold:
		return ClassMeeting
	case distance <= s.NearbyThreshold:
		return ClassNearby
	default:
		return ClassFar
	}
}
