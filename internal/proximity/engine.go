package proximity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/albapepper/proximity-alerts/internal/ledger"
	"github.com/albapepper/proximity-alerts/internal/notifications"
)

// Deps are the collaborators of an Engine.
type Deps struct {
	Ledger     *ledger.Ledger
	Graph      ContactGraph
	Pairs      PairStore
	History    MeetingStore
	Dispatcher notifications.Dispatcher
	// Clock stamps server receipt time. Defaults to time.Now.
	Clock func() time.Time
	// OnMeeting, if set, runs after a meeting is appended.
	OnMeeting func(Meeting)
	Logger    *slog.Logger
}

// Engine is the single entry point for location updates, whichever
// transport delivers them.
type Engine struct {
	ledger     *ledger.Ledger
	graph      ContactGraph
	evaluator  *Evaluator
	dedup      *Deduplicator
	meetings   *MeetingDetector
	history    MeetingStore
	dispatcher notifications.Dispatcher
	settings   Settings
	clock      func() time.Time
	onMeeting  func(Meeting)
	logger     *slog.Logger

	inflight sync.WaitGroup

	accepted  atomic.Int64
	rejected  atomic.Int64
	evaluated atomic.Int64
	nearby    atomic.Int64
	logged    atomic.Int64
	failures  atomic.Int64
}

// NewEngine wires an Engine. Zero settings fields take their defaults.
func NewEngine(deps Deps, settings Settings) *Engine {
	settings = settings.withDefaults()
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		ledger:     deps.Ledger,
		graph:      deps.Graph,
		evaluator:  NewEvaluator(deps.Graph, deps.Ledger, settings, logger),
		dedup:      NewDeduplicator(deps.Pairs, settings.Cooldown),
		meetings:   NewMeetingDetector(deps.Pairs, deps.History, settings.MeetingThreshold, settings.MeetingDuration, settings.StalenessWindow).WithTrail(deps.Ledger.RecentWindow),
		history:    deps.History,
		dispatcher: deps.Dispatcher,
		settings:   settings,
		clock:      clock,
		onMeeting:  deps.OnMeeting,
		logger:     logger,
	}
}

// Settings returns the effective thresholds.
func (e *Engine) Settings() Settings {
	return e.settings
}

// OnLocationUpdate validates and records a client-reported sample, then
// schedules its evaluation. A nil error means "accepted for processing";
// alerts are delivered asynchronously. Invalid samples are rejected
// before any side effect.
func (e *Engine) OnLocationUpdate(ctx context.Context, userID string, s ledger.Sample) error {
	s.OwnerID = userID
	s.ReceivedAt = e.clock().UTC()
	if s.ObservedAt.IsZero() {
		s.ObservedAt = s.ReceivedAt
	}
	if err := s.Validate(); err != nil {
		e.rejected.Add(1)
		return err
	}

	rctx, cancel := context.WithTimeout(ctx, e.settings.IOTimeout)
	defer cancel()
	recorded, err := e.ledger.Record(rctx, userID, s)
	if err != nil {
		e.failures.Add(1)
		return fmt.Errorf("record location: %w", err)
	}

	e.accepted.Add(1)
	e.schedule(ctx, recorded)
	return nil
}

// OnRecordedLocation handles a sample some other writer already stored
// (the database trigger path). It skips the store write and otherwise
// behaves like OnLocationUpdate.
func (e *Engine) OnRecordedLocation(ctx context.Context, userID string, s ledger.Sample) error {
	s.OwnerID = userID
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = e.clock().UTC()
	}
	if err := s.Validate(); err != nil {
		e.rejected.Add(1)
		return err
	}
	e.ledger.Observe(userID, s)
	e.accepted.Add(1)
	e.schedule(ctx, s)
	return nil
}

// Wait blocks until every accepted update has been evaluated.
func (e *Engine) Wait() {
	e.inflight.Wait()
}

// MeetingHistoryOf returns the user's meetings, newest first.
func (e *Engine) MeetingHistoryOf(ctx context.Context, userID string, limit int) ([]Meeting, error) {
	ctx, cancel := context.WithTimeout(ctx, e.settings.IOTimeout)
	defer cancel()
	return e.history.MeetingsOf(ctx, userID, limit)
}

// Stats returns engine counters.
func (e *Engine) Stats() map[string]int64 {
	return map[string]int64{
		"accepted":      e.accepted.Load(),
		"rejected":      e.rejected.Load(),
		"evaluated":     e.evaluated.Load(),
		"nearby_alerts": e.nearby.Load(),
		"meetings":      e.logged.Load(),
		"failures":      e.failures.Load(),
	}
}

// schedule runs the evaluation as an independent unit of work. The
// caller's cancellation does not stop it.
func (e *Engine) schedule(ctx context.Context, s ledger.Sample) {
	ctx = context.WithoutCancel(ctx)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		e.process(ctx, s)
	}()
}

func (e *Engine) process(ctx context.Context, s ledger.Sample) {
	userID := s.OwnerID
	now := s.ReceivedAt
	defer func() {
		if r := recover(); r != nil {
			e.failures.Add(1)
			e.logger.Error("location evaluation panicked", "user_id", userID, "panic", r)
		}
	}()

	vctx, cancel := context.WithTimeout(ctx, e.settings.IOTimeout)
	visible, err := e.graph.IsVisible(vctx, userID)
	cancel()
	if err != nil {
		e.failures.Add(1)
		e.logger.Warn("visibility lookup failed", "user_id", userID, "error", err)
		return
	}
	if !visible {
		e.logger.Debug("skipping evaluation for hidden user", "user_id", userID)
		return
	}

	candidates, err := e.evaluator.Evaluate(ctx, s, now)
	if err != nil {
		e.failures.Add(1)
		e.logger.Warn("evaluation failed", "user_id", userID, "error", err)
		return
	}
	e.evaluated.Add(1)

	for _, c := range candidates {
		e.handle(ctx, s, c, now)
	}
}

func (e *Engine) handle(ctx context.Context, s ledger.Sample, c Candidate, now time.Time) {
	userID := s.OwnerID

	if c.Class >= ClassNearby {
		dctx, cancel := context.WithTimeout(ctx, e.settings.IOTimeout)
		fire, err := e.dedup.ShouldAlert(dctx, c.Key, now)
		cancel()
		switch {
		case err != nil:
			e.failures.Add(1)
			e.logger.Warn("cooldown check failed", "pair", c.Key, "error", err)
		case fire:
			e.nearby.Add(1)
			e.logger.Info("nearby alert", "pair", c.Key, "distance_m", int(c.Distance))
			e.notifyPair(ctx, userID, c.ContactID, notifications.Event{
				Kind:           notifications.KindNearby,
				DistanceMeters: c.Distance,
				OccurredAt:     now,
			}, s, c.Contact)
		}
	}

	mctx, cancel := context.WithTimeout(ctx, e.settings.IOTimeout)
	m, err := e.meetings.Observe(mctx, Observation{
		Key:      c.Key,
		Distance: c.Distance,
		Stale:    c.Stale,
		A:        s,
		B:        c.Contact,
		Now:      now,
	})
	cancel()
	if err != nil {
		e.failures.Add(1)
		e.logger.Warn("meeting update failed", "pair", c.Key, "error", err)
		return
	}
	if m != nil {
		e.logged.Add(1)
		e.logger.Info("meeting logged", "pair", c.Key, "meeting_id", m.ID, "duration_ms", m.DurationMs)
		if e.onMeeting != nil {
			e.onMeeting(*m)
		}
		e.notifyPair(ctx, userID, c.ContactID, notifications.Event{
			Kind:       notifications.KindMeeting,
			Location:   m.Location,
			OccurredAt: now,
		}, s, c.Contact)
	}
}

// notifyPair tells each member of the pair about the other. Outcomes are
// not acted upon.
func (e *Engine) notifyPair(ctx context.Context, userID, contactID string, ev notifications.Event, self, other ledger.Sample) {
	toUser := ev
	toUser.SubjectID = contactID
	if ev.Kind == notifications.KindNearby {
		toUser.Location = other.Point()
	}
	e.dispatcher.Deliver(ctx, userID, toUser)

	toContact := ev
	toContact.SubjectID = userID
	if ev.Kind == notifications.KindNearby {
		toContact.Location = self.Point()
	}
	e.dispatcher.Deliver(ctx, contactID, toContact)
}
