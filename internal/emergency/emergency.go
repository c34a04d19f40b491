// Package emergency fans a single SOS out to the sender's contacts and
// tracks its resolution.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/albapepper/proximity-alerts/internal/geo"
	"github.com/albapepper/proximity-alerts/internal/notifications"
)

var (
	// ErrUnauthorized is returned when someone other than the sender
	// tries to resolve an alert. The alert is left untouched.
	ErrUnauthorized = errors.New("only the sender can resolve an alert")
	// ErrNotFound is returned for an unknown alert id.
	ErrNotFound = errors.New("alert not found")
)

// Status is the alert lifecycle state. It only moves active -> resolved.
type Status string

const (
	StatusActive   Status = "active"
	StatusResolved Status = "resolved"
)

// Alert is one emergency broadcast. RecipientIDs is the contact set
// frozen at creation time.
type Alert struct {
	ID           string           `json:"id"`
	SenderID     string           `json:"sender_id"`
	Location     geo.Point        `json:"location"`
	Message      string           `json:"message,omitempty"`
	BatteryLevel *int             `json:"battery_level,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	RecipientIDs []string         `json:"recipient_ids"`
	Status       Status           `json:"status"`
	ResolvedAt   *time.Time       `json:"resolved_at,omitempty"`
	Deliveries   *DeliverySummary `json:"deliveries,omitempty"`
}

// DeliverySummary counts broadcast delivery outcomes.
type DeliverySummary struct {
	OK        int `json:"ok"`
	NoChannel int `json:"no_channel"`
	Failed    int `json:"failed"`
}

// Store persists alerts and their delivery rows.
type Store interface {
	CreateAlert(ctx context.Context, a Alert) error
	GetAlert(ctx context.Context, id string) (Alert, error)
	// ResolveAlert moves an active alert to resolved. It reports false
	// when the alert was already resolved.
	ResolveAlert(ctx context.Context, id string, at time.Time) (bool, error)
	RecordDeliveries(ctx context.Context, alertID string, kind notifications.Kind, ds []notifications.Delivery) error
	// ActiveAlertsFor returns active alerts the user sent or received,
	// newest first.
	ActiveAlertsFor(ctx context.Context, userID string) ([]Alert, error)
}

// ContactSource resolves who receives a user's emergencies. Ghost mode
// does not hide a user from emergency traffic.
type ContactSource interface {
	EmergencyContactsOf(ctx context.Context, userID string) ([]string, error)
}

// Options tunes a Broadcaster. Zero values take defaults.
type Options struct {
	Workers   int
	IOTimeout time.Duration
	Clock     func() time.Time
}

// Broadcaster implements sendEmergency / resolveEmergency.
type Broadcaster struct {
	store      Store
	contacts   ContactSource
	dispatcher notifications.Dispatcher
	workers    int
	ioTimeout  time.Duration
	clock      func() time.Time
	newID      func() string
	logger     *slog.Logger

	sent     atomic.Int64
	resolved atomic.Int64
	failed   atomic.Int64
}

// NewBroadcaster creates a Broadcaster.
func NewBroadcaster(store Store, contacts ContactSource, dispatcher notifications.Dispatcher, opts Options, logger *slog.Logger) *Broadcaster {
	if opts.Workers < 1 {
		opts.Workers = notifications.DefaultFanOutWorkers
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = notifications.DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		store:      store,
		contacts:   contacts,
		dispatcher: dispatcher,
		workers:    opts.Workers,
		ioTimeout:  opts.IOTimeout,
		clock:      opts.Clock,
		newID:      uuid.NewString,
		logger:     logger,
	}
}

// Broadcast snapshots the sender's contacts, persists the alert as
// active and delivers it to every recipient. Individual delivery
// failures are counted in the returned alert, never returned as errors.
// The fan-out runs to completion even if ctx is cancelled.
func (b *Broadcaster) Broadcast(ctx context.Context, senderID string, loc geo.Point, message string, battery *int) (Alert, error) {
	if err := loc.Validate(); err != nil {
		return Alert{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, b.ioTimeout)
	recipients, err := b.contacts.EmergencyContactsOf(cctx, senderID)
	cancel()
	if err != nil {
		return Alert{}, fmt.Errorf("resolve recipients: %w", err)
	}

	a := Alert{
		ID:           b.newID(),
		SenderID:     senderID,
		Location:     loc,
		Message:      message,
		BatteryLevel: battery,
		CreatedAt:    b.clock().UTC(),
		RecipientIDs: slices.Clone(recipients),
		Status:       StatusActive,
	}
	if a.RecipientIDs == nil {
		a.RecipientIDs = []string{}
	}

	sctx, cancel := context.WithTimeout(ctx, b.ioTimeout)
	err = b.store.CreateAlert(sctx, a)
	cancel()
	if err != nil {
		return Alert{}, fmt.Errorf("create alert: %w", err)
	}
	b.sent.Add(1)

	ds := b.fanOut(context.WithoutCancel(ctx), a, notifications.Event{
		Kind:         notifications.KindEmergency,
		SubjectID:    senderID,
		AlertID:      a.ID,
		Message:      message,
		Location:     loc,
		BatteryLevel: battery,
		OccurredAt:   a.CreatedAt,
	})
	ok, none, failed := notifications.Summarize(ds)
	a.Deliveries = &DeliverySummary{OK: ok, NoChannel: none, Failed: failed}

	b.logger.Info("Emergency broadcast",
		"alert_id", a.ID, "user_id", senderID,
		"recipients", len(a.RecipientIDs), "ok", ok, "no_channel", none, "failed", failed)
	return a, nil
}

// Resolve marks the alert resolved and notifies the original recipients.
// Only the sender may resolve; resolving a resolved alert is a no-op.
func (b *Broadcaster) Resolve(ctx context.Context, alertID, requesterID string) error {
	gctx, cancel := context.WithTimeout(ctx, b.ioTimeout)
	a, err := b.store.GetAlert(gctx, alertID)
	cancel()
	if err != nil {
		return err
	}
	if a.SenderID != requesterID {
		return ErrUnauthorized
	}
	if a.Status == StatusResolved {
		return nil
	}

	now := b.clock().UTC()
	rctx, cancel := context.WithTimeout(ctx, b.ioTimeout)
	changed, err := b.store.ResolveAlert(rctx, alertID, now)
	cancel()
	if err != nil {
		return fmt.Errorf("resolve alert: %w", err)
	}
	if !changed {
		// A concurrent resolve won and notified.
		return nil
	}
	b.resolved.Add(1)

	ds := b.fanOut(context.WithoutCancel(ctx), a, notifications.Event{
		Kind:       notifications.KindEmergencyResolved,
		SubjectID:  a.SenderID,
		AlertID:    a.ID,
		Location:   a.Location,
		OccurredAt: now,
	})
	ok, none, failed := notifications.Summarize(ds)
	b.logger.Info("Emergency resolved", "alert_id", a.ID, "ok", ok, "no_channel", none, "failed", failed)
	return nil
}

// ActiveAlertsVisibleTo returns the active alerts the user sent or
// received, newest first.
func (b *Broadcaster) ActiveAlertsVisibleTo(ctx context.Context, userID string) ([]Alert, error) {
	ctx, cancel := context.WithTimeout(ctx, b.ioTimeout)
	defer cancel()
	alerts, err := b.store.ActiveAlertsFor(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("active alerts: %w", err)
	}
	return alerts, nil
}

// Stats returns broadcaster counters.
func (b *Broadcaster) Stats() map[string]int64 {
	return map[string]int64{
		"sent":              b.sent.Load(),
		"resolved":          b.resolved.Load(),
		"delivery_failures": b.failed.Load(),
	}
}

func (b *Broadcaster) fanOut(ctx context.Context, a Alert, ev notifications.Event) []notifications.Delivery {
	ds := notifications.FanOut(ctx, b.dispatcher, a.RecipientIDs, ev, b.workers)
	for _, d := range ds {
		if d.Outcome == notifications.OutcomeFailed {
			b.failed.Add(1)
			b.logger.Warn("emergency delivery failed", "alert_id", a.ID, "kind", ev.Kind, "recipient_id", d.RecipientID)
		}
	}

	rctx, cancel := context.WithTimeout(ctx, b.ioTimeout)
	defer cancel()
	if err := b.store.RecordDeliveries(rctx, a.ID, ev.Kind, ds); err != nil {
		b.logger.Warn("record deliveries failed", "alert_id", a.ID, "error", err)
	}
	return ds
}
