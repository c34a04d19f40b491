// Package notifications is the boundary to the push-delivery channels.
//
// Every delivery resolves to one Outcome. Callers treat outcomes as
// fire-and-forget: nothing in this package retries, and a failed delivery
// to one recipient never affects another.
package notifications

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/albapepper/proximity-alerts/internal/geo"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	// DefaultFanOutWorkers bounds concurrent deliveries of one broadcast.
	DefaultFanOutWorkers = 8
	// DefaultTimeout is applied per delivery by WithTimeout.
	DefaultTimeout = 3 * time.Second

	fcmScope    = "https://www.googleapis.com/auth/firebase.messaging"
	fcmEndpoint = "https://fcm.googleapis.com/v1/projects/%s/messages:send"
	appTitle    = "Nearby"
)

// --------------------------------------------------------------------------
// Types
// --------------------------------------------------------------------------

// Outcome is the result of one delivery attempt.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeNoChannel Outcome = "no_channel"
	OutcomeFailed    Outcome = "failed"
)

// Kind identifies the event being delivered.
type Kind string

const (
	KindNearby            Kind = "nearby"
	KindMeeting           Kind = "meeting"
	KindEmergency         Kind = "emergency"
	KindEmergencyResolved Kind = "emergency_resolved"
)

// Event is the payload handed to a Dispatcher.
type Event struct {
	Kind Kind
	// SubjectID is the user the event is about (the nearby contact, the
	// other meeting participant, or the emergency sender).
	SubjectID      string
	AlertID        string
	Message        string
	Location       geo.Point
	DistanceMeters float64
	BatteryLevel   *int
	OccurredAt     time.Time
}

// Dispatcher delivers one event to one recipient.
type Dispatcher interface {
	Deliver(ctx context.Context, recipientID string, ev Event) Outcome
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, recipientID string, ev Event) Outcome

func (f DispatcherFunc) Deliver(ctx context.Context, recipientID string, ev Event) Outcome {
	return f(ctx, recipientID, ev)
}

// Title is the push notification title.
func (e Event) Title() string {
	switch e.Kind {
	case KindEmergency:
		return "Emergency alert"
	case KindEmergencyResolved:
		return "Emergency resolved"
	case KindMeeting:
		return "Meeting logged"
	default:
		return appTitle
	}
}

// Body is the human-readable push body.
func (e Event) Body() string {
	switch e.Kind {
	case KindNearby:
		return fmt.Sprintf("%s is nearby (%s away)", e.SubjectID, formatDistance(e.DistanceMeters))
	case KindMeeting:
		return fmt.Sprintf("You met %s", e.SubjectID)
	case KindEmergency:
		if e.Message != "" {
			return fmt.Sprintf("%s needs help: %s", e.SubjectID, e.Message)
		}
		return fmt.Sprintf("%s needs help", e.SubjectID)
	case KindEmergencyResolved:
		return fmt.Sprintf("%s is safe now", e.SubjectID)
	default:
		return e.Message
	}
}

// Data is the string map attached to push messages.
func (e Event) Data() map[string]string {
	data := map[string]string{
		"kind":       string(e.Kind),
		"subject_id": e.SubjectID,
		"latitude":   strconv.FormatFloat(e.Location.Latitude, 'f', 6, 64),
		"longitude":  strconv.FormatFloat(e.Location.Longitude, 'f', 6, 64),
	}
	if e.AlertID != "" {
		data["alert_id"] = e.AlertID
	}
	if e.Kind == KindNearby {
		data["distance_m"] = strconv.FormatFloat(e.DistanceMeters, 'f', 0, 64)
	}
	if e.BatteryLevel != nil {
		data["battery_level"] = strconv.Itoa(*e.BatteryLevel)
	}
	if !e.OccurredAt.IsZero() {
		data["ts"] = strconv.FormatInt(e.OccurredAt.Unix(), 10)
	}
	return data
}

func formatDistance(m float64) string {
	if m >= 1000 {
		return fmt.Sprintf("%.1f km", m/1000)
	}
	return fmt.Sprintf("%d m", int(m+0.5))
}
