// Package listener provides a Postgres LISTEN/NOTIFY consumer for location
// rows written by other services. It holds a dedicated pgx connection (not
// from the pool) listening on the `location_recorded` channel.
//
// The user_locations trigger fires pg_notify for every write whose source
// is not this service; the consumer hands the sample to the same engine
// entry point the HTTP API uses, minus the store write.
package listener

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/albapepper/proximity-alerts/internal/geo"
	"github.com/albapepper/proximity-alerts/internal/ledger"
)

const (
	Channel          = "location_recorded"
	reconnectBackoff = 5 * time.Second
	maxReconnect     = 30 * time.Second
)

// LocationEvent is the JSON payload from pg_notify('location_recorded', ...).
type LocationEvent struct {
	UserID     string    `json:"user_id"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	Altitude   *float64  `json:"altitude"`
	Speed      *float64  `json:"speed"`
	ObservedAt time.Time `json:"observed_at"`
	ReceivedAt time.Time `json:"received_at"`
}

// Sample converts the event to a ledger sample.
func (e LocationEvent) Sample() ledger.Sample {
	return ledger.Sample{
		OwnerID:    e.UserID,
		Latitude:   e.Latitude,
		Longitude:  e.Longitude,
		Accuracy:   e.Accuracy,
		Altitude:   e.Altitude,
		Speed:      e.Speed,
		ObservedAt: e.ObservedAt,
		ReceivedAt: e.ReceivedAt,
	}
}

// Handler receives samples some other writer already stored.
type Handler interface {
	OnRecordedLocation(ctx context.Context, userID string, s ledger.Sample) error
}

// Start opens a dedicated connection and listens on the location_recorded
// channel. It reconnects automatically on connection loss. Blocks until ctx
// is cancelled. Intended to be called with `go`.
func Start(ctx context.Context, dbURL string, h Handler, logger *slog.Logger) {
	backoff := reconnectBackoff

	for {
		err := listenLoop(ctx, dbURL, h, logger)
		if ctx.Err() != nil {
			logger.Info("Location listener stopped (context cancelled)")
			return
		}

		logger.Error("Location listener disconnected, reconnecting...",
			"error", err, "backoff", backoff)

		select {
		case <-time.After(backoff):
			backoff = min(backoff*2, maxReconnect)
		case <-ctx.Done():
			return
		}
	}
}

// listenLoop runs a single listen session. Returns when the connection drops
// or the context is cancelled.
func listenLoop(ctx context.Context, dbURL string, h Handler, logger *slog.Logger) error {
	conn, err := pgx.Connect(ctx, dbURL)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	_, err = conn.Exec(ctx, "LISTEN "+Channel)
	if err != nil {
		return fmt.Errorf("LISTEN %s: %w", Channel, err)
	}
	logger.Info("Location listener connected", "channel", Channel)

	for {
		notification, err := conn.WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("wait for notification: %w", err)
		}
		Dispatch(ctx, notification.Payload, h, logger)
	}
}

// Dispatch decodes one payload and hands it to h. Bad payloads and
// rejected samples are logged and dropped; evaluation itself runs
// asynchronously inside the handler.
func Dispatch(ctx context.Context, payload string, h Handler, logger *slog.Logger) {
	event, err := Decode(payload)
	if err != nil {
		logger.Warn("Failed to parse location event", "payload", payload, "error", err)
		return
	}

	if err := h.OnRecordedLocation(ctx, event.UserID, event.Sample()); err != nil {
		level := slog.LevelWarn
		if errors.Is(err, geo.ErrInvalidCoordinates) {
			level = slog.LevelDebug
		}
		logger.Log(ctx, level, "location event rejected", "user_id", event.UserID, "error", err)
	}
}

// Decode parses a location_recorded payload.
func Decode(payload string) (LocationEvent, error) {
	var event LocationEvent
	if err := json.Unmarshal([]byte(payload), &event); err != nil {
		return LocationEvent{}, err
	}
	if event.UserID == "" {
		return LocationEvent{}, errors.New("missing user_id")
	}
	return event, nil
}
