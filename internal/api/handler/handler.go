// Package handler provides HTTP handlers for all API endpoints. Handlers
// are thin adapters: they authenticate, decode, call one engine operation
// and map its errors to status codes.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/albapepper/proximity-alerts/internal/api/respond"
	"github.com/albapepper/proximity-alerts/internal/cache"
	"github.com/albapepper/proximity-alerts/internal/emergency"
	"github.com/albapepper/proximity-alerts/internal/geo"
	"github.com/albapepper/proximity-alerts/internal/ledger"
	"github.com/albapepper/proximity-alerts/internal/proximity"
)

// Engine is the proximity side of the core.
type Engine interface {
	OnLocationUpdate(ctx context.Context, userID string, s ledger.Sample) error
	MeetingHistoryOf(ctx context.Context, userID string, limit int) ([]proximity.Meeting, error)
	Stats() map[string]int64
}

// Emergencies is the emergency side of the core.
type Emergencies interface {
	Broadcast(ctx context.Context, senderID string, loc geo.Point, message string, battery *int) (emergency.Alert, error)
	Resolve(ctx context.Context, alertID, requesterID string) error
	ActiveAlertsVisibleTo(ctx context.Context, userID string) ([]emergency.Alert, error)
	Stats() map[string]int64
}

// Contacts answers visibility questions for the meeting point endpoint.
type Contacts interface {
	AreVisibleContacts(ctx context.Context, a, b string) (bool, error)
}

// Locations reads a user's latest sample.
type Locations interface {
	Latest(ctx context.Context, userID string) (ledger.Sample, bool, error)
}

// Push is the websocket channel.
type Push interface {
	Serve(w http.ResponseWriter, r *http.Request, userID string) error
	Stats() map[string]int
}

// DBChecker pings the database. Nil when running on in-memory stores.
type DBChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps are the collaborators of a Handler.
type Deps struct {
	Engine      Engine
	Emergencies Emergencies
	Contacts    Contacts
	Locations   Locations
	Push        Push
	Cache       *cache.Cache
	DB          DBChecker
	Logger      *slog.Logger
}

// Handler holds shared dependencies for all endpoint handlers.
type Handler struct {
	engine      Engine
	emergencies Emergencies
	contacts    Contacts
	locations   Locations
	push        Push
	cache       *cache.Cache
	db          DBChecker
	logger      *slog.Logger
}

// New creates a Handler with shared dependencies.
func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := d.Cache
	if c == nil {
		c = cache.New(false)
	}
	return &Handler{
		engine:      d.Engine,
		emergencies: d.Emergencies,
		contacts:    d.Contacts,
		locations:   d.Locations,
		push:        d.Push,
		cache:       c,
		db:          d.DB,
		logger:      logger,
	}
}

// Root serves API info at /.
// @Summary API root info
// @Description Returns API name, version and status.
// @Tags meta
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router / [get]
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"name":    "Proximity Alerts API",
		"version": "1.0.0",
		"status":  "running",
		"docs":    "/docs",
	})
}

// HealthCheck returns basic health status and engine counters.
// @Summary Health check
// @Description Returns basic health status, engine counters and push connections.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health [get]
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.engine != nil {
		body["engine"] = h.engine.Stats()
	}
	if h.emergencies != nil {
		body["emergencies"] = h.emergencies.Stats()
	}
	if h.push != nil {
		body["push"] = h.push.Stats()
	}
	respond.WriteJSONObject(w, http.StatusOK, body)
}

// HealthCheckDB verifies database connectivity.
// @Summary Database health check
// @Description Verifies Postgres connectivity.
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} map[string]interface{}
// @Router /health/db [get]
func (h *Handler) HealthCheckDB(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		respond.WriteJSONObject(w, http.StatusOK, map[string]any{
			"status":    "healthy",
			"database":  "in-memory",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	if err := h.db.HealthCheck(r.Context()); err != nil {
		h.logger.Warn("database health check failed", "error", err)
		respond.WriteJSONObject(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "unhealthy",
			"database":  "disconnected",
			"error":     "Database connection check failed",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"database":  "connected",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// HealthCheckCache returns cache statistics.
// @Summary Cache health check
// @Description Returns in-memory cache statistics (active keys, expired keys).
// @Tags health
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /health/cache [get]
func (h *Handler) HealthCheckCache(w http.ResponseWriter, r *http.Request) {
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"cache":     h.cache.Stats(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
