package handler

import (
	"errors"
	"net/http"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/albapepper/proximity-alerts/internal/api/respond"
	"github.com/albapepper/proximity-alerts/internal/auth"
	"github.com/albapepper/proximity-alerts/internal/emergency"
	"github.com/albapepper/proximity-alerts/internal/geo"
)

const maxMessageRunes = 500

// EmergencyRequest starts an SOS broadcast.
type EmergencyRequest struct {
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	Message      string   `json:"message,omitempty"`
	BatteryLevel *int     `json:"battery_level,omitempty"`
}

// PostEmergency broadcasts an emergency to all of the caller's contacts.
// @Summary Send emergency
// @Description Snapshots the caller's contacts and notifies each of them. Per-recipient delivery outcomes are summarised in the response.
// @Tags emergencies
// @Accept json
// @Produce json
// @Param body body EmergencyRequest true "Emergency"
// @Success 201 {object} emergency.Alert
// @Failure 400 {object} respond.ErrorResponse
// @Failure 401 {object} respond.ErrorResponse
// @Security BearerAuth
// @Router /emergencies [post]
func (h *Handler) PostEmergency(w http.ResponseWriter, r *http.Request) {
	var req EmergencyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "latitude and longitude are required")
		return
	}
	if utf8.RuneCountInString(req.Message) > maxMessageRunes {
		respond.WriteError(w, http.StatusBadRequest, "MESSAGE_TOO_LONG", "message is limited to 500 characters")
		return
	}
	if b := req.BatteryLevel; b != nil && (*b < 0 || *b > 100) {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BATTERY_LEVEL", "battery_level must be between 0 and 100")
		return
	}

	userID := auth.UserID(r.Context())
	loc := geo.Point{Latitude: *req.Latitude, Longitude: *req.Longitude}
	alert, err := h.emergencies.Broadcast(r.Context(), userID, loc, req.Message, req.BatteryLevel)
	switch {
	case errors.Is(err, geo.ErrInvalidCoordinates):
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_COORDINATES", "Location rejected", err.Error())
		return
	case err != nil:
		h.logger.Error("emergency broadcast failed", "user_id", userID, "error", err)
		respond.StoreUnavailable(w, "Emergency storage")
		return
	}
	respond.WriteJSONObject(w, http.StatusCreated, alert)
}

// ResolveEmergency marks the caller's alert resolved.
// @Summary Resolve emergency
// @Description Only the sender may resolve. Resolving an already resolved alert succeeds without notifying anyone again.
// @Tags emergencies
// @Param alertID path string true "Alert id"
// @Success 204
// @Failure 403 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Security BearerAuth
// @Router /emergencies/{alertID}/resolve [post]
func (h *Handler) ResolveEmergency(w http.ResponseWriter, r *http.Request) {
	alertID := chi.URLParam(r, "alertID")
	userID := auth.UserID(r.Context())

	err := h.emergencies.Resolve(r.Context(), alertID, userID)
	switch {
	case errors.Is(err, emergency.ErrUnauthorized):
		respond.WriteError(w, http.StatusForbidden, "UNAUTHORIZED", "Only the sender can resolve this alert")
	case errors.Is(err, emergency.ErrNotFound):
		respond.WriteError(w, http.StatusNotFound, "NOT_FOUND", "Alert not found")
	case err != nil:
		h.logger.Error("emergency resolve failed", "alert_id", alertID, "user_id", userID, "error", err)
		respond.StoreUnavailable(w, "Emergency storage")
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

// GetActiveEmergencies lists active alerts the caller sent or received.
// @Summary Active emergencies
// @Tags emergencies
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Security BearerAuth
// @Router /emergencies/active [get]
func (h *Handler) GetActiveEmergencies(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	alerts, err := h.emergencies.ActiveAlertsVisibleTo(r.Context(), userID)
	if err != nil {
		h.logger.Error("active alerts failed", "user_id", userID, "error", err)
		respond.StoreUnavailable(w, "Emergency storage")
		return
	}
	respond.WriteJSONObject(w, http.StatusOK, map[string]any{"alerts": alerts})
}
