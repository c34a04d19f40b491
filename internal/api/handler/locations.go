package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/albapepper/proximity-alerts/internal/api/respond"
	"github.com/albapepper/proximity-alerts/internal/auth"
	"github.com/albapepper/proximity-alerts/internal/geo"
	"github.com/albapepper/proximity-alerts/internal/ledger"
)

const maxBodyBytes = 16 << 10

// LocationRequest is a client-reported position fix.
type LocationRequest struct {
	Latitude   *float64  `json:"latitude"`
	Longitude  *float64  `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	Altitude   *float64  `json:"altitude,omitempty"`
	Speed      *float64  `json:"speed,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// PostLocation accepts a location update for the caller.
// @Summary Report location
// @Description Records the caller's position and schedules proximity evaluation. Alerts are delivered asynchronously over the push channels.
// @Tags locations
// @Accept json
// @Produce json
// @Param body body LocationRequest true "Position fix"
// @Success 202 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 401 {object} respond.ErrorResponse
// @Failure 429 {object} respond.ErrorResponse
// @Security BearerAuth
// @Router /locations [post]
func (h *Handler) PostLocation(w http.ResponseWriter, r *http.Request) {
	var req LocationRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		respond.WriteError(w, http.StatusBadRequest, "INVALID_BODY", "latitude and longitude are required")
		return
	}

	userID := auth.UserID(r.Context())
	err := h.engine.OnLocationUpdate(r.Context(), userID, ledger.Sample{
		Latitude:   *req.Latitude,
		Longitude:  *req.Longitude,
		Accuracy:   req.Accuracy,
		Altitude:   req.Altitude,
		Speed:      req.Speed,
		ObservedAt: req.ObservedAt,
	})
	switch {
	case errors.Is(err, geo.ErrInvalidCoordinates):
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_COORDINATES", "Location rejected", err.Error())
		return
	case err != nil:
		h.logger.Error("location update failed", "user_id", userID, "error", err)
		respond.StoreUnavailable(w, "Location storage")
		return
	}
	respond.WriteJSONObject(w, http.StatusAccepted, map[string]any{"status": "accepted"})
}

// decode reads a bounded JSON body into v, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		respond.WriteErrorDetail(w, http.StatusBadRequest, "INVALID_BODY", "Request body is not valid JSON", err.Error())
		return false
	}
	return true
}
