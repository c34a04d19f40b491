package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/albapepper/proximity-alerts/internal/api/respond"
	"github.com/albapepper/proximity-alerts/internal/auth"
	"github.com/albapepper/proximity-alerts/internal/cache"
	"github.com/albapepper/proximity-alerts/internal/geo"
	"github.com/albapepper/proximity-alerts/internal/proximity"
)

const (
	defaultMeetingLimit = 20
	maxMeetingLimit     = 100
)

// GetMeetings returns the caller's meeting history, newest first.
// @Summary Meeting history
// @Description Meetings are logged once a contact stays within the meeting threshold for the configured duration. Supports ETag revalidation.
// @Tags meetings
// @Produce json
// @Param limit query int false "Page size (1-100)" default(20)
// @Success 200 {object} map[string]interface{}
// @Success 304
// @Failure 400 {object} respond.ErrorResponse
// @Security BearerAuth
// @Router /meetings [get]
func (h *Handler) GetMeetings(w http.ResponseWriter, r *http.Request) {
	limit := defaultMeetingLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxMeetingLimit {
			respond.WriteError(w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	userID := auth.UserID(r.Context())
	cacheKey := cache.MeetingsKey(userID, limit)
	ttl := cache.TTLMeetings

	if data, etag, ok := h.cache.Get(cacheKey); ok {
		respond.WriteConditional(w, r, data, etag, ttl, true)
		return
	}

	gen := h.cache.Generation(userID)
	meetings, err := h.engine.MeetingHistoryOf(r.Context(), userID, limit)
	if err != nil {
		h.logger.Error("meeting history failed", "user_id", userID, "error", err)
		respond.StoreUnavailable(w, "Meeting history")
		return
	}
	if meetings == nil {
		meetings = []proximity.Meeting{}
	}
	raw, err := json.Marshal(map[string]any{"meetings": meetings})
	if err != nil {
		respond.WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Meetings could not be encoded")
		return
	}

	etag := h.cache.Set(userID, cacheKey, gen, raw, ttl)
	respond.WriteConditional(w, r, raw, etag, ttl, false)
}

// GetMeetingPoint returns the midpoint between the caller and a contact.
// @Summary Meeting point
// @Description Great-circle midpoint between the caller's and a visible contact's latest positions.
// @Tags meetings
// @Produce json
// @Param with query string true "Contact user id"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} respond.ErrorResponse
// @Failure 404 {object} respond.ErrorResponse
// @Security BearerAuth
// @Router /meeting-point [get]
func (h *Handler) GetMeetingPoint(w http.ResponseWriter, r *http.Request) {
	other := r.URL.Query().Get("with")
	if other == "" {
		respond.WriteError(w, http.StatusBadRequest, "MISSING_CONTACT", "with query parameter is required")
		return
	}
	userID := auth.UserID(r.Context())

	visible, err := h.contacts.AreVisibleContacts(r.Context(), userID, other)
	if err != nil {
		h.logger.Error("visibility check failed", "user_id", userID, "error", err)
		respond.StoreUnavailable(w, "Contact graph")
		return
	}
	if !visible {
		// Same answer for strangers, ghosts and blocked users.
		respond.WriteError(w, http.StatusNotFound, "CONTACT_NOT_VISIBLE", "No visible contact with that id")
		return
	}

	var points [2]geo.Point
	for i, id := range []string{userID, other} {
		s, ok, err := h.locations.Latest(r.Context(), id)
		if err != nil {
			h.logger.Error("location lookup failed", "user_id", id, "error", err)
			respond.StoreUnavailable(w, "Location storage")
			return
		}
		if !ok {
			respond.WriteError(w, http.StatusNotFound, "LOCATION_UNKNOWN", "No recent location for "+id)
			return
		}
		points[i] = s.Point()
	}

	respond.WriteJSONObject(w, http.StatusOK, map[string]any{
		"midpoint":   geo.MidpointOf(points[0], points[1]),
		"distance_m": geo.Distance(points[0], points[1]),
	})
}
