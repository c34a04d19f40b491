package handler

import (
	"net/http"

	"github.com/albapepper/proximity-alerts/internal/auth"
)

// ServeWS upgrades the connection to the caller's push channel. Browsers
// pass the token as ?token= because they cannot set headers on the
// handshake.
// @Summary Push channel
// @Description Websocket carrying nearby, meeting and emergency events for the caller.
// @Tags push
// @Param token query string false "Bearer token"
// @Success 101
// @Failure 401 {object} respond.ErrorResponse
// @Router /ws [get]
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	userID := auth.UserID(r.Context())
	if err := h.push.Serve(w, r, userID); err != nil {
		// The upgrader has already answered the request.
		h.logger.Debug("websocket upgrade failed", "user_id", userID, "error", err)
	}
}
