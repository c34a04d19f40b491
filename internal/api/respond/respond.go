// Package respond writes the API's JSON bodies and error envelope.
// Bodies carry per-user data, so nothing here is cacheable by shared
// caches.
package respond

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/albapepper/proximity-alerts/internal/cache"
)

// ErrorResponse is the envelope of every error body.
type ErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
		Detail  string `json:"detail,omitempty"`
	} `json:"error"`
}

// storeRetryAfter is the hint sent with 503s caused by a slow store.
const storeRetryAfter = 2 * time.Second

// WriteConditional answers r with 304 when its If-None-Match matches
// etag, and with data otherwise. hit reports whether data came from the
// response cache.
func WriteConditional(w http.ResponseWriter, r *http.Request, data []byte, etag string, ttl time.Duration, hit bool) {
	h := w.Header()
	h.Set("ETag", etag)
	h.Set("Vary", "Authorization, Accept-Encoding")
	h.Set("Cache-Control", "private, max-age="+strconv.Itoa(int(ttl.Seconds())))
	if hit {
		h.Set("X-Cache", "HIT")
	} else {
		h.Set("X-Cache", "MISS")
	}
	if cache.CheckETagMatch(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	h.Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// WriteJSONObject encodes v with the given status.
func WriteJSONObject(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError sends an error envelope without detail.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	WriteErrorDetail(w, status, code, message, "")
}

// WriteErrorDetail sends an error envelope. detail is free text for
// humans; clients branch on code.
func WriteErrorDetail(w http.ResponseWriter, status int, code, message, detail string) {
	var resp ErrorResponse
	resp.Error.Code = code
	resp.Error.Message = message
	resp.Error.Detail = detail
	WriteJSONObject(w, status, resp)
}

// StoreUnavailable reports a failed or timed-out store call as 503 with a
// Retry-After hint. what names the data, e.g. "Meetings".
func StoreUnavailable(w http.ResponseWriter, what string) {
	w.Header().Set("Retry-After", strconv.Itoa(int(storeRetryAfter.Seconds())))
	WriteError(w, http.StatusServiceUnavailable, "STORE_UNAVAILABLE", what+" temporarily unavailable")
}

// TooManyRequests sends 429 with a Retry-After of retryAfter.
func TooManyRequests(w http.ResponseWriter, retryAfter time.Duration, message string) {
	w.Header().Set("Retry-After", strconv.Itoa(int(retryAfter.Seconds())))
	WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", message)
}
