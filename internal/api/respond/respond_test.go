package respond

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/albapepper/proximity-alerts/internal/cache"
)

func TestWriteConditional(t *testing.T) {
	data := []byte(`{"meetings":[]}`)
	etag := cache.ComputeETag(data)

	w := httptest.NewRecorder()
	WriteConditional(w, httptest.NewRequest(http.MethodGet, "/", nil), data, etag, time.Minute, false)
	if w.Code != http.StatusOK || w.Body.String() != string(data) {
		t.Fatalf("fresh request: %d %q", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "private, max-age=60" {
		t.Errorf("Cache-Control = %q", got)
	}
	if w.Header().Get("X-Cache") != "MISS" {
		t.Errorf("X-Cache = %q", w.Header().Get("X-Cache"))
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	WriteConditional(w, r, data, etag, time.Minute, true)
	if w.Code != http.StatusNotModified || w.Body.Len() != 0 {
		t.Fatalf("revalidation: %d %q", w.Code, w.Body.String())
	}
	if w.Header().Get("ETag") != etag {
		t.Errorf("304 without ETag")
	}
}

func TestErrorHelpers(t *testing.T) {
	w := httptest.NewRecorder()
	StoreUnavailable(w, "Meeting history")
	if w.Code != http.StatusServiceUnavailable || w.Header().Get("Retry-After") != "2" {
		t.Fatalf("StoreUnavailable: %d retry-after %q", w.Code, w.Header().Get("Retry-After"))
	}
	var body ErrorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Error.Code != "STORE_UNAVAILABLE" || body.Error.Message != "Meeting history temporarily unavailable" {
		t.Errorf("body = %+v", body)
	}

	w = httptest.NewRecorder()
	TooManyRequests(w, 5*time.Second, "slow down")
	if w.Code != http.StatusTooManyRequests || w.Header().Get("Retry-After") != "5" {
		t.Fatalf("TooManyRequests: %d retry-after %q", w.Code, w.Header().Get("Retry-After"))
	}
}
