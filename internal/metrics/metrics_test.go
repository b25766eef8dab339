package metrics

import (
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthRequiresFeedAndRecentInference(t *testing.T) {
	h := NewHealth()
	if h.OK() {
		t.Fatal("fresh health tracker should not be OK")
	}

	h.SetFeedConnected(true)
	if h.OK() {
		t.Fatal("should not be OK without an inference mark")
	}

	h.MarkInference()
	if !h.OK() {
		t.Fatal("expected OK once feed connected and inference marked")
	}

	h.lastInferenceAt = time.Now().Add(-2 * time.Minute)
	if h.OK() {
		t.Fatal("stale inference mark should fail health")
	}
}

func TestHealthzHandlerStatusCode(t *testing.T) {
	h := NewHealth()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/healthz", nil)
	h.Handler()(rr, req)
	if rr.Code != 503 {
		t.Fatalf("expected 503 for unhealthy, got %d", rr.Code)
	}

	h.SetFeedConnected(true)
	h.MarkInference()
	rr2 := httptest.NewRecorder()
	h.Handler()(rr2, req)
	if rr2.Code != 200 {
		t.Fatalf("expected 200 for healthy, got %d", rr2.Code)
	}
}
