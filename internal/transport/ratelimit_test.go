package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nexusroom/server/internal/config"
)

func TestConnectLimiterAllowsBurstThenDenies(t *testing.T) {
	l := newConnectLimiter(config.RateLimitConfig{Enabled: true, ConnectsPerMinute: 3})
	defer l.Stop()

	for i := 0; i < 3; i++ {
		if !l.allow("1.2.3.4") {
			t.Fatalf("attempt %d should have been allowed within burst", i)
		}
	}
	if l.allow("1.2.3.4") {
		t.Fatal("fourth attempt should have been denied")
	}
}

func TestConnectLimiterTracksIPsIndependently(t *testing.T) {
	l := newConnectLimiter(config.RateLimitConfig{Enabled: true, ConnectsPerMinute: 1})
	defer l.Stop()

	if !l.allow("1.1.1.1") {
		t.Fatal("first IP should be allowed")
	}
	if !l.allow("2.2.2.2") {
		t.Fatal("second IP is independent and should be allowed")
	}
	if l.allow("1.1.1.1") {
		t.Fatal("first IP already used its burst")
	}
}

func TestMiddlewareRejectsOverLimitWith429(t *testing.T) {
	l := newConnectLimiter(config.RateLimitConfig{Enabled: true, ConnectsPerMinute: 1})
	defer l.Stop()

	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/room-1", nil)
	req.RemoteAddr = "5.5.5.5:1234"

	rec1 := httptest.NewRecorder()
	handler.ServeHTTP(rec1, req)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200", rec1.Code)
	}

	rec2 := httptest.NewRecorder()
	handler.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want 429", rec2.Code)
	}
}

func TestClientIPStripsPort(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:55555"
	if got := clientIP(req); got != "10.0.0.7" {
		t.Fatalf("got %q, want 10.0.0.7", got)
	}
}
