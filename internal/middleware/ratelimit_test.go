package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func throttledHandler(rl *RateLimiter) http.Handler {
	return rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
}

func hit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/signup", http.NoBody)
	req.RemoteAddr = addr
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRateLimiterBurstThenThrottle(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.clock = func() time.Time { return at }
	h := throttledHandler(rl)

	for i := range 3 {
		if rec := hit(h, "203.0.113.7:4821"); rec.Code != http.StatusCreated {
			t.Fatalf("request %d: expected 201, got %d", i+1, rec.Code)
		}
	}

	rec := hit(h, "203.0.113.7:4821")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After on the throttled response")
	}
}

func TestRateLimiterRefillsOverTime(t *testing.T) {
	rl := NewRateLimiter(2, 2)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.clock = func() time.Time { return at }
	h := throttledHandler(rl)

	hit(h, "203.0.113.7:1")
	hit(h, "203.0.113.7:1")
	if rec := hit(h, "203.0.113.7:1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected empty bucket, got %d", rec.Code)
	}

	// One second at 2 rps credits two tokens.
	at = at.Add(time.Second)
	for i := range 2 {
		if rec := hit(h, "203.0.113.7:1"); rec.Code != http.StatusCreated {
			t.Fatalf("refilled request %d: expected 201, got %d", i+1, rec.Code)
		}
	}
	if rec := hit(h, "203.0.113.7:1"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected bucket drained again, got %d", rec.Code)
	}
}

func TestRateLimiterTracksAddressesSeparately(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.clock = func() time.Time { return at }
	h := throttledHandler(rl)

	if rec := hit(h, "203.0.113.7:1"); rec.Code != http.StatusCreated {
		t.Fatalf("first address: expected 201, got %d", rec.Code)
	}
	if rec := hit(h, "203.0.113.7:2"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("same address, new port: expected 429, got %d", rec.Code)
	}
	if rec := hit(h, "203.0.113.8:1"); rec.Code != http.StatusCreated {
		t.Fatalf("other address: expected 201, got %d", rec.Code)
	}
}

func TestRateLimiterRemainingHeaderCountsDown(t *testing.T) {
	rl := NewRateLimiter(1, 3)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.clock = func() time.Time { return at }
	h := throttledHandler(rl)

	for _, want := range []string{"2", "1", "0"} {
		rec := hit(h, "203.0.113.9:1")
		if got := rec.Header().Get("X-RateLimit-Remaining"); got != want {
			t.Fatalf("expected remaining %s, got %s", want, got)
		}
	}
}

func TestRateLimiterSweepDropsIdleVisitors(t *testing.T) {
	rl := NewRateLimiter(10, 10)
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.clock = func() time.Time { return at }
	h := throttledHandler(rl)

	hit(h, "203.0.113.10:1")
	hit(h, "203.0.113.11:1")
	if rl.Len() != 2 {
		t.Fatalf("expected 2 tracked addresses, got %d", rl.Len())
	}

	// Revisit one address later, then sweep everything older.
	at = at.Add(time.Minute)
	hit(h, "203.0.113.10:1")
	rl.sweep(at.Add(-time.Second))

	if rl.Len() != 1 {
		t.Fatalf("expected 1 tracked address after sweep, got %d", rl.Len())
	}
}

func TestRateLimiterBareAddrWithoutPort(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	h := throttledHandler(rl)

	// Some proxies hand over RemoteAddr without a port.
	if rec := hit(h, "203.0.113.12"); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}
	if rec := hit(h, "203.0.113.12"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected the bare address tracked, got %d", rec.Code)
	}
}
