package middleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Tracked-address ceiling. Past it, requests from new addresses are
// rejected outright, which bounds limiter memory under spoofed-source
// floods.
const maxTrackedAddrs = 1 << 16

// RateLimiter throttles requests with one token bucket per client
// address. It fronts the public registration surface, where a single
// address hammering signup must not be able to starve the registry.
type RateLimiter struct {
	rate  float64
	burst float64

	mu       sync.Mutex
	visitors map[string]*visitor

	clock func() time.Time
}

type visitor struct {
	tokens   float64
	refilled time.Time
	touched  time.Time
}

// NewRateLimiter creates a limiter allowing rate requests per second
// sustained, with bursts of up to burst requests.
func NewRateLimiter(rate float64, burst int) *RateLimiter {
	return &RateLimiter{
		rate:     rate,
		burst:    float64(burst),
		visitors: make(map[string]*visitor),
		clock:    time.Now,
	}
}

// Handler enforces the limit and reports bucket state in the usual
// X-RateLimit headers. Throttled requests get a 429 with Retry-After.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		now := rl.clock()
		remaining, wait, ok := rl.take(clientAddr(r), now)

		h := w.Header()
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(now.Add(time.Second).Unix(), 10))

		if !ok {
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			h.Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// take spends one token for addr, first crediting the bucket for the
// time passed since its last refill. wait reports how long until the
// next token when the spend fails.
func (rl *RateLimiter) take(addr string, now time.Time) (remaining int, wait time.Duration, ok bool) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, known := rl.visitors[addr]
	if !known {
		if len(rl.visitors) >= maxTrackedAddrs {
			return 0, time.Duration(float64(time.Second) / rl.rate), false
		}
		v = &visitor{tokens: rl.burst}
		rl.visitors[addr] = v
	} else {
		v.tokens += now.Sub(v.refilled).Seconds() * rl.rate
		if v.tokens > rl.burst {
			v.tokens = rl.burst
		}
	}
	v.refilled = now
	v.touched = now

	if v.tokens < 1 {
		need := (1 - v.tokens) / rl.rate
		return 0, time.Duration(need * float64(time.Second)), false
	}

	v.tokens--
	return int(v.tokens), 0, true
}

// StartCleanup sweeps idle buckets on the given interval; a bucket not
// seen for maxIdle is dropped. The returned stop function ends the
// sweeper goroutine.
func (rl *RateLimiter) StartCleanup(interval, maxIdle time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				rl.sweep(rl.clock().Add(-maxIdle))
			}
		}
	}()
	return cancel
}

func (rl *RateLimiter) sweep(cutoff time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for addr, v := range rl.visitors {
		if v.touched.Before(cutoff) {
			delete(rl.visitors, addr)
		}
	}
}

// Len reports the number of tracked addresses.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

// clientAddr is RemoteAddr without the port. Forwarding headers are
// ignored here on purpose: anyone can write X-Forwarded-For, and the
// signup limiter must not be bypassable by a spoofed header.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
