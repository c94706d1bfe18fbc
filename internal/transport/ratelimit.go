package transport

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/pitabwire/util"
	"golang.org/x/time/rate"
)

const staleClientAfter = 10 * time.Minute

// RateLimiter applies a per-client token bucket to the command
// endpoint. Clients are keyed by IP; entries idle beyond
// staleClientAfter are evicted lazily on the next lookup sweep.
type RateLimiter struct {
	mu        sync.Mutex
	clients   map[string]*clientBucket
	perMinute int
	burst     int
	lastSweep time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perMinute sustained requests with the given
// burst per client.
func NewRateLimiter(perMinute, burst int) *RateLimiter {
	return &RateLimiter{
		clients:   map[string]*clientBucket{},
		perMinute: perMinute,
		burst:     burst,
		lastSweep: time.Now(),
	}
}

// Allow reports whether the client may proceed.
func (rl *RateLimiter) Allow(clientID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastSweep) > staleClientAfter {
		for id, c := range rl.clients {
			if now.Sub(c.lastSeen) > staleClientAfter {
				delete(rl.clients, id)
			}
		}
		rl.lastSweep = now
	}

	bucket, ok := rl.clients[clientID]
	if !ok {
		bucket = &clientBucket{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60.0), rl.burst),
		}
		rl.clients[clientID] = bucket
	}
	bucket.lastSeen = now
	return bucket.limiter.Allow()
}

// Middleware rejects over-limit requests with 429.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := clientAddr(r)
		if !rl.Allow(clientID) {
			util.Log(r.Context()).Warn("rate limit exceeded",
				"client", clientID, "path", r.URL.Path)

			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", strconv.Itoa(1))
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error": "rate_limit_exceeded",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientAddr(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
