// Package middleware holds transport middleware shared by HTTP routes.
package middleware

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"
)

// TurnLimiter is a token-bucket limiter keyed by client address. It guards
// the turn endpoints: every turn may cost a provider completion, so the
// per-minute bound caps spend as well as abuse.
type TurnLimiter struct {
	mu      sync.Mutex
	clients map[string]*bucket
	perMin  int
	done    chan struct{}
	now     func() time.Time
}

type bucket struct {
	tokens     int
	lastRefill time.Time
}

// NewTurnLimiter creates a limiter allowing perMin requests per client per
// minute. Stale client buckets are swept in the background until Stop.
func NewTurnLimiter(perMin int) *TurnLimiter {
	if perMin < 1 {
		perMin = 1
	}
	tl := &TurnLimiter{
		clients: make(map[string]*bucket),
		perMin:  perMin,
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go tl.sweep()
	return tl
}

// Wrap enforces the limit around next. Over-limit requests get a JSON 429.
func (tl *TurnLimiter) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tl.Allow(clientKey(r)) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"error": "rate limit exceeded, retry later",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Allow reports whether one more request from key fits the budget.
func (tl *TurnLimiter) Allow(key string) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	now := tl.now()
	b, ok := tl.clients[key]
	if !ok {
		tl.clients[key] = &bucket{tokens: tl.perMin - 1, lastRefill: now}
		return true
	}

	refill := int(now.Sub(b.lastRefill).Minutes() * float64(tl.perMin))
	if refill > 0 {
		b.tokens += refill
		if b.tokens > tl.perMin {
			b.tokens = tl.perMin
		}
		b.lastRefill = now
	}
	if b.tokens > 0 {
		b.tokens--
		return true
	}
	return false
}

// Stop ends the background sweep.
func (tl *TurnLimiter) Stop() {
	close(tl.done)
}

func (tl *TurnLimiter) sweep() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-tl.done:
			return
		case <-ticker.C:
			tl.mu.Lock()
			now := tl.now()
			for key, b := range tl.clients {
				if now.Sub(b.lastRefill) > 10*time.Minute {
					delete(tl.clients, key)
				}
			}
			tl.mu.Unlock()
		}
	}
}

// clientKey strips the port so one technician terminal maps to one bucket
// across connections.
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
