package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/ashureev/myaa/internal/identity"
)

// SessionLimiter throttles requests per session key with a token bucket.
type SessionLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	idleTTL  time.Duration
	now      func() time.Time

	// OnReject is called for every rejected request.
	OnReject func(sessionKey string)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSessionLimiter allows perMinute requests per session per minute, with
// bursts up to the same amount. perMinute <= 0 disables limiting.
func NewSessionLimiter(perMinute int) *SessionLimiter {
	l := &SessionLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Inf,
		idleTTL:  10 * time.Minute,
		now:      time.Now,
	}
	if perMinute > 0 {
		l.limit = rate.Every(time.Minute / time.Duration(perMinute))
		l.burst = perMinute
	}
	return l
}

// Allow reports whether one more event for key may happen now.
func (l *SessionLimiter) Allow(key string) bool {
	if l.limit == rate.Inf {
		return true
	}
	now := l.now()

	l.mu.Lock()
	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	if e.limiter.AllowN(now, 1) {
		return true
	}
	if l.OnReject != nil {
		l.OnReject(key)
	}
	return false
}

// Prune forgets sessions idle for longer than the idle TTL and returns how
// many were dropped.
func (l *SessionLimiter) Prune() int {
	cutoff := l.now().Add(-l.idleTTL)
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, e := range l.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(l.limiters, k)
			n++
		}
	}
	return n
}

// Middleware rejects requests over the limit with 429. It must run after
// identity.Middleware.
func (l *SessionLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := identity.SessionKeyFromContext(r.Context())
		if !l.Allow(key) {
			slog.Warn("Rate limit exceeded", "session_key", key, "ip", identity.IPFromRequest(r))
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("Retry-After", "60")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}
