// Package identity resolves which conversation a request belongs to and who is
// speaking in it.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/go-chi/chi/v5"
)

const (
	// SessionKeyParam is the chi URL parameter carrying the session key.
	SessionKeyParam = "key"
	// SessionKeyQuery is the query parameter used when the path has no key.
	SessionKeyQuery = "session_key"
	// SessionKeyHeader is the header fallback for the session key.
	SessionKeyHeader = "X-Myaa-Session-Key"
	// SpeakerHeader names the speaker when the request body does not.
	SpeakerHeader = "X-Myaa-Speaker"
	// DefaultSpeaker is used when no speaker is supplied at all.
	DefaultSpeaker = "user"
)

type contextKey int

const (
	sessionKeyKey contextKey = iota
	speakerKey
)

var (
	sessionKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._:@-]{1,128}$`)
	speakerPattern    = regexp.MustCompile(`^[^\x00-\x1f]{1,100}$`)
)

// SessionKeyFromContext extracts the session key from the request context.
func SessionKeyFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(sessionKeyKey).(string); ok {
		return v
	}
	return ""
}

// SpeakerFromContext extracts the speaker from the request context.
func SpeakerFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(speakerKey).(string); ok {
		return v
	}
	return DefaultSpeaker
}

// WithSessionKey returns ctx carrying key.
func WithSessionKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, sessionKeyKey, key)
}

// ValidSessionKey reports whether key is an acceptable session key such as
// "channel:thread".
func ValidSessionKey(key string) bool {
	return sessionKeyPattern.MatchString(key)
}

func sanitizeSpeaker(name string) string {
	name = strings.TrimSpace(name)
	if name == "" || !speakerPattern.MatchString(name) {
		return DefaultSpeaker
	}
	return name
}

func sessionKeyFromRequest(r *http.Request) string {
	key := chi.URLParam(r, SessionKeyParam)
	if key == "" {
		key = r.URL.Query().Get(SessionKeyQuery)
	}
	if key == "" {
		key = r.Header.Get(SessionKeyHeader)
	}
	return strings.TrimSpace(key)
}

// Middleware injects the session key and speaker into the request context and
// rejects requests without a valid session key.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := sessionKeyFromRequest(r)
		if !ValidSessionKey(key) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid or missing session key"}`))
			return
		}

		ctx := WithSessionKey(r.Context(), key)
		ctx = context.WithValue(ctx, speakerKey, sanitizeSpeaker(r.Header.Get(SpeakerHeader)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IPFromRequest returns a normalized remote IP for logging.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
