package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

func TestMiddlewareFromURLParam(t *testing.T) {
	var gotKey, gotSpeaker string
	r := chi.NewRouter()
	r.With(Middleware).Get("/sessions/{key}", func(w http.ResponseWriter, r *http.Request) {
		gotKey = SessionKeyFromContext(r.Context())
		gotSpeaker = SpeakerFromContext(r.Context())
	})

	req := httptest.NewRequest(http.MethodGet, "/sessions/c1:0", nil)
	req.Header.Set(SpeakerHeader, "alice")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c1:0", gotKey)
	assert.Equal(t, "alice", gotSpeaker)
}

func TestMiddlewareFallbacks(t *testing.T) {
	var gotKey, gotSpeaker string
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = SessionKeyFromContext(r.Context())
		gotSpeaker = SpeakerFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws/chat?session_key=c2:7", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "c2:7", gotKey)
	assert.Equal(t, DefaultSpeaker, gotSpeaker)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(SessionKeyHeader, "dm@bob")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "dm@bob", gotKey)
}

func TestMiddlewareRejectsBadKeys(t *testing.T) {
	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	for _, target := range []string{"/", "/?session_key=has%20space", "/?session_key=a/b"} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestSanitizeSpeaker(t *testing.T) {
	assert.Equal(t, "alice", sanitizeSpeaker("  alice "))
	assert.Equal(t, DefaultSpeaker, sanitizeSpeaker(""))
	assert.Equal(t, DefaultSpeaker, sanitizeSpeaker("bad\nname"))
	assert.Equal(t, "みゃあ", sanitizeSpeaker("みゃあ"))
}
