// Package api provides HTTP handlers for the myaa gateway.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/ashureev/myaa/internal/agent"
	"github.com/ashureev/myaa/internal/identity"
	"github.com/ashureev/myaa/internal/middleware"
	"github.com/ashureev/myaa/internal/observability"
	"github.com/ashureev/myaa/internal/pipeline"
	"github.com/ashureev/myaa/internal/prompt"
	"github.com/ashureev/myaa/internal/store"
)

const defaultTurnTimeout = 60 * time.Second

// Options configures a Handler.
type Options struct {
	TurnTimeout        time.Duration
	DebugMode          bool
	RateLimitPerMinute int
	AllowedOrigins     []string
	Metrics            *observability.Metrics
	Logger             *slog.Logger
}

// Handler serves the conversation API on top of an Orchestrator.
type Handler struct {
	orch       *pipeline.Orchestrator
	cache      *store.Cache
	journal    store.Journal
	provider   *agent.Service
	characters *prompt.Characters
	bindings   *CharacterBindings
	conns      *ChatConnections
	limiter    *middleware.SessionLimiter
	validate   *validator.Validate

	turnTimeout    time.Duration
	debug          bool
	allowedOrigins []string
	metrics        *observability.Metrics
	logger         *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(orch *pipeline.Orchestrator, provider *agent.Service, characters *prompt.Characters, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.TurnTimeout <= 0 {
		opts.TurnTimeout = defaultTurnTimeout
	}
	limiter := middleware.NewSessionLimiter(opts.RateLimitPerMinute)
	limiter.OnReject = func(string) { opts.Metrics.IncRateLimited() }

	return &Handler{
		orch:           orch,
		cache:          orch.Pipeline().Cache(),
		journal:        orch.Journal(),
		provider:       provider,
		characters:     characters,
		bindings:       NewCharacterBindings(),
		conns:          NewChatConnections(),
		limiter:        limiter,
		validate:       validator.New(validator.WithRequiredStructEnabled()),
		turnTimeout:    opts.TurnTimeout,
		debug:          opts.DebugMode,
		allowedOrigins: opts.AllowedOrigins,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
	}
}

// Limiter returns the per-session rate limiter so idle entries can be pruned.
func (h *Handler) Limiter() *middleware.SessionLimiter {
	return h.limiter
}

// Bindings returns the per-session character bindings.
func (h *Handler) Bindings() *CharacterBindings {
	return h.bindings
}

// Connections returns the open WebSocket chats.
func (h *Handler) Connections() *ChatConnections {
	return h.conns
}

// RegisterRoutes mounts the API and WebSocket routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Get("/characters", h.ListCharacters)
		r.Get("/debug/dump", h.Dump)

		r.Route("/sessions/{"+identity.SessionKeyParam+"}", func(r chi.Router) {
			r.Use(identity.Middleware)
			r.With(h.limiter.Middleware).Post("/turns", h.PostTurn)
			r.Get("/turns", h.ListTurns)
			r.Get("/character", h.GetCharacter)
			r.Put("/character", h.PutCharacter)
		})
	})

	r.With(identity.Middleware).Get("/ws/chat", h.ServeChat)
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
