package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/identity"
	"github.com/ashureev/myaa/internal/pipeline"
)

const maxTurnBodyBytes = 64 << 10

// TurnRequest is the body of POST /api/sessions/{key}/turns.
type TurnRequest struct {
	Speaker string `json:"speaker" validate:"omitempty,max=100"`
	Content string `json:"content" validate:"required,max=4000"`
}

// PostTurn runs one conversation turn and returns the reply.
func (h *Handler) PostTurn(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())

	var req TurnRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBodyBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Content = strings.TrimSpace(req.Content)
	if err := h.validate.Struct(req); err != nil {
		Error(w, http.StatusBadRequest, "invalid turn: "+err.Error())
		return
	}
	speaker := strings.TrimSpace(req.Speaker)
	if speaker == "" {
		speaker = identity.SpeakerFromContext(r.Context())
	}

	res, err := h.runTurn(r.Context(), key, domain.Message{Speaker: speaker, Content: req.Content})
	if err != nil {
		status, msg := turnErrorStatus(err)
		h.logger.Warn("Turn request failed", "session_key", key, "status", status, "error", err)
		Error(w, status, msg)
		return
	}
	JSON(w, http.StatusOK, res)
}

// runTurn applies the turn timeout and the session's bound character.
func (h *Handler) runTurn(ctx context.Context, key string, inbound domain.Message) (*pipeline.TurnResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.turnTimeout)
	defer cancel()
	return h.orch.Execute(ctx, key, h.bindings.Get(key), inbound)
}

func turnErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "turn timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "turn cancelled"
	case errors.Is(err, pipeline.ErrGeneration):
		return http.StatusBadGateway, "response provider failed"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// ListTurns returns the journal entries for the session, newest first.
func (h *Handler) ListTurns(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	turns, err := h.journal.ListTurns(r.Context(), key, limit)
	if err != nil {
		h.logger.Error("Failed to list turns", "session_key", key, "error", err)
		Error(w, http.StatusInternalServerError, "failed to list turns")
		return
	}
	if turns == nil {
		turns = []*domain.TurnRecord{}
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_key": key,
		"turns":       turns,
	})
}
