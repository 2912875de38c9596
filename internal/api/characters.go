package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"

	"github.com/ashureev/myaa/internal/identity"
	"github.com/ashureev/myaa/internal/prompt"
)

// CharacterBindings remembers which character each session key asked for.
// Bound characters apply to the next state version created for the session.
type CharacterBindings struct {
	mu    sync.RWMutex
	bound map[string]string
}

// NewCharacterBindings returns an empty binding table.
func NewCharacterBindings() *CharacterBindings {
	return &CharacterBindings{bound: make(map[string]string)}
}

// Get returns the character bound to key, or "".
func (b *CharacterBindings) Get(key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.bound[key]
}

// Set binds key to characterID. An empty id removes the binding.
func (b *CharacterBindings) Set(key, characterID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if characterID == "" {
		delete(b.bound, key)
		return
	}
	b.bound[key] = characterID
}

// ListCharacters returns the available character ids.
func (h *Handler) ListCharacters(w http.ResponseWriter, r *http.Request) {
	ids, err := h.characters.Available()
	if err != nil {
		h.logger.Error("Failed to list characters", "dir", h.characters.Dir(), "error", err)
		Error(w, http.StatusInternalServerError, "failed to list characters")
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"characters": ids})
}

type characterRequest struct {
	CharacterID string `json:"character_id" validate:"required,max=64"`
}

// PutCharacter binds the session to a character. The change takes effect on
// the session's next turn.
func (h *Handler) PutCharacter(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())

	var req characterRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTurnBodyBytes)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.CharacterID = strings.TrimSpace(req.CharacterID)
	if err := h.validate.Struct(req); err != nil {
		Error(w, http.StatusBadRequest, "invalid character: "+err.Error())
		return
	}

	ch, err := h.characters.Load(req.CharacterID)
	if err != nil {
		if errors.Is(err, prompt.ErrCharacterNotFound) {
			Error(w, http.StatusNotFound, "unknown character")
			return
		}
		Error(w, http.StatusBadRequest, err.Error())
		return
	}

	h.bindings.Set(key, ch.ID)
	h.logger.Info("Character bound", "session_key", key, "character", ch.ID)
	JSON(w, http.StatusOK, map[string]interface{}{"session_key": key, "character": ch})
}

// GetCharacter reports the character the session's next turn will use. Without
// an explicit binding that is the responder of the live state, if any.
func (h *Handler) GetCharacter(w http.ResponseWriter, r *http.Request) {
	key := identity.SessionKeyFromContext(r.Context())

	id := h.bindings.Get(key)
	if id == "" {
		if state, ok := h.cache.GetBySession(key); ok {
			id = state.ResponderID
		}
	}
	if id == "" {
		JSON(w, http.StatusOK, map[string]interface{}{"session_key": key, "character": nil})
		return
	}

	ch, err := h.characters.Load(id)
	if err != nil {
		ch = &prompt.Character{ID: id, Name: id}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"session_key": key, "character": ch})
}
