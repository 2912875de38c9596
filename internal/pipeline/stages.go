// Package pipeline runs conversation turns: Ingest records the inbound message
// as a new state version, Generate asks the provider for a reply, and Finalize
// folds the reply back into that version.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/myaa/internal/agent"
	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/prompt"
	"github.com/ashureev/myaa/internal/store"
)

// Pipeline holds the collaborators shared by the three turn stages.
type Pipeline struct {
	cache     *store.Cache
	formatter *prompt.Formatter
	provider  agent.Provider
	logger    *slog.Logger
}

// New creates a pipeline.
func New(cache *store.Cache, formatter *prompt.Formatter, provider agent.Provider, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cache:     cache,
		formatter: formatter,
		provider:  provider,
		logger:    logger,
	}
}

// Cache returns the state store the pipeline works on.
func (p *Pipeline) Cache() *store.Cache {
	return p.cache
}

// Ingest creates the next state version for sessionKey with msg as its
// current message, marks it processing and binds the session to it. The
// previous version, if any, is removed in the same store operation. A non-empty
// responderID replaces the responder carried over from the previous version.
func (p *Pipeline) Ingest(ctx context.Context, sessionKey string, msg domain.Message, responderID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	now := p.cache.Now()
	prev, ok := p.cache.GetBySession(sessionKey)

	var next *domain.AgentState
	oldID := ""
	if ok {
		oldID = prev.ID
		next = prev.Successor(now)
		next.AddMessage(msg, now)
	} else {
		next = domain.NewAgentState(msg, p.formatter.DefaultCharacter(), now)
	}
	if responderID != "" {
		next.ResponderID = responderID
	}
	next.Status = domain.StatusProcessing

	p.cache.Supersede(oldID, next, sessionKey)

	p.logger.Debug("Ingested message",
		"session_key", sessionKey,
		"state_id", next.ID,
		"previous_state_id", oldID,
		"memory", len(next.Context.ThreadMemory),
	)
	return next.ID, nil
}

// Generate formats the state stored under stateID and asks the provider for a
// reply. The state is not modified.
func (p *Pipeline) Generate(ctx context.Context, stateID string) (domain.Message, error) {
	state, ok := p.cache.Get(stateID)
	if !ok {
		p.logger.Error("State vanished between ingest and generation", "state_id", stateID)
		return domain.Message{}, fmt.Errorf("%w: %s", ErrContractViolation, stateID)
	}

	req := p.formatter.Format(state)
	reply, err := p.provider.Chat(ctx, req)
	if err != nil {
		return domain.Message{}, &GenerationError{
			StateID:  stateID,
			Provider: p.provider.Name(),
			Err:      err,
		}
	}
	return reply, nil
}

// Finalize folds reply into the state stored under stateID and returns it to
// idle, keeping its session binding. It reports false, changing nothing, when
// the state has expired or been replaced in the meantime.
func (p *Pipeline) Finalize(ctx context.Context, stateID string, reply domain.Message) bool {
	state, ok := p.cache.Get(stateID)
	if !ok {
		p.logger.Debug("Dropping reply for missing state", "state_id", stateID)
		return false
	}

	state.AddMessage(reply, p.cache.Now())
	state.Status = domain.StatusIdle

	if !p.cache.Update(state) {
		p.logger.Debug("State replaced before finalize", "state_id", stateID)
		return false
	}
	return true
}
