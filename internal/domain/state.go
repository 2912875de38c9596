package domain

import (
	"time"

	"github.com/google/uuid"
)

// Status labels where a state sits in the turn lifecycle. It is informational
// only; it does not block concurrent turns.
type Status string

const (
	// StatusIdle means no turn is in flight for this state.
	StatusIdle Status = "idle"
	// StatusProcessing means a turn has ingested a message and awaits a reply.
	StatusProcessing Status = "processing"
)

// AgentState is one version of a session's conversation. A new version with a
// fresh ID is created for every inbound message; Finalize is the only step that
// modifies a version after it has been stored.
type AgentState struct {
	ID          string    `json:"id"`
	ResponderID string    `json:"responder_id,omitempty"`
	Status      Status    `json:"status"`
	Context     Context   `json:"context"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewStateID returns a globally unique state identifier.
func NewStateID() string {
	return uuid.NewString()
}

// NewAgentState creates the first version of a conversation.
func NewAgentState(first Message, responderID string, now time.Time) *AgentState {
	return &AgentState{
		ID:          NewStateID(),
		ResponderID: responderID,
		Status:      StatusIdle,
		Context:     NewContext(first),
		UpdatedAt:   now,
	}
}

// Successor returns a deep copy of s under a new ID, reset to idle.
func (s *AgentState) Successor(now time.Time) *AgentState {
	return &AgentState{
		ID:          NewStateID(),
		ResponderID: s.ResponderID,
		Status:      StatusIdle,
		Context:     s.Context.Clone(),
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy of s keeping its ID.
func (s *AgentState) Clone() *AgentState {
	if s == nil {
		return nil
	}
	out := *s
	out.Context = s.Context.Clone()
	return &out
}

// AddMessage folds msg into the context and stamps the update time.
func (s *AgentState) AddMessage(msg Message, now time.Time) {
	s.Context.Fold(msg)
	s.UpdatedAt = now
}

// Expired reports whether the state is older than ttl at now.
func (s *AgentState) Expired(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.UpdatedAt) >= ttl
}
