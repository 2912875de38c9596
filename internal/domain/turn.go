package domain

import "time"

// TurnOutcome records how a turn ended.
type TurnOutcome string

const (
	// TurnCompleted means the reply was generated and folded into state.
	TurnCompleted TurnOutcome = "completed"
	// TurnDropped means the reply was generated but the state expired before
	// it could be recorded.
	TurnDropped TurnOutcome = "dropped"
	// TurnFailed means generation failed and the turn was aborted.
	TurnFailed TurnOutcome = "failed"
)

// TurnRecord is one journal entry describing a finished turn.
type TurnRecord struct {
	ID          string        `json:"id"`
	SessionKey  string        `json:"session_key"`
	StateID     string        `json:"state_id"`
	ResponderID string        `json:"responder_id,omitempty"`
	Inbound     Message       `json:"inbound"`
	Reply       *Message      `json:"reply,omitempty"`
	Outcome     TurnOutcome   `json:"outcome"`
	Error       string        `json:"error,omitempty"`
	Duration    time.Duration `json:"duration_ns"`
	CreatedAt   time.Time     `json:"created_at"`
}
