package pipeline

import (
	"errors"
	"fmt"
)

var (
	// ErrGeneration matches every GenerationError via errors.Is.
	ErrGeneration = errors.New("generation failed")

	// ErrContractViolation means a state ID handed to Generation by Ingest was
	// not in the store.
	ErrContractViolation = errors.New("state missing after ingest")
)

// GenerationError reports a provider failure for one turn. The state the turn
// ingested is left as it was.
type GenerationError struct {
	StateID  string
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation for state %s via %s: %v", e.StateID, e.Provider, e.Err)
}

// Unwrap returns the provider error.
func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrGeneration.
func (e *GenerationError) Is(target error) bool {
	return target == ErrGeneration
}
