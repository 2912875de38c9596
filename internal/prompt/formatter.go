// Package prompt turns conversation state into provider-neutral generation
// requests.
package prompt

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ashureev/myaa/internal/domain"
)

// DefaultFormatInstruction is used when a Formatter has no format instruction.
const DefaultFormatInstruction = "The reply must be in Japanese."

// Request is everything a provider needs to produce one reply.
type Request struct {
	ResponderID          string         `json:"responder_id"`
	ResponderName        string         `json:"responder_name"`
	RoleInstruction      string         `json:"role_instruction"`
	FormatInstruction    string         `json:"format_instruction"`
	ResponderDescription string         `json:"responder_description"`
	DialogueLines        []string       `json:"dialogue_lines"`
	Current              domain.Message `json:"current"`
}

// Text renders the request as a single plain-text prompt.
func (r Request) Text() string {
	var b strings.Builder
	b.WriteString(r.RoleInstruction)
	b.WriteString("\n")
	b.WriteString(r.FormatInstruction)
	b.WriteString("\n\n")
	if r.ResponderDescription != "" {
		b.WriteString("Responder description:\n")
		b.WriteString(r.ResponderDescription)
		b.WriteString("\n\n")
	}
	b.WriteString("Conversation so far:\n")
	for _, line := range r.DialogueLines {
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

// Formatter builds Requests from AgentStates.
type Formatter struct {
	characters        *Characters
	defaultCharacter  string
	formatInstruction string
	logger            *slog.Logger
}

// NewFormatter creates a formatter. States without a responder use
// defaultCharacter.
func NewFormatter(characters *Characters, defaultCharacter string, logger *slog.Logger) *Formatter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Formatter{
		characters:        characters,
		defaultCharacter:  defaultCharacter,
		formatInstruction: DefaultFormatInstruction,
		logger:            logger,
	}
}

// WithFormatInstruction overrides the reply format instruction.
func (f *Formatter) WithFormatInstruction(s string) *Formatter {
	f.formatInstruction = s
	return f
}

// DefaultCharacter returns the responder used when a state names none.
func (f *Formatter) DefaultCharacter() string {
	return f.defaultCharacter
}

// ResponderFor returns the character id that answers for state.
func (f *Formatter) ResponderFor(state *domain.AgentState) string {
	if state != nil && state.ResponderID != "" {
		return state.ResponderID
	}
	return f.defaultCharacter
}

// Format builds the request for state. It only reads state. A character that
// cannot be loaded is played under its bare id with no description.
func (f *Formatter) Format(state *domain.AgentState) Request {
	id := f.ResponderFor(state)
	ch := &Character{ID: id, Name: id}
	if f.characters != nil {
		loaded, err := f.characters.Load(id)
		if err != nil {
			f.logger.Warn("Character unavailable, using bare id", "character", id, "error", err)
		} else {
			ch = loaded
		}
	}

	dialogue := state.Context.Dialogue()
	lines := make([]string, 0, len(dialogue))
	for _, msg := range dialogue {
		lines = append(lines, msg.DisplayText())
	}

	var current domain.Message
	if state.Context.Current != nil {
		current = *state.Context.Current
	}

	return Request{
		ResponderID:          id,
		ResponderName:        ch.Name,
		RoleInstruction:      fmt.Sprintf("You are playing the role of '%s'.", ch.Name),
		FormatInstruction:    f.formatInstruction,
		ResponderDescription: strings.TrimSpace(ch.Description),
		DialogueLines:        lines,
		Current:              current,
	}
}
