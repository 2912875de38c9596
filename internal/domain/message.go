// Package domain contains core domain types for the myaa conversation gateway.
package domain

// Message is one utterance in a conversation. Values are never mutated after
// construction; pass them by value.
type Message struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// DisplayText renders the message the way it appears in transcripts.
func (m Message) DisplayText() string {
	return m.Speaker + ": " + m.Content
}
