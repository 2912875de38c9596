package agent

import (
	"context"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/prompt"
)

// Provider produces one reply for a formatted prompt.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Name identifies the backend, e.g. "echo" or "gemini".
	Name() string

	// Chat generates the responder's next message.
	Chat(ctx context.Context, req prompt.Request) (domain.Message, error)

	// Close releases resources
	Close()
}

// Ensure the built-in providers implement Provider.
var (
	_ Provider = (*EchoProvider)(nil)
	_ Provider = (*GeminiProvider)(nil)
	_ Provider = (*OpenAIProvider)(nil)
	_ Provider = (*GrpcClient)(nil)
	_ Provider = (*Service)(nil)
)
