// Package agent implements the generative-response providers that answer turns.
package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/prompt"
)

// Provider names accepted by NewProvider.
const (
	ProviderEcho   = "echo"
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderGrpc   = "grpc"
)

var (
	// ErrUnsupportedProvider is returned for an unknown provider name.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrUnusableOutput means the backend answered but the reply could not be used.
	ErrUnusableOutput = errors.New("provider returned unusable output")
)

// Config holds provider configuration.
type Config struct {
	Provider      string
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	GrpcAddr      string
	Temperature   float32
	MaxTokens     int
}

// DefaultConfig returns default provider configuration.
func DefaultConfig() Config {
	return Config{
		Provider:    ProviderEcho,
		OpenAIModel: "gpt-4o-mini",
		GrpcAddr:    "localhost:50051",
		Temperature: 0.7,
		MaxTokens:   512,
	}
}

// finishReply turns raw backend text into the responder's message. A leading
// "<name>:" is removed because models often echo the dialogue format.
func finishReply(req prompt.Request, raw string) (domain.Message, error) {
	content := trimSpeakerPrefix(strings.TrimSpace(raw), req.ResponderName)
	if content == "" {
		return domain.Message{}, fmt.Errorf("%w: empty reply", ErrUnusableOutput)
	}
	return domain.Message{Speaker: replySpeaker(req), Content: content}, nil
}

func trimSpeakerPrefix(content, name string) string {
	if name == "" {
		return content
	}
	if rest, ok := strings.CutPrefix(content, name+":"); ok {
		return strings.TrimSpace(rest)
	}
	return content
}

func replySpeaker(req prompt.Request) string {
	if req.ResponderName != "" {
		return req.ResponderName
	}
	return req.ResponderID
}
