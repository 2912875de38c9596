package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/prompt"
)

// OpenAIProvider generates replies with the OpenAI chat completions API.
type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *slog.Logger
}

// NewOpenAIProvider creates an OpenAI client. OpenAIBaseURL may point at any
// compatible endpoint.
func NewOpenAIProvider(cfg Config, logger *slog.Logger) (*OpenAIProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("OPENAI_API_KEY is not set")
	}
	model := cfg.OpenAIModel
	if model == "" {
		model = "gpt-4o-mini"
		logger.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}

	clientCfg := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if cfg.OpenAIBaseURL != "" {
		clientCfg.BaseURL = cfg.OpenAIBaseURL
	}

	logger.Info("Initialized OpenAI provider", "model", model)
	return &OpenAIProvider{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		logger:      logger,
	}, nil
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return ProviderOpenAI }

// Chat implements Provider.
func (p *OpenAIProvider) Chat(ctx context.Context, req prompt.Request) (domain.Message, error) {
	system := req.RoleInstruction + "\n" + req.FormatInstruction
	if req.ResponderDescription != "" {
		system += "\n\nResponder description:\n" + req.ResponderDescription
	}

	completion := openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: req.Text()},
		},
		Temperature:         p.temperature,
		MaxCompletionTokens: p.maxTokens,
	}

	resp, err := p.client.CreateChatCompletion(ctx, completion)
	if err != nil {
		return domain.Message{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return domain.Message{}, fmt.Errorf("%w: no choices", ErrUnusableOutput)
	}

	p.logger.Debug("Received response from OpenAI", "model", p.model, "finish_reason", resp.Choices[0].FinishReason)
	return finishReply(req, resp.Choices[0].Message.Content)
}

// Close implements Provider.
func (p *OpenAIProvider) Close() {}
