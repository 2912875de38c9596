package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/prompt"
)

// GeminiProvider generates replies with the Gemini API.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	maxTokens   int32
	logger      *slog.Logger
}

// NewGeminiProvider creates a Gemini client using an API key.
func NewGeminiProvider(ctx context.Context, cfg Config, logger *slog.Logger) (*GeminiProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.GeminiAPIKey == "" {
		return nil, errors.New("GEMINI_API_KEY is not set")
	}
	if cfg.GeminiModel == "" {
		return nil, errors.New("GEMINI_MODEL is not set")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	logger.Info("Initialized Gemini provider", "model", cfg.GeminiModel)
	return &GeminiProvider{
		client:      client,
		model:       cfg.GeminiModel,
		temperature: cfg.Temperature,
		maxTokens:   int32(cfg.MaxTokens),
		logger:      logger,
	}, nil
}

// Name implements Provider.
func (p *GeminiProvider) Name() string { return ProviderGemini }

// Chat implements Provider.
func (p *GeminiProvider) Chat(ctx context.Context, req prompt.Request) (domain.Message, error) {
	config := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(p.temperature),
		MaxOutputTokens: p.maxTokens,
	}

	result, err := p.client.Models.GenerateContent(ctx, p.model, genai.Text(req.Text()), config)
	if err != nil {
		return domain.Message{}, fmt.Errorf("gemini generate content: %w", err)
	}

	text := firstCandidateText(result)
	p.logger.Debug("Received response from Gemini", "model", p.model, "chars", len(text))
	return finishReply(req, text)
}

// Close implements Provider.
func (p *GeminiProvider) Close() {}

func firstCandidateText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return ""
	}
	content := result.Candidates[0].Content
	if content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}
