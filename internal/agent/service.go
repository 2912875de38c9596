package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/prompt"
)

// NewProvider builds the provider selected by cfg.Provider.
func NewProvider(ctx context.Context, cfg Config, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case ProviderEcho, "":
		return NewEchoProvider(), nil
	case ProviderGemini:
		return NewGeminiProvider(ctx, cfg, logger)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg, logger)
	case ProviderGrpc:
		return NewGrpcClient(cfg.GrpcAddr, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
}

// Service wraps a Provider with call accounting and logging. It is itself a
// Provider and is what the turn pipeline talks to.
type Service struct {
	provider Provider
	logger   *slog.Logger

	calls    atomic.Int64
	failures atomic.Int64
	lastNano atomic.Int64
}

// NewService wraps provider.
func NewService(provider Provider, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{provider: provider, logger: logger}
}

// Name returns the wrapped provider's name.
func (s *Service) Name() string {
	return s.provider.Name()
}

// Chat forwards to the wrapped provider.
func (s *Service) Chat(ctx context.Context, req prompt.Request) (domain.Message, error) {
	start := time.Now()
	s.calls.Add(1)

	msg, err := s.provider.Chat(ctx, req)
	elapsed := time.Since(start)
	s.lastNano.Store(elapsed.Nanoseconds())
	if err != nil {
		s.failures.Add(1)
		s.logger.Warn("Provider chat failed",
			"provider", s.provider.Name(),
			"responder", req.ResponderID,
			"duration", elapsed,
			"error", err,
		)
		return domain.Message{}, err
	}

	s.logger.Debug("Provider chat completed",
		"provider", s.provider.Name(),
		"responder", req.ResponderID,
		"duration", elapsed,
	)
	return msg, nil
}

// Pinger is implemented by providers that can report their own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the wrapped provider. Providers without a health check are
// always reported as reachable.
func (s *Service) Ping(ctx context.Context) error {
	if p, ok := s.provider.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

// Stats contains provider call statistics.
type Stats struct {
	Provider     string        `json:"provider"`
	Calls        int64         `json:"calls"`
	Failures     int64         `json:"failures"`
	LastDuration time.Duration `json:"last_duration_ns"`
}

// GetStats returns provider statistics.
func (s *Service) GetStats() Stats {
	return Stats{
		Provider:     s.provider.Name(),
		Calls:        s.calls.Load(),
		Failures:     s.failures.Load(),
		LastDuration: time.Duration(s.lastNano.Load()),
	}
}

// Close releases resources.
func (s *Service) Close() {
	if s.provider != nil {
		s.provider.Close()
	}
}
