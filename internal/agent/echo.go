package agent

import (
	"context"

	"github.com/ashureev/myaa/internal/domain"
	"github.com/ashureev/myaa/internal/prompt"
)

// EchoProvider answers every turn with the content of the message it was given.
// It needs no backend and is the default for local development.
type EchoProvider struct{}

// NewEchoProvider creates an echo provider.
func NewEchoProvider() *EchoProvider {
	return &EchoProvider{}
}

// Name implements Provider.
func (p *EchoProvider) Name() string { return ProviderEcho }

// Chat implements Provider.
func (p *EchoProvider) Chat(ctx context.Context, req prompt.Request) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	return domain.Message{Speaker: replySpeaker(req), Content: req.Current.Content}, nil
}

// Close implements Provider.
func (p *EchoProvider) Close() {}
