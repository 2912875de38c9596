package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/ashureev/myaa/internal/agent"
)

type serveProviderOptions struct {
	addr     string
	provider string
}

func newServeProviderCmd() *cobra.Command {
	opts := &serveProviderOptions{}
	cmd := &cobra.Command{
		Use:   "serve-provider",
		Short: "Serve a response provider over gRPC for gateways running LLM_PROVIDER=grpc",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serveProvider(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.addr, "addr", ":50051", "listen address")
	cmd.Flags().StringVar(&opts.provider, "provider", agent.ProviderEcho, "backing provider (echo, gemini, openai)")
	return cmd
}

func providerConfigFromEnv(name string) agent.Config {
	cfg := agent.DefaultConfig()
	cfg.Provider = name
	cfg.GeminiAPIKey = os.Getenv("GEMINI_API_KEY")
	cfg.GeminiModel = os.Getenv("GEMINI_MODEL")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")
	if m := os.Getenv("OPENAI_MODEL"); m != "" {
		cfg.OpenAIModel = m
	}
	return cfg
}

func serveProvider(ctx context.Context, opts *serveProviderOptions) error {
	if opts.provider == agent.ProviderGrpc {
		return fmt.Errorf("%w: serve-provider cannot proxy to another gRPC provider", agent.ErrUnsupportedProvider)
	}
	logger := slog.Default()

	provider, err := agent.NewProvider(ctx, providerConfigFromEnv(opts.provider), logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	lis, err := net.Listen("tcp", opts.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", opts.addr, err)
	}

	s := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	agent.RegisterResponseProviderServer(s, agent.NewProviderServer(provider, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Provider service listening", "addr", lis.Addr().String(), "provider", provider.Name())
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Stopping provider service")
		s.GracefulStop()
		return nil
	})
	return g.Wait()
}
