// myaa - conversation gateway server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashureev/myaa/internal/agent"
	"github.com/ashureev/myaa/internal/api"
	"github.com/ashureev/myaa/internal/config"
	"github.com/ashureev/myaa/internal/middleware"
	"github.com/ashureev/myaa/internal/observability"
	"github.com/ashureev/myaa/internal/pipeline"
	"github.com/ashureev/myaa/internal/prompt"
	"github.com/ashureev/myaa/internal/session"
	"github.com/ashureev/myaa/internal/store"
	"github.com/ashureev/myaa/internal/ttl"
	"github.com/ashureev/myaa/web"
)

var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting server",
		"port", cfg.Port,
		"dev", cfg.IsDevelopment(),
		"provider", cfg.Provider.Name,
		"serialize_turns", cfg.State.SerializeTurns,
	)

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		ServiceName:    "myaa",
		ServiceVersion: version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	metrics := observability.NewMetrics()

	journal, err := openJournal(ctx, cfg, metrics, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := journal.Close(); closeErr != nil {
			slog.Error("Failed to close journal", "error", closeErr)
		}
	}()

	provider, err := agent.NewProvider(ctx, agentConfig(cfg), logger)
	if err != nil {
		return err
	}
	service := agent.NewService(provider, logger)
	defer service.Close()
	slog.Info("Response provider ready", "provider", service.Name())

	cache := store.NewCache(session.NewResolver(), store.CacheConfig{
		TTL:                cfg.State.TTL,
		ListIncludeExpired: cfg.State.ListIncludeExpired,
	})
	characters := prompt.NewCharacters(cfg.CharacterDir)
	if _, err := characters.Load(cfg.DefaultCharacter); err != nil {
		slog.Warn("Default character not loadable, replies will use its bare id",
			"character", cfg.DefaultCharacter, "error", err)
	}
	formatter := prompt.NewFormatter(characters, cfg.DefaultCharacter, logger)

	orch := pipeline.NewOrchestrator(pipeline.New(cache, formatter, service, logger), pipeline.Options{
		SerializeTurns: cfg.State.SerializeTurns,
		Journal:        journal,
		Metrics:        metrics,
		Tracer:         observability.NewTraceManager("myaa"),
		Logger:         logger,
	})

	origins := []string{"*"}
	if cfg.FrontendURL != "" {
		origins = strings.Split(cfg.FrontendURL, ",")
	}
	handler := api.NewHandler(orch, service, characters, api.Options{
		TurnTimeout:        cfg.State.TurnTimeout,
		DebugMode:          cfg.DebugMode,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
		AllowedOrigins:     origins,
		Metrics:            metrics,
		Logger:             logger,
	})

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(middleware.RequestLogger(logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(origins))

	handler.RegisterRoutes(r)
	r.Handle("/metrics", metrics.Handler())
	r.Handle("/*", web.Handler())

	// No WriteTimeout: WebSocket chats are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	worker := ttl.NewWorker(cache, journal, metrics, ttl.WorkerConfig{
		Interval:         cfg.State.SweepInterval,
		JournalRetention: cfg.Journal.Retention,
		OnSweep: func(int) {
			handler.Limiter().Prune()
		},
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("TTL worker started", "state_ttl", cfg.State.TTL, "interval", cfg.State.SweepInterval)
		return worker.Run(gctx)
	})
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")
		handler.Connections().CloseAll("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func openJournal(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (store.Journal, error) {
	if !cfg.JournalEnabled() {
		slog.Info("Turn journal disabled")
		return store.NopJournal{}, nil
	}
	journal, err := store.NewSQLiteJournal(cfg.Journal.DBPath)
	if err != nil {
		return nil, err
	}
	if err := journal.Ping(ctx); err != nil {
		_ = journal.Close()
		return nil, err
	}
	slog.Info("Turn journal connected", "path", cfg.Journal.DBPath, "queue_size", cfg.Journal.QueueSize)
	if cfg.Journal.QueueSize == 0 {
		return journal, nil
	}
	async := store.NewAsyncJournal(journal, cfg.Journal.QueueSize, logger)
	async.OnError = func(error) { metrics.IncJournalErrors() }
	return async, nil
}

func agentConfig(cfg *config.Config) agent.Config {
	return agent.Config{
		Provider:      cfg.Provider.Name,
		GeminiAPIKey:  cfg.Provider.GeminiAPIKey,
		GeminiModel:   cfg.Provider.GeminiModel,
		OpenAIAPIKey:  cfg.Provider.OpenAIAPIKey,
		OpenAIModel:   cfg.Provider.OpenAIModel,
		OpenAIBaseURL: cfg.Provider.OpenAIBaseURL,
		GrpcAddr:      cfg.Provider.GrpcAddr,
		Temperature:   float32(cfg.Provider.Temperature),
		MaxTokens:     cfg.Provider.MaxTokens,
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
