// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	LogLevel    string
	DebugMode   bool

	State    StateConfig
	Provider ProviderConfig
	Journal  JournalConfig

	CharacterDir       string
	DefaultCharacter   string
	RateLimitPerMinute int
	OTLPEndpoint       string
}

// StateConfig controls the volatile conversation state store and turn handling.
type StateConfig struct {
	TTL                time.Duration
	SweepInterval      time.Duration
	ListIncludeExpired bool
	ThreadMemoryLimit  int
	SerializeTurns     bool
	TurnTimeout        time.Duration
}

// ProviderConfig selects and configures the reply provider.
type ProviderConfig struct {
	Name          string
	GeminiAPIKey  string
	GeminiModel   string
	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string
	GrpcAddr      string
	Temperature   float64
	MaxTokens     int
}

// JournalConfig controls the SQLite turn journal.
type JournalConfig struct {
	// DBPath is the database file. Empty disables the journal.
	DBPath    string
	Retention time.Duration
	// QueueSize is the number of turns buffered for background writing.
	// Zero writes synchronously.
	QueueSize int
}

// supportedProviders lists the values LLM_PROVIDER may take.
var supportedProviders = []string{"echo", "gemini", "openai", "grpc"}

// threadMemoryLimit is fixed by the conversation model.
const threadMemoryLimit = 5

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DebugMode:   getEnvBool("DEBUG_MODE", false),
		State: StateConfig{
			TTL:                getEnvDuration("STATE_TTL", 30*time.Minute),
			SweepInterval:      getEnvDuration("STATE_SWEEP_INTERVAL", time.Minute),
			ListIncludeExpired: getEnvBool("STATE_LIST_INCLUDE_EXPIRED", false),
			ThreadMemoryLimit:  getEnvInt("THREAD_MEMORY_LIMIT", threadMemoryLimit),
			SerializeTurns:     getEnvBool("SERIALIZE_TURNS", true),
			TurnTimeout:        getEnvDuration("TURN_TIMEOUT", 60*time.Second),
		},
		Provider: ProviderConfig{
			Name:          strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "echo"))),
			GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
			GeminiModel:   getEnv("GEMINI_MODEL", ""),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			GrpcAddr:      getEnv("PROVIDER_GRPC_ADDR", "localhost:50051"),
			Temperature:   getEnvFloat("LLM_TEMPERATURE", 0.7),
			MaxTokens:     getEnvInt("LLM_MAX_TOKENS", 512),
		},
		Journal: JournalConfig{
			DBPath:    getEnv("JOURNAL_DB_PATH", "./data/journal.db"),
			Retention: getEnvDuration("JOURNAL_RETENTION", 7*24*time.Hour),
			QueueSize: getEnvInt("JOURNAL_QUEUE_SIZE", 256),
		},
		CharacterDir:       getEnv("CHARACTER_DIR", "./config/characters"),
		DefaultCharacter:   getEnv("DEFAULT_CHARACTER", "assistant"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 20),
		OTLPEndpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.State.TTL <= 0 {
		return fmt.Errorf("STATE_TTL must be > 0")
	}
	if c.State.SweepInterval <= 0 {
		return fmt.Errorf("STATE_SWEEP_INTERVAL must be > 0")
	}
	if c.State.ThreadMemoryLimit != threadMemoryLimit {
		return fmt.Errorf("THREAD_MEMORY_LIMIT must be %d", threadMemoryLimit)
	}
	if c.State.TurnTimeout <= 0 {
		return fmt.Errorf("TURN_TIMEOUT must be > 0")
	}
	if !isSupportedProvider(c.Provider.Name) {
		return fmt.Errorf("unsupported LLM_PROVIDER %q (want one of %s)",
			c.Provider.Name, strings.Join(supportedProviders, ", "))
	}
	switch c.Provider.Name {
	case "gemini":
		if c.Provider.GeminiAPIKey == "" || c.Provider.GeminiModel == "" {
			return fmt.Errorf("GEMINI_API_KEY and GEMINI_MODEL are required for the gemini provider")
		}
	case "openai":
		if c.Provider.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case "grpc":
		if c.Provider.GrpcAddr == "" {
			return fmt.Errorf("PROVIDER_GRPC_ADDR cannot be empty for the grpc provider")
		}
	}
	if c.Provider.Temperature < 0 || c.Provider.Temperature > 2 {
		return fmt.Errorf("LLM_TEMPERATURE must be between 0 and 2")
	}
	if c.Provider.MaxTokens <= 0 {
		return fmt.Errorf("LLM_MAX_TOKENS must be > 0")
	}
	if c.Journal.DBPath != "" && c.Journal.Retention <= 0 {
		return fmt.Errorf("JOURNAL_RETENTION must be > 0")
	}
	if c.Journal.QueueSize < 0 {
		return fmt.Errorf("JOURNAL_QUEUE_SIZE must be >= 0")
	}
	if c.DefaultCharacter == "" {
		return fmt.Errorf("DEFAULT_CHARACTER cannot be empty")
	}
	if c.RateLimitPerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must be >= 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// JournalEnabled reports whether turns are written to SQLite.
func (c *Config) JournalEnabled() bool {
	return c.Journal.DBPath != ""
}

func isSupportedProvider(name string) bool {
	for _, p := range supportedProviders {
		if p == name {
			return true
		}
	}
	return false
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
