package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Minute, cfg.State.TTL)
	assert.Equal(t, time.Minute, cfg.State.SweepInterval)
	assert.False(t, cfg.State.ListIncludeExpired)
	assert.Equal(t, 5, cfg.State.ThreadMemoryLimit)
	assert.True(t, cfg.State.SerializeTurns)
	assert.Equal(t, "echo", cfg.Provider.Name)
	assert.InDelta(t, 0.7, cfg.Provider.Temperature, 1e-9)
	assert.Equal(t, 512, cfg.Provider.MaxTokens)
	assert.Equal(t, 7*24*time.Hour, cfg.Journal.Retention)
	assert.Equal(t, 256, cfg.Journal.QueueSize)
	assert.True(t, cfg.JournalEnabled())
	assert.False(t, cfg.DebugMode)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("STATE_TTL", "1800")
	t.Setenv("SERIALIZE_TURNS", "false")
	t.Setenv("TURN_TIMEOUT", "2m")
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("JOURNAL_DB_PATH", "")
	t.Setenv("DEBUG_MODE", "1")
	t.Setenv("FRONTEND_URL", "https://chat.example.com")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 1800*time.Second, cfg.State.TTL)
	assert.False(t, cfg.State.SerializeTurns)
	assert.Equal(t, 2*time.Minute, cfg.State.TurnTimeout)
	assert.Equal(t, "openai", cfg.Provider.Name)
	assert.False(t, cfg.JournalEnabled())
	assert.True(t, cfg.DebugMode)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown provider":   {"LLM_PROVIDER": "carrier-pigeon"},
		"gemini without key": {"LLM_PROVIDER": "gemini"},
		"openai without key": {"LLM_PROVIDER": "openai"},
		"memory limit":       {"THREAD_MEMORY_LIMIT": "10"},
		"zero ttl":           {"STATE_TTL": "0s"},
		"temperature":        {"LLM_TEMPERATURE": "3.5"},
		"empty port":         {"PORT": ""},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
