package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "none")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "9090", cfg.GRPCHealthPort)
	assert.Equal(t, BackendMemory, cfg.Session.Backend)
	assert.Equal(t, 20*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, time.Minute, cfg.Session.SweepInterval)
	assert.Equal(t, 25*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 6*time.Hour, cfg.ContentCacheTTL)
	assert.Equal(t, 20, cfg.RateLimitPerMinute)
	assert.True(t, cfg.Transcript.Enabled)
	assert.Equal(t, 1000, cfg.Transcript.QueueSize)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins())
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "Anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("SESSION_BACKEND", "SQLITE")
	t.Setenv("DB_PATH", "/tmp/tutor.db")
	t.Setenv("SESSION_IDLE_TTL", "5m")
	t.Setenv("LLM_TIMEOUT", "bogus")
	t.Setenv("TRANSCRIPT_ENABLED", "off")
	t.Setenv("FRONTEND_URL", "https://tutor.example")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, BackendSQLite, cfg.Session.Backend)
	assert.Equal(t, 5*time.Minute, cfg.Session.IdleTTL)
	assert.Equal(t, 25*time.Second, cfg.LLM.Timeout, "unparseable durations keep the default")
	assert.False(t, cfg.Transcript.Enabled)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, []string{"https://tutor.example"}, cfg.AllowedOrigins())
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Port:     "8080",
			LogLevel: "info",
			Session:  SessionConfig{Backend: BackendMemory, IdleTTL: time.Minute},
			LLM:      LLMConfig{Provider: "none", Timeout: time.Second},
			Transcript: TranscriptConfig{
				Dir:       "./t",
				QueueSize: 1,
			},
		}
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty port", func(c *Config) { c.Port = "" }, "PORT cannot be empty"},
		{"unknown backend", func(c *Config) { c.Session.Backend = "mongo" }, `SESSION_BACKEND "mongo"`},
		{"redis without url", func(c *Config) { c.Session.Backend = BackendRedis }, "REDIS_URL"},
		{"zero ttl", func(c *Config) { c.Session.IdleTTL = 0 }, "SESSION_IDLE_TTL"},
		{"openai without key", func(c *Config) { c.LLM.Provider = "openai" }, "OPENAI_API_KEY"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "gemini" }, `LLM_PROVIDER "gemini"`},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "LOG_LEVEL"},
		{"queue size", func(c *Config) { c.Transcript.QueueSize = 0 }, "TRANSCRIPT_QUEUE_SIZE"},
		{"negative rate", func(c *Config) { c.RateLimitPerMinute = -1 }, "RATE_LIMIT_PER_MINUTE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
