package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Load reads the real environment, so these tests use t.Setenv and must
// not run in parallel.

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("PANELGEN_LLM_GEMINI_API_KEY", "test-key")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Server.LogLevel)
	assert.Empty(t, cfg.Database.URL)
	assert.Empty(t, cfg.Redis.Addr)
	assert.Equal(t, "task", cfg.Redis.ChannelPrefix)
	assert.Equal(t, "test-key", cfg.LLM.GeminiAPIKey)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.StoryModel)
	assert.Equal(t, "imagen-3.0-generate-002", cfg.LLM.ImageModel)
	assert.Equal(t, "generated_panels", cfg.LLM.ImageDir)
	assert.Equal(t, 4, cfg.Pipeline.WorkerCount)
	assert.Equal(t, 64, cfg.Pipeline.QueueSize)
	assert.Equal(t, 12, cfg.Pipeline.MaxPanels)
	assert.Equal(t, 3, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, 500, cfg.Pipeline.RetryBaseDelayMs)
	assert.Equal(t, 10000, cfg.Pipeline.RetryMaxDelayMs)
	assert.Equal(t, 60, cfg.Pipeline.StoryTimeoutSeconds)
	assert.Equal(t, 120, cfg.Pipeline.PanelTimeoutSeconds)
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	t.Setenv("PANELGEN_LLM_GEMINI_API_KEY", "test-key")
	t.Setenv("PANELGEN_SERVER_PORT", "9090")
	t.Setenv("PANELGEN_SERVER_LOG_LEVEL", "debug")
	t.Setenv("PANELGEN_PIPELINE_WORKER_COUNT", "8")
	t.Setenv("PANELGEN_PIPELINE_MAX_ATTEMPTS", "5")
	t.Setenv("PANELGEN_REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Server.LogLevel)
	assert.Equal(t, 8, cfg.Pipeline.WorkerCount)
	assert.Equal(t, 5, cfg.Pipeline.MaxAttempts)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Run("missing API key", func(t *testing.T) {
		cfg, err := Load()
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("invalid log level", func(t *testing.T) {
		t.Setenv("PANELGEN_LLM_GEMINI_API_KEY", "test-key")
		t.Setenv("PANELGEN_SERVER_LOG_LEVEL", "verbose")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("out of range port", func(t *testing.T) {
		t.Setenv("PANELGEN_LLM_GEMINI_API_KEY", "test-key")
		t.Setenv("PANELGEN_SERVER_PORT", "70000")

		_, err := Load()
		assert.Error(t, err)
	})
}
