package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables use the PANELGEN_ prefix with
// underscores for nesting (PANELGEN_SERVER_PORT, PANELGEN_LLM_GEMINI_API_KEY)
// and take precedence over file values. Returns a validated Config.
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("PANELGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file is fine; environment variables carry the load.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every known key. Keys without a meaningful default
// get an empty one so AutomaticEnv can find them during Unmarshal.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")

	v.SetDefault("database.url", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel_prefix", "task")

	v.SetDefault("llm.gemini_api_key", "")
	v.SetDefault("llm.story_model", "gemini-2.0-flash")
	v.SetDefault("llm.image_model", "imagen-3.0-generate-002")
	v.SetDefault("llm.image_dir", "generated_panels")

	v.SetDefault("pipeline.worker_count", 4)
	v.SetDefault("pipeline.queue_size", 64)
	v.SetDefault("pipeline.max_panels", 12)
	v.SetDefault("pipeline.max_attempts", 3)
	v.SetDefault("pipeline.retry_base_delay_ms", 500)
	v.SetDefault("pipeline.retry_max_delay_ms", 10000)
	v.SetDefault("pipeline.story_timeout_seconds", 60)
	v.SetDefault("pipeline.panel_timeout_seconds", 120)
}
