package config

// Config holds all application configuration, grouped by concern.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	LLM      LLMConfig      `mapstructure:"llm" validate:"required"`
	Pipeline PipelineConfig `mapstructure:"pipeline" validate:"required"`
}

// ServerConfig contains the HTTP control surface settings.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
}

// DatabaseConfig configures the terminal-snapshot archive. An empty URL
// disables archival.
type DatabaseConfig struct {
	URL string `mapstructure:"url" validate:"omitempty,url"`
}

// RedisConfig configures the external notification publisher. An empty
// address disables it.
type RedisConfig struct {
	Addr          string `mapstructure:"addr"`
	Password      string `mapstructure:"password"`
	DB            int    `mapstructure:"db" validate:"gte=0"`
	ChannelPrefix string `mapstructure:"channel_prefix"`
}

// LLMConfig contains the AI provider settings.
type LLMConfig struct {
	GeminiAPIKey string `mapstructure:"gemini_api_key" validate:"required"`
	StoryModel   string `mapstructure:"story_model" validate:"required"`
	ImageModel   string `mapstructure:"image_model" validate:"required"`
	ImageDir     string `mapstructure:"image_dir" validate:"required"`
}

// PipelineConfig contains the orchestration tunables. These are deliberate
// configuration, not invariants; see DefaultConfig for the defaults.
type PipelineConfig struct {
	WorkerCount         int `mapstructure:"worker_count" validate:"required,gt=0"`
	QueueSize           int `mapstructure:"queue_size" validate:"required,gt=0"`
	MaxPanels           int `mapstructure:"max_panels" validate:"required,gt=0"`
	MaxAttempts         int `mapstructure:"max_attempts" validate:"required,gt=0"`
	RetryBaseDelayMs    int `mapstructure:"retry_base_delay_ms" validate:"required,gt=0"`
	RetryMaxDelayMs     int `mapstructure:"retry_max_delay_ms" validate:"required,gt=0"`
	StoryTimeoutSeconds int `mapstructure:"story_timeout_seconds" validate:"required,gt=0"`
	PanelTimeoutSeconds int `mapstructure:"panel_timeout_seconds" validate:"required,gt=0"`
}
