package config

type RateLimitConfig struct {
	RequestsPerMinute int `yaml:"requests_per_minute" toml:"requests_per_minute" validate:"min=0,max=1000"`
	BurstSize         int `yaml:"burst_size" toml:"burst_size" validate:"min=0,max=100"`
}

// PipelineConfig bounds the generation loops.
type PipelineConfig struct {
	MaxValidationAttempts int `yaml:"max_validation_attempts" toml:"max_validation_attempts" validate:"min=1,max=10"`
	TransitionRetries     int `yaml:"transition_retries" toml:"transition_retries" validate:"min=0,max=10"`
	TransitionCacheSize   int `yaml:"transition_cache_size" toml:"transition_cache_size" validate:"min=1,max=10000"`
}

// Default returns the configuration used before any file is applied.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:   "openai",
			Model:      "gpt-4o",
			RetryPause: "2s",
			RateLimit: RateLimitConfig{
				RequestsPerMinute: 30,
				BurstSize:         5,
			},
		},
		Pipeline: PipelineConfig{
			MaxValidationAttempts: 3,
			TransitionRetries:     2,
			TransitionCacheSize:   256,
		},
		Storage: StorageConfig{
			HistoryKeep: 50,
			Naming:      "timestamp",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}
