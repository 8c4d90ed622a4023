package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/vampirenirmal/novelforge/internal/llm"
)

type Config struct {
	LLM      LLMConfig             `yaml:"llm" toml:"llm" validate:"required"`
	Tasks    map[string]TaskConfig `yaml:"tasks" toml:"tasks" validate:"dive"`
	Pipeline PipelineConfig        `yaml:"pipeline" toml:"pipeline"`
	Storage  StorageConfig         `yaml:"storage" toml:"storage"`
	Prompts  PromptsConfig         `yaml:"prompts" toml:"prompts"`
	Log      LogConfig             `yaml:"log" toml:"log"`
}

// PromptsConfig points at a YAML catalog replacing built-in templates.
type PromptsConfig struct {
	Catalog string `yaml:"catalog" toml:"catalog"`
}

type LLMConfig struct {
	Provider   string                 `yaml:"provider" toml:"provider" validate:"required,oneof=openai anthropic gemini"`
	Model      string                 `yaml:"model" toml:"model" validate:"required"`
	BaseURL    string                 `yaml:"base_url" toml:"base_url" validate:"omitempty,url"`
	APIKey     string                 `yaml:"api_key" toml:"api_key" validate:"required,min=20"`
	RetryPause string                 `yaml:"retry_pause" toml:"retry_pause" validate:"omitempty,duration"`
	RateLimit  RateLimitConfig        `yaml:"rate_limit" toml:"rate_limit"`
	Routes     map[string]RouteConfig `yaml:"routes" toml:"routes" validate:"dive"`
}

// RouteConfig sends one task to a different provider or model.
type RouteConfig struct {
	Provider string `yaml:"provider" toml:"provider" validate:"required,oneof=openai anthropic gemini"`
	Model    string `yaml:"model" toml:"model" validate:"required"`
	BaseURL  string `yaml:"base_url" toml:"base_url" validate:"omitempty,url"`
	APIKey   string `yaml:"api_key" toml:"api_key"`
}

// TaskConfig overrides the built-in parameters of one LLM task. Unset
// fields keep their defaults.
type TaskConfig struct {
	MaxTokens          *int     `yaml:"max_tokens" toml:"max_tokens" validate:"omitempty,min=1"`
	Timeout            string   `yaml:"timeout" toml:"timeout" validate:"omitempty,duration"`
	Temperature        *float64 `yaml:"temperature" toml:"temperature" validate:"omitempty,min=0,max=2"`
	TopP               *float64 `yaml:"top_p" toml:"top_p" validate:"omitempty,min=0,max=1"`
	Retries            *int     `yaml:"retries" toml:"retries" validate:"omitempty,min=0,max=10"`
	ReasoningEffort    string   `yaml:"reasoning_effort" toml:"reasoning_effort" validate:"omitempty,oneof=minimal low medium high"`
	MaxReasoningTokens *int     `yaml:"max_reasoning_tokens" toml:"max_reasoning_tokens" validate:"omitempty,min=0"`
}

type StorageConfig struct {
	ProjectDir  string `yaml:"project_dir" toml:"project_dir" validate:"required"`
	HistoryDB   string `yaml:"history_db" toml:"history_db"`
	HistoryKeep int    `yaml:"history_keep" toml:"history_keep" validate:"min=0"`
	Naming      string `yaml:"naming" toml:"naming" validate:"omitempty,oneof=id timestamp descriptive"`
}

// Load reads the configuration file at path, or the default location when
// path is empty. A missing file yields the defaults, which still need an API
// key from the environment.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	if path == "" {
		path = configPath()
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := decode(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.resolveSecrets()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return toml.Unmarshal(data, cfg)
	case ".yaml", ".yml", "":
		return yaml.Unmarshal(data, cfg)
	}
	return fmt.Errorf("unsupported config format %q", filepath.Ext(path))
}

func configPath() string {
	if path := os.Getenv("NOVELFORGE_CONFIG"); path != "" {
		return path
	}
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "novelforge", "config.yaml")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "novelforge", "config.yaml")
}

func dataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "novelforge")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "novelforge")
}

// expandTilde expands a leading ~/ to the user's home directory.
func expandTilde(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// keyEnv names the environment variable holding a provider's API key.
func keyEnv(provider string) string {
	switch provider {
	case "anthropic":
		return "ANTHROPIC_API_KEY"
	case "gemini":
		return "GEMINI_API_KEY"
	default:
		return "OPENAI_API_KEY"
	}
}

// secret resolves an empty value or a ${VAR} placeholder from the
// environment, falling back to the provider's conventional variable.
func secret(value, provider string) string {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "${") && strings.HasSuffix(value, "}") {
		if v := os.Getenv(value[2 : len(value)-1]); v != "" {
			return v
		}
		value = ""
	}
	if value == "" {
		return os.Getenv(keyEnv(provider))
	}
	return value
}

func (c *Config) resolveSecrets() {
	c.LLM.APIKey = secret(c.LLM.APIKey, c.LLM.Provider)
	for task, route := range c.Routes() {
		if route.APIKey == "" && route.Provider == c.LLM.Provider {
			route.APIKey = c.LLM.APIKey
		} else {
			route.APIKey = secret(route.APIKey, route.Provider)
		}
		c.LLM.Routes[task] = route
	}
}

// Routes returns the per-task provider routes.
func (c *Config) Routes() map[string]RouteConfig {
	return c.LLM.Routes
}

// Validate fills path defaults and checks the configuration.
func (c *Config) Validate() error {
	c.Storage.ProjectDir = expandTilde(c.Storage.ProjectDir)
	if c.Storage.ProjectDir == "" {
		c.Storage.ProjectDir = filepath.Join(dataDir(), "projects")
	}
	c.Storage.HistoryDB = expandTilde(c.Storage.HistoryDB)
	c.Prompts.Catalog = expandTilde(c.Prompts.Catalog)
	if c.Storage.HistoryDB == "" {
		c.Storage.HistoryDB = filepath.Join(dataDir(), "history.db")
	}

	validate := validator.New()
	validate.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		_, err := time.ParseDuration(fl.Field().String())
		return err == nil
	})

	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	for name := range c.Tasks {
		if _, err := llm.ParseTask(name); err != nil {
			return fmt.Errorf("config validation failed: tasks: %w", err)
		}
	}
	for name := range c.LLM.Routes {
		if _, err := llm.ParseTask(name); err != nil {
			return fmt.Errorf("config validation failed: llm.routes: %w", err)
		}
	}
	return nil
}

// Overrides converts the tasks section into catalog overrides.
func (c *Config) Overrides() (map[llm.Task]llm.Override, error) {
	out := make(map[llm.Task]llm.Override, len(c.Tasks))
	for name, tc := range c.Tasks {
		task, err := llm.ParseTask(name)
		if err != nil {
			return nil, err
		}
		o := llm.Override{
			MaxTokens:          tc.MaxTokens,
			Temperature:        tc.Temperature,
			TopP:               tc.TopP,
			Retries:            tc.Retries,
			MaxReasoningTokens: tc.MaxReasoningTokens,
		}
		if tc.Timeout != "" {
			d, err := time.ParseDuration(tc.Timeout)
			if err != nil {
				return nil, fmt.Errorf("task %s timeout: %w", name, err)
			}
			o.Timeout = &d
		}
		if tc.ReasoningEffort != "" {
			effort := tc.ReasoningEffort
			o.ReasoningEffort = &effort
		}
		out[task] = o
	}
	return out, nil
}

// RetryPause is the pause between attempts of one LLM call.
func (c *Config) RetryPause() time.Duration {
	d, err := time.ParseDuration(c.LLM.RetryPause)
	if err != nil || c.LLM.RetryPause == "" {
		return 2 * time.Second
	}
	return d
}

// Save writes the configuration with API keys replaced by environment
// placeholders.
func Save(cfg *Config, path string) error {
	out := *cfg
	out.LLM.APIKey = "${" + keyEnv(cfg.LLM.Provider) + "}"
	if len(cfg.LLM.Routes) > 0 {
		out.LLM.Routes = make(map[string]RouteConfig, len(cfg.LLM.Routes))
		for task, route := range cfg.LLM.Routes {
			route.APIKey = ""
			out.LLM.Routes[task] = route
		}
	}

	var (
		data []byte
		err  error
	)
	if strings.ToLower(filepath.Ext(path)) == ".toml" {
		data, err = toml.Marshal(&out)
	} else {
		data, err = yaml.Marshal(&out)
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
