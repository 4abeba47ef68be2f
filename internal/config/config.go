// Package config loads the coachd configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all coachd configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Engine    EngineConfig    `yaml:"engine"`
	Retry     RetryConfig     `yaml:"retry"`
	Model     ModelConfig     `yaml:"model"`
	Store     StoreConfig     `yaml:"store"`
	Recorder  RecorderConfig  `yaml:"recorder"`
	Knowledge KnowledgeConfig `yaml:"knowledge"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr            string   `yaml:"addr"`
	AllowedOrigins  []string `yaml:"allowed_origins"`
	ReadTimeout     string   `yaml:"read_timeout"`
	WriteTimeout    string   `yaml:"write_timeout"`
	ShutdownTimeout string   `yaml:"shutdown_timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // console, json
}

// EngineConfig configures the stage engine.
type EngineConfig struct {
	MaxSteps int    `yaml:"max_steps"`
	LoopCap  int    `yaml:"loop_cap"`
	CapScope string `yaml:"cap_scope"` // episode, run
	LockTTL  string `yaml:"lock_ttl"`
}

// RetryConfig configures model call retries.
type RetryConfig struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	BaseDelay      string `yaml:"base_delay"`
	MaxDelay       string `yaml:"max_delay"`
	AttemptTimeout string `yaml:"attempt_timeout"`
}

// ModelConfig selects the chat model.
type ModelConfig struct {
	Provider  string `yaml:"provider"` // openai, anthropic, google, mock
	Name      string `yaml:"name"`
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`

	// Fallback serves the last attempts of every call when set.
	Fallback *ModelConfig `yaml:"fallback,omitempty"`
}

// StoreConfig selects the checkpoint store.
type StoreConfig struct {
	Driver string      `yaml:"driver"` // memory, sqlite, mysql, redis
	DSN    string      `yaml:"dsn"`
	Redis  RedisConfig `yaml:"redis"`
}

// RedisConfig configures the Redis store and lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`

	// TTL expires idle threads. Empty keeps them forever, and an expired
	// thread is gone for good.
	TTL string `yaml:"ttl"`
}

// RecorderConfig selects where conversation records go.
type RecorderConfig struct {
	Driver string `yaml:"driver"` // none, sqlite, mysql
	DSN    string `yaml:"dsn"`
}

// KnowledgeConfig locates the knowledge texts.
type KnowledgeConfig struct {
	Dir   string `yaml:"dir"`
	Watch bool   `yaml:"watch"`
}

// TracingConfig configures OTLP trace export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// MetricsConfig toggles Prometheus collection and the /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     "15s",
			WriteTimeout:    "120s",
			ShutdownTimeout: "10s",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Engine: EngineConfig{
			MaxSteps: 32,
			LoopCap:  4,
			CapScope: "episode",
			LockTTL:  "2m",
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			BaseDelay:      "250ms",
			MaxDelay:       "4s",
			AttemptTimeout: "30s",
		},
		Model: ModelConfig{
			Provider:  "openai",
			Name:      "gpt-4o-mini",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		Store: StoreConfig{
			Driver: "memory",
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "coachgraph:",
			},
		},
		Recorder: RecorderConfig{
			Driver: "none",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// Load reads the YAML file at path over the defaults and applies
// environment overrides. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var defaultKeyEnv = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"google":    "GOOGLE_API_KEY",
}

func (c *Config) applyEnvOverrides() {
	resolveKey(&c.Model)
	if c.Model.Fallback != nil {
		resolveKey(c.Model.Fallback)
	}

	if v := os.Getenv("COACHGRAPH_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("COACHGRAPH_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("COACHGRAPH_STORE_DSN"); v != "" {
		c.Store.DSN = v
	}
	if v := os.Getenv("COACHGRAPH_REDIS_ADDR"); v != "" {
		c.Store.Redis.Addr = v
	}
	if v := os.Getenv("COACHGRAPH_RECORDER_DSN"); v != "" {
		c.Recorder.DSN = v
	}
	if v := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); v != "" && c.Tracing.Endpoint == "" {
		c.Tracing.Endpoint = v
	}
}

// resolveKey fills APIKey from the configured or the provider's default
// environment variable. A key set in the file wins.
func resolveKey(m *ModelConfig) {
	if m.APIKey != "" {
		return
	}
	env := m.APIKeyEnv
	if env == "" {
		env = defaultKeyEnv[m.Provider]
	}
	if env != "" {
		m.APIKey = os.Getenv(env)
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}

	if c.Engine.MaxSteps < 0 {
		return fmt.Errorf("engine.max_steps must be >= 0")
	}
	if c.Engine.LoopCap < 1 {
		return fmt.Errorf("engine.loop_cap must be >= 1")
	}
	switch c.Engine.CapScope {
	case "episode", "run":
	default:
		return fmt.Errorf("engine.cap_scope: must be episode or run, got %q", c.Engine.CapScope)
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}

	if err := validateModel("model", c.Model); err != nil {
		return err
	}
	if c.Model.Fallback != nil {
		if err := validateModel("model.fallback", *c.Model.Fallback); err != nil {
			return err
		}
	}

	switch c.Store.Driver {
	case "memory", "redis":
	case "sqlite", "mysql":
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver)
		}
	default:
		return fmt.Errorf("store.driver: unknown driver %q", c.Store.Driver)
	}
	switch c.Recorder.Driver {
	case "none":
	case "sqlite", "mysql":
		if c.Recorder.DSN == "" {
			return fmt.Errorf("recorder.dsn is required for driver %s", c.Recorder.Driver)
		}
	default:
		return fmt.Errorf("recorder.driver: unknown driver %q", c.Recorder.Driver)
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be between 0 and 1")
	}

	durations := map[string]string{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"server.shutdown_timeout": c.Server.ShutdownTimeout,
		"engine.lock_ttl":         c.Engine.LockTTL,
		"retry.base_delay":        c.Retry.BaseDelay,
		"retry.max_delay":         c.Retry.MaxDelay,
		"retry.attempt_timeout":   c.Retry.AttemptTimeout,
		"store.redis.ttl":         c.Store.Redis.TTL,
	}
	for name, value := range durations {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

func validateModel(field string, m ModelConfig) error {
	switch m.Provider {
	case "openai", "anthropic", "google":
		if m.APIKey == "" {
			return fmt.Errorf("%s: no API key for provider %s", field, m.Provider)
		}
	case "mock":
	default:
		return fmt.Errorf("%s.provider: unknown provider %q", field, m.Provider)
	}
	return nil
}

// Duration parses a validated duration setting. Empty means zero.
func Duration(value string) time.Duration {
	d, _ := time.ParseDuration(value)
	return d
}
