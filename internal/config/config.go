// Package config provides configuration management with hot-reload support.
// It uses fsnotify to watch for file changes and atomic pointer swaps for
// zero-downtime updates.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Behavior  BehaviorConfig  `yaml:"behavior"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// LLMConfig configures the primary completion provider.
type LLMConfig struct {
	Provider        string        `yaml:"provider"` // "deepseek" or any openai-like
	APIKey          string        `yaml:"api_key"`
	BaseURL         string        `yaml:"base_url"`
	Model           string        `yaml:"model"`
	ExtractionModel string        `yaml:"extraction_model"` // defaults to Model
	Timeout         time.Duration `yaml:"timeout"`
	MaxTokens       int           `yaml:"max_tokens"`
	Temperature     float64       `yaml:"temperature"`
}

// EmbeddingConfig configures the embedding provider. An absent API key falls
// back to the LLM key; if neither is set, retrieval degrades to no context.
type EmbeddingConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// DatabaseConfig contains PostgreSQL connection settings.
type DatabaseConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	User         string        `yaml:"user"`
	Password     string        `yaml:"password"`
	Database     string        `yaml:"database"`
	SSLMode      string        `yaml:"ssl_mode"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// RedisConfig contains optional Redis settings for the day-keyed rate
// limiter. When Addr is empty the store-backed limiter is used instead.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BehaviorConfig tunes the personality simulation.
type BehaviorConfig struct {
	SessionGapHours        float64 `yaml:"session_gap_hours"`
	SocialExhaustion       float64 `yaml:"social_exhaustion"`
	CognitiveDrift         float64 `yaml:"cognitive_drift"` // Bernoulli probability, 0 disables
	TopicExhaustionMinutes int     `yaml:"topic_exhaustion_minutes"`
	ExtractionJobsPerSec   float64 `yaml:"extraction_jobs_per_sec"`
}

// RateLimitConfig defines the daily budget parameters.
type RateLimitConfig struct {
	FreeTierDailyCap int  `yaml:"free_tier_daily_cap"`
	UseRedis         bool `yaml:"use_redis"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TracingConfig contains OpenTelemetry tracing settings.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"`
	ServiceName string  `yaml:"service_name"`
	SampleRate  float64 `yaml:"sample_rate"`
	Insecure    bool    `yaml:"insecure"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		LLM: LLMConfig{
			Provider:    "deepseek",
			Timeout:     60 * time.Second,
			MaxTokens:   1024,
			Temperature: 0.8,
		},
		Embedding: EmbeddingConfig{
			Model:   "text-embedding-004",
			Timeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "hearth",
			SSLMode:      "disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			ConnLifetime: 5 * time.Minute,
		},
		Behavior: BehaviorConfig{
			SessionGapHours:        4,
			SocialExhaustion:       0,
			CognitiveDrift:         0,
			TopicExhaustionMinutes: 30,
			ExtractionJobsPerSec:   1,
		},
		RateLimit: RateLimitConfig{
			FreeTierDailyCap: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			Endpoint:    "localhost:4318",
			ServiceName: "hearth",
			SampleRate:  1.0,
			Insecure:    true,
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables in the format ${VAR_NAME} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.LLM.APIKey == "" {
		return fmt.Errorf("llm.api_key is required")
	}
	if c.LLM.MaxTokens < 0 {
		return fmt.Errorf("llm.max_tokens cannot be negative")
	}
	if c.Behavior.CognitiveDrift < 0 || c.Behavior.CognitiveDrift > 1 {
		return fmt.Errorf("behavior.cognitive_drift must be in [0,1]")
	}
	if c.Behavior.TopicExhaustionMinutes < 0 {
		return fmt.Errorf("behavior.topic_exhaustion_minutes cannot be negative")
	}
	if c.RateLimit.FreeTierDailyCap <= 0 {
		return fmt.Errorf("rate_limit.free_tier_daily_cap must be positive")
	}
	if c.RateLimit.UseRedis && c.Redis.Addr == "" {
		return fmt.Errorf("rate_limit.use_redis requires redis.addr")
	}
	return nil
}
