// Package config implements spec.md §6's enumerated configuration surface,
// grounded on the teacher's core.DefaultConfig() precedence idiom
// (hard-coded default, overridden by an AGENTRT_* environment variable,
// overridden by an explicit value), extended with an optional YAML layer
// per this runtime's SPEC_FULL.md expansion.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is every knob enumerated in §6.
type Config struct {
	Session   SessionConfig   `yaml:"session"`
	EventBus  EventBusConfig  `yaml:"event_bus"`
	Middleware MiddlewareConfig `yaml:"middleware"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

type SessionConfig struct {
	TTLSeconds             int `yaml:"ttl_seconds"`
	MaxCount               int `yaml:"max_count"`
	CleanupIntervalSeconds int `yaml:"cleanup_interval_seconds"`
}

type EventBusConfig struct {
	MaxHistory             int `yaml:"max_history"`
	MaxConcurrentHandlers  int `yaml:"max_concurrent_handlers"`
	HandlerTimeoutSeconds  int `yaml:"handler_timeout_seconds"`
}

type MiddlewareConfig struct {
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`
}

type ExecutorConfig struct {
	DefaultTimeoutSeconds   int     `yaml:"default_timeout_seconds"`
	RetryAttempts           int     `yaml:"retry_attempts"`
	RetryBaseDelaySeconds   float64 `yaml:"retry_base_delay_seconds"`
	RetryBackoffMultiplier  float64 `yaml:"retry_backoff_multiplier"`
	RetryMaxDelaySeconds    int     `yaml:"retry_max_delay_seconds"`
	BatchMaxConcurrency     int     `yaml:"batch_max_concurrency"` // 0 means "auto": max(4, 2*cores)
}

type MetricsConfig struct {
	DefaultHistogramBuckets []float64 `yaml:"default_histogram_buckets"`
}

// DefaultConfig returns every §6 default exactly as enumerated.
func DefaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			TTLSeconds:             3600,
			MaxCount:               10000,
			CleanupIntervalSeconds: 300,
		},
		EventBus: EventBusConfig{
			MaxHistory:            1000,
			MaxConcurrentHandlers: 16,
			HandlerTimeoutSeconds: 5,
		},
		Middleware: MiddlewareConfig{
			DefaultTimeoutSeconds: 30,
		},
		Executor: ExecutorConfig{
			DefaultTimeoutSeconds:  30,
			RetryAttempts:          3,
			RetryBaseDelaySeconds:  1.0,
			RetryBackoffMultiplier: 2.0,
			RetryMaxDelaySeconds:   60,
			BatchMaxConcurrency:    0,
		},
		Metrics: MetricsConfig{
			DefaultHistogramBuckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	}
}

// Load builds a Config from, in ascending precedence: built-in defaults,
// an optional YAML file at yamlPath (skipped if empty or absent), then
// AGENTRT_* environment variables.
func Load(yamlPath string) (*Config, error) {
	cfg := DefaultConfig()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	intEnv("AGENTRT_SESSION_TTL_SECONDS", &cfg.Session.TTLSeconds)
	intEnv("AGENTRT_SESSION_MAX_COUNT", &cfg.Session.MaxCount)
	intEnv("AGENTRT_SESSION_CLEANUP_INTERVAL_SECONDS", &cfg.Session.CleanupIntervalSeconds)

	intEnv("AGENTRT_EVENT_BUS_MAX_HISTORY", &cfg.EventBus.MaxHistory)
	intEnv("AGENTRT_EVENT_BUS_MAX_CONCURRENT_HANDLERS", &cfg.EventBus.MaxConcurrentHandlers)
	intEnv("AGENTRT_EVENT_BUS_HANDLER_TIMEOUT_SECONDS", &cfg.EventBus.HandlerTimeoutSeconds)

	intEnv("AGENTRT_MIDDLEWARE_DEFAULT_TIMEOUT_SECONDS", &cfg.Middleware.DefaultTimeoutSeconds)

	intEnv("AGENTRT_EXECUTOR_DEFAULT_TIMEOUT_SECONDS", &cfg.Executor.DefaultTimeoutSeconds)
	intEnv("AGENTRT_EXECUTOR_RETRY_ATTEMPTS", &cfg.Executor.RetryAttempts)
	floatEnv("AGENTRT_EXECUTOR_RETRY_BASE_DELAY_SECONDS", &cfg.Executor.RetryBaseDelaySeconds)
	floatEnv("AGENTRT_EXECUTOR_RETRY_BACKOFF_MULTIPLIER", &cfg.Executor.RetryBackoffMultiplier)
	intEnv("AGENTRT_EXECUTOR_RETRY_MAX_DELAY_SECONDS", &cfg.Executor.RetryMaxDelaySeconds)
	intEnv("AGENTRT_EXECUTOR_BATCH_MAX_CONCURRENCY", &cfg.Executor.BatchMaxConcurrency)
}

func intEnv(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func floatEnv(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

// Seconds helpers so callers don't repeat time.Duration(n) * time.Second at
// every call site.
func (c SessionConfig) TTL() time.Duration { return time.Duration(c.TTLSeconds) * time.Second }
func (c SessionConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}
func (c EventBusConfig) HandlerTimeout() time.Duration {
	return time.Duration(c.HandlerTimeoutSeconds) * time.Second
}
func (c MiddlewareConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}
func (c ExecutorConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}
func (c ExecutorConfig) RetryBaseDelay() time.Duration {
	return time.Duration(c.RetryBaseDelaySeconds * float64(time.Second))
}
func (c ExecutorConfig) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxDelaySeconds) * time.Second
}
