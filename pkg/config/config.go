// Package config defines the explicit configuration object passed to each
// component at construction time. Nothing in this module reads process-wide
// constants; the store location, training hyperparameters, and notifier
// settings all flow through Config.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration for a behaviorguard deployment.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Training TrainingConfig `yaml:"training"`
	Notify   NotifyConfig   `yaml:"notify"`
	Executor ExecutorConfig `yaml:"executor"`
	LogLevel string         `yaml:"log_level"`
}

// StoreConfig selects and parameterizes the blob store backend.
type StoreConfig struct {
	// Backend is one of "memory", "fs", "s3".
	Backend string `yaml:"backend"`
	// Dir is the root directory for the fs backend.
	Dir string `yaml:"dir"`
	// Bucket and Region configure the s3 backend.
	Bucket string `yaml:"bucket"`
	Region string `yaml:"region"`
}

// TrainingConfig holds the autoencoder hyperparameters used at retrain time.
type TrainingConfig struct {
	Epochs              int     `yaml:"epochs"`
	BatchSize           int     `yaml:"batch_size"`
	Patience            int     `yaml:"patience"`
	LearningRate        float64 `yaml:"learning_rate"`
	ValidationSplit     float64 `yaml:"validation_split"`
	ThresholdPercentile float64 `yaml:"threshold_percentile"`
	Seed                int64   `yaml:"seed"`
}

// NotifyConfig configures the retraining outcome channel.
type NotifyConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID string `yaml:"telegram_chat_id"`
}

// ExecutorConfig bounds the retraining workers.
type ExecutorConfig struct {
	MaxConcurrentRetrains int64 `yaml:"max_concurrent_retrains"`
}

// DefaultConfig returns the configuration used when no file is provided.
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "fs",
			Dir:     "data",
		},
		Training: TrainingConfig{
			Epochs:              100,
			BatchSize:           64,
			Patience:            10,
			LearningRate:        0.001,
			ValidationSplit:     0.2,
			ThresholdPercentile: 95,
			Seed:                42,
		},
		Executor: ExecutorConfig{
			MaxConcurrentRetrains: 2,
		},
		LogLevel: "info",
	}
}

// ValidationError reports an invalid configuration field with a suggestion.
type ValidationError struct {
	Field      string `json:"field"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error in field '%s': %s", e.Field, e.Message)
}

// Load builds a Config from defaults, an optional YAML file, and BG_*
// environment overrides, in that priority order, then validates it.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}

	setString("BG_STORE_BACKEND", &cfg.Store.Backend)
	setString("BG_STORE_DIR", &cfg.Store.Dir)
	setString("BG_STORE_BUCKET", &cfg.Store.Bucket)
	setString("BG_STORE_REGION", &cfg.Store.Region)
	setString("BG_TELEGRAM_TOKEN", &cfg.Notify.TelegramToken)
	setString("BG_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)
	setString("BG_LOG_LEVEL", &cfg.LogLevel)

	if v, ok := os.LookupEnv("BG_MAX_CONCURRENT_RETRAINS"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Executor.MaxConcurrentRetrains = n
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "memory":
	case "fs":
		if c.Store.Dir == "" {
			return ValidationError{
				Field:      "store.dir",
				Message:    "fs backend requires a root directory",
				Suggestion: "set store.dir or BG_STORE_DIR",
			}
		}
	case "s3":
		if c.Store.Bucket == "" {
			return ValidationError{
				Field:      "store.bucket",
				Message:    "s3 backend requires a bucket name",
				Suggestion: "set store.bucket or BG_STORE_BUCKET",
			}
		}
	default:
		return ValidationError{
			Field:      "store.backend",
			Message:    fmt.Sprintf("unknown backend %q", c.Store.Backend),
			Suggestion: "use one of: memory, fs, s3",
		}
	}

	if c.Training.Epochs < 1 {
		return ValidationError{
			Field:      "training.epochs",
			Message:    "must be at least 1",
			Suggestion: "the default is 100",
		}
	}
	if c.Training.BatchSize < 1 {
		return ValidationError{
			Field:      "training.batch_size",
			Message:    "must be at least 1",
			Suggestion: "the default is 64",
		}
	}
	if c.Training.ValidationSplit < 0 || c.Training.ValidationSplit >= 1 {
		return ValidationError{
			Field:      "training.validation_split",
			Message:    "must be in [0, 1)",
			Suggestion: "the default is 0.2",
		}
	}
	if c.Training.ThresholdPercentile <= 0 || c.Training.ThresholdPercentile > 100 {
		return ValidationError{
			Field:      "training.threshold_percentile",
			Message:    "must be in (0, 100]",
			Suggestion: "the default is 95",
		}
	}
	if c.Executor.MaxConcurrentRetrains < 1 {
		return ValidationError{
			Field:      "executor.max_concurrent_retrains",
			Message:    "must be at least 1",
			Suggestion: "the default is 2",
		}
	}

	return nil
}
