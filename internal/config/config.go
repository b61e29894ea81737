// Package config loads a pipeline description and builds the strategy
// tree it describes.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. DOCSMITH_BATCH_MAX_WORKERS.
const EnvPrefix = "DOCSMITH"

// Config is the root of a pipeline file.
type Config struct {
	Log       LogConfig                 `mapstructure:"log"`
	Providers map[string]ProviderConfig `mapstructure:"providers" validate:"required,min=1,dive"`
	Retry     RetryConfig               `mapstructure:"retry"`
	RateLimit RateLimitConfig           `mapstructure:"rate_limit"`
	Strategy  StrategySpec              `mapstructure:"strategy"`
	Batch     BatchConfig               `mapstructure:"batch"`
}

// LogConfig sets logger defaults. Command-line flags take precedence.
type LogConfig struct {
	Debug bool `mapstructure:"debug"`
	Quiet bool `mapstructure:"quiet"`
	JSON  bool `mapstructure:"json"`
}

// ProviderConfig declares one named provider.
type ProviderConfig struct {
	Type      string `mapstructure:"type" validate:"required"`
	Model     string `mapstructure:"model"`
	APIKeyEnv string `mapstructure:"api_key_env"`
	BaseURL   string `mapstructure:"base_url" validate:"omitempty,url"`

	// Priority orders fallback attempts; nil means the default of 50.
	Priority *int    `mapstructure:"priority" validate:"omitempty,gte=0,lte=100"`
	Cost     float64 `mapstructure:"cost" validate:"gte=0"`

	Timeout        time.Duration `mapstructure:"timeout" validate:"gte=0"`
	Temperature    float64       `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens      int           `mapstructure:"max_tokens" validate:"gte=0"`
	MaxContentSize string        `mapstructure:"max_content_size"` // e.g. "100KB"

	// Readability sends only the main article of HTML documents.
	Readability bool `mapstructure:"readability"`
}

// RetryConfig overrides the retry policy of every strategy when set.
type RetryConfig struct {
	MaxRetries      int           `mapstructure:"max_retries" validate:"gte=0"`
	BaseDelay       time.Duration `mapstructure:"base_delay" validate:"gte=0"`
	MaxDelay        time.Duration `mapstructure:"max_delay" validate:"gte=0"`
	ExponentialBase float64       `mapstructure:"exponential_base" validate:"omitempty,gte=1"`
}

// IsSet reports whether a retry section was configured.
func (r RetryConfig) IsSet() bool {
	return r.MaxRetries > 0 || r.BaseDelay > 0
}

// RateLimitConfig spaces every provider call made by the pipeline.
type RateLimitConfig struct {
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// StrategySpec describes one node of the strategy tree. Which fields apply
// depends on Type.
type StrategySpec struct {
	Type string `mapstructure:"type" validate:"required,oneof=simple fallback router ensemble sequential privacy active_learning verified agentic"`

	Provider  string   `mapstructure:"provider"`  // simple, verified, agentic
	Providers []string `mapstructure:"providers"` // fallback, ensemble
	Judge     string   `mapstructure:"judge"`     // ensemble

	Inner *StrategySpec `mapstructure:"inner"` // sequential, privacy, active_learning

	Routes   map[string]*StrategySpec `mapstructure:"routes" validate:"omitempty,dive,required"`
	Keywords map[string][]string      `mapstructure:"keywords"`
	Default  string                   `mapstructure:"default"`

	ChunkSizePages int      `mapstructure:"chunk_size_pages" validate:"gte=0"`
	Detectors      []string `mapstructure:"detectors"`
	Trials         int      `mapstructure:"trials" validate:"gte=0"`
	Threshold      *float64 `mapstructure:"threshold" validate:"omitempty,gte=0,lte=1"`
	Passes         int      `mapstructure:"passes" validate:"gte=0"`
	MaxIterations  int      `mapstructure:"max_iterations" validate:"gte=0"`
	MaxHistory     int      `mapstructure:"max_history" validate:"gte=0"`

	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// BatchConfig configures the batch command.
type BatchConfig struct {
	Provider   string `mapstructure:"provider"`
	MaxWorkers int    `mapstructure:"max_workers" validate:"gte=0"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("strategy.type", "simple")
	v.SetDefault("batch.max_workers", 4)
	v.SetDefault("rate_limit.interval", time.Duration(0))
	return v
}

// Load reads the pipeline file at path. With an empty path it looks for
// docsmith.yaml in the working directory and then $HOME.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("docsmith")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		return nil, fmt.Errorf("no pipeline config found (create docsmith.yaml or pass --config)")
	}
	return decode(v)
}

// Parse reads a pipeline from YAML.
func Parse(data []byte) (*Config, error) {
	v := newViper()
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints. Cross references between strategies
// and providers are checked by Build.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
