// Package config loads engine configuration from the environment and the
// domain manifest from YAML. Env vars tune runtime behavior (timeouts,
// budgets, buffers); the manifest declares which specialist domains exist
// and which capabilities they may use.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the environment-driven engine configuration.
type Config struct {
	// Provider selects the model backend: openai, anthropic or mock.
	Provider string `env:"CHATBOT_MODEL_PROVIDER" envDefault:"openai"`

	LogLevel  string `env:"CHATBOT_LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"CHATBOT_LOG_FORMAT" envDefault:"json"`

	// EventBufferSize sets channel buffering for per-request event streams.
	EventBufferSize int `env:"CHATBOT_EVENT_BUFFER" envDefault:"64"`

	// ParamRetryBudget is the number of repair attempts per tool call after
	// the first failed parameter extraction.
	ParamRetryBudget int `env:"CHATBOT_PARAM_RETRIES" envDefault:"2"`

	// ComplexityThreshold is the single-agent tie-break cut-off.
	ComplexityThreshold float64 `env:"CHATBOT_COMPLEXITY_THRESHOLD" envDefault:"0.8"`

	// Per-phase timeouts. A phase that misses its deadline is treated as a
	// phase-local failure.
	ReflectionTimeout time.Duration `env:"CHATBOT_REFLECTION_TIMEOUT" envDefault:"15s"`
	PlanningTimeout   time.Duration `env:"CHATBOT_PLANNING_TIMEOUT" envDefault:"90s"`
	SynthesisTimeout  time.Duration `env:"CHATBOT_SYNTHESIS_TIMEOUT" envDefault:"30s"`
	ResponseTimeout   time.Duration `env:"CHATBOT_RESPONSE_TIMEOUT" envDefault:"60s"`

	// ProductionSafe suppresses technical error detail in user-facing
	// terminal events; the underlying error is still logged.
	ProductionSafe bool `env:"CHATBOT_PRODUCTION_SAFE" envDefault:"true"`
}

// FromEnv parses the configuration from the process environment.
func FromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config from env: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Default returns the configuration with all defaults applied and no
// environment lookup. Useful for tests and embedding.
func Default() Config {
	return Config{
		Provider:            "openai",
		LogLevel:            "info",
		LogFormat:           "json",
		EventBufferSize:     64,
		ParamRetryBudget:    2,
		ComplexityThreshold: 0.8,
		ReflectionTimeout:   15 * time.Second,
		PlanningTimeout:     90 * time.Second,
		SynthesisTimeout:    30 * time.Second,
		ResponseTimeout:     60 * time.Second,
		ProductionSafe:      true,
	}
}

func (c Config) validate() error {
	switch c.Provider {
	case "openai", "anthropic", "mock":
	default:
		return fmt.Errorf("unknown model provider %q", c.Provider)
	}
	if c.ComplexityThreshold < 0 || c.ComplexityThreshold > 1 {
		return fmt.Errorf("complexity threshold %v outside [0,1]", c.ComplexityThreshold)
	}
	if c.ParamRetryBudget < 0 {
		return fmt.Errorf("negative parameter retry budget")
	}
	return nil
}
