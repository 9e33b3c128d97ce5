// Package config loads the nodeflow YAML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ravi-parthasarathy/nodeflow/pkg/flow"
	"github.com/ravi-parthasarathy/nodeflow/pkg/natsbridge"
	"github.com/ravi-parthasarathy/nodeflow/pkg/telemetry"
)

// Config is the top-level configuration.
type Config struct {
	// Flow is the path of the DOT flow file. Command-line arguments
	// override it.
	Flow    string                  `yaml:"flow"`
	Log     LogConfig               `yaml:"log"`
	Engine  EngineConfig            `yaml:"engine"`
	LLM     LLMConfig               `yaml:"llm"`
	Script  ScriptConfig            `yaml:"script"`
	Tracing telemetry.TracingConfig `yaml:"tracing"`
	Sentry  SentryConfig            `yaml:"sentry"`
	NATS    natsbridge.Config       `yaml:"nats"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json or console
}

type EngineConfig struct {
	// MaxSteps bounds the nodes one process may visit; 0 is unbounded.
	MaxSteps int `yaml:"max_steps"`
}

type LLMConfig struct {
	DefaultModel string `yaml:"default_model"`
}

type ScriptConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SentryConfig enables failure reporting when DSN is set.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log:     LogConfig{Level: "info", Format: "console"},
		Engine:  EngineConfig{MaxSteps: 1000},
		LLM:     LLMConfig{DefaultModel: flow.DefaultModel},
		Script:  ScriptConfig{Timeout: time.Second},
		Tracing: telemetry.DefaultTracingConfig("nodeflow"),
		NATS:    natsbridge.DefaultConfig(),
	}
}

// Load reads the YAML file at path over the defaults. Environment
// variables referenced as ${NAME} are expanded before parsing.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %q: %w", path, err)
	}
	return cfg, nil
}

// Validate reports every invalid field.
func (c Config) Validate() error {
	var errs []error
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level: unknown level %q", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format: must be json or console, got %q", c.Log.Format))
	}
	if c.Engine.MaxSteps < 0 {
		errs = append(errs, fmt.Errorf("engine.max_steps: must not be negative"))
	}
	if c.Script.Timeout < 0 {
		errs = append(errs, fmt.Errorf("script.timeout: must not be negative"))
	}
	if err := c.Tracing.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.NATS.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
