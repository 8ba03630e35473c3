// Package config loads opcore settings from the environment.
package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/opcore/errors"
)

// Config holds process-wide settings.
type Config struct {
	LogLevel         string `env:"OPCORE_LOG_LEVEL" envDefault:"info"`
	LogFormat        string `env:"OPCORE_LOG_FORMAT" envDefault:"console"`
	Entry            string `env:"OPCORE_ENTRY" envDefault:"run"`
	MaxInflight      int64  `env:"OPCORE_MAX_INFLIGHT" envDefault:"0"`
	MemoryLimitPages uint32 `env:"OPCORE_MEMORY_LIMIT_PAGES" envDefault:"0"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		LogLevel:  "info",
		LogFormat: "console",
		Entry:     "run",
	}
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "parse env")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks field ranges and enumerations.
func (c Config) Validate() error {
	if _, err := c.level(); err != nil {
		return err
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("log format %q: want console or json", c.LogFormat))
	}
	if c.MaxInflight < 0 {
		return errors.InvalidInput(errors.PhaseConfig, "max inflight cannot be negative")
	}
	if c.Entry == "" {
		return errors.InvalidInput(errors.PhaseConfig, "entry export name cannot be empty")
	}
	return nil
}

func (c Config) level() (zapcore.Level, error) {
	lvl, err := zapcore.ParseLevel(strings.ToLower(c.LogLevel))
	if err != nil {
		return 0, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err,
			fmt.Sprintf("log level %q", c.LogLevel))
	}
	return lvl, nil
}

// NewLogger builds a zap logger for the configured level and format.
func (c Config) NewLogger() (*zap.Logger, error) {
	lvl, err := c.level()
	if err != nil {
		return nil, err
	}

	var zc zap.Config
	if c.LogFormat == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)

	l, err := zc.Build()
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidInput, err, "build logger")
	}
	return l, nil
}
