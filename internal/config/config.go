// Package config loads sql-guard settings from defaults, a YAML file,
// SQLGUARD_ environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sql-guard/internal/auditor"
)

// EnvPrefix is the prefix of environment overrides, e.g. SQLGUARD_LOG_LEVEL.
const EnvPrefix = "SQLGUARD_"

// DefaultFile is looked up in the working directory when no file is given.
const DefaultFile = "sql-guard.yaml"

// Config is the merged configuration.
type Config struct {
	Src         string                        `koanf:"src"`
	Schema      string                        `koanf:"schema"`
	Signatures  string                        `koanf:"signatures"`
	Report      string                        `koanf:"report"`
	Out         string                        `koanf:"out"`
	Workers     int                           `koanf:"workers"`
	Exclude     []string                      `koanf:"exclude"`
	FailOnBlock bool                          `koanf:"fail_on_block"`
	LogLevel    string                        `koanf:"log_level"`
	Rules       map[string]auditor.RuleConfig `koanf:"rules"`

	// File is the configuration file that was read, if any.
	File string `koanf:"-"`
}

func defaults() map[string]any {
	return map[string]any{
		"src":           ".",
		"report":        "console",
		"workers":       runtime.NumCPU(),
		"exclude":       []string{".git", "vendor", "node_modules", "*_test.go"},
		"fail_on_block": true,
		"log_level":     "info",
	}
}

// Load merges every configuration layer. cfgFile may be empty, in which
// case DefaultFile is used when present. flags may be nil; only flags the
// user changed override lower layers.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if cfgFile == "" {
		if _, err := os.Stat(DefaultFile); err == nil {
			cfgFile = DefaultFile
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", cfgFile, err)
		}
	}

	// SQLGUARD_LOG_LEVEL -> log_level
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = cfgFile
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that cannot be caught by decoding, including the
// rules section against the checker catalog.
func (c *Config) Validate() error {
	switch c.Report {
	case "console", "json":
	default:
		return fmt.Errorf("invalid report format %q (want console or json)", c.Report)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", c.Workers)
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if _, err := auditor.Resolve(c.Rules); err != nil {
		return fmt.Errorf("rules: %w", err)
	}
	return nil
}

// Logger builds the CLI logger: human-readable on stderr, at LogLevel.
func (c *Config) Logger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	logConfig := zap.NewDevelopmentConfig()
	logConfig.Level = zap.NewAtomicLevelAt(level)
	logConfig.DisableStacktrace = level > zapcore.DebugLevel
	return logConfig.Build()
}
