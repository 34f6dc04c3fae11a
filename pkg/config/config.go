// Package config loads the core's process-wide tunables. It repurposes the
// teacher's viper-based configuration loading (previously wired only behind
// a Cobra command tree) as a plain library call with no CLI attached, since
// CLI wrappers are outside this core's scope.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables every long-lived component reads at
// construction time.
type Config struct {
	// LogLevel is one of "debug", "info", "warn", "error".
	LogLevel string `mapstructure:"log_level" yaml:"log_level"`

	// AllowedISAs restricts the Target Manager to a known allowlist of ISA
	// identifiers; empty means no restriction.
	AllowedISAs []string `mapstructure:"allowed_isas" yaml:"allowed_isas"`

	// DisassemblyCacheSize and LiftCacheSize bound the Code Lifter's two
	// caches (0 means unbounded).
	DisassemblyCacheSize int `mapstructure:"disassembly_cache_size" yaml:"disassembly_cache_size"`
	LiftCacheSize         int `mapstructure:"lift_cache_size" yaml:"lift_cache_size"`

	// IntrinsicSearchPath lists directories scanned for tool-supplied
	// intrinsic manifests beyond the built-in registry.
	IntrinsicSearchPath []string `mapstructure:"intrinsic_search_path" yaml:"intrinsic_search_path"`
}

// Default returns the configuration used when no file or environment
// override is present.
func Default() *Config {
	return &Config{
		LogLevel:              "info",
		DisassemblyCacheSize:  0,
		LiftCacheSize:         0,
		IntrinsicSearchPath:   nil,
	}
}

// Load reads configuration from a YAML file at path (if non-empty) merged
// with LUTHIER_-prefixed environment variables, falling back to Default()
// for anything unset. Mirrors cmd/root.go's initConfig without the Cobra
// command tree wrapped around it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LUTHIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("disassembly_cache_size", cfg.DisassemblyCacheSize)
	v.SetDefault("lift_cache_size", cfg.LiftCacheSize)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	return cfg, nil
}

// LoadYAML parses a config document directly (used by tests and by callers
// that already have the bytes, e.g. a manifest embedded in a fat binary),
// bypassing viper's file/env merge entirely.
func LoadYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}
	return cfg, nil
}

// MustWriteDefault writes the default configuration to path as YAML, for
// tools that want to seed a starter file. Not part of the core's hot path.
func MustWriteDefault(path string) error {
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
