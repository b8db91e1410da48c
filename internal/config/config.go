// Package config provides configuration management using Viper.
// It supports loading from config files, environment variables, flags and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/depin-agent/cudainfo/internal/hardware/gpu"
	"github.com/depin-agent/cudainfo/internal/report"
)

// EnvPrefix prefixes every environment variable (e.g. CUDAINFO_BACKEND).
const EnvPrefix = "CUDAINFO"

// Config holds all configuration values for the tool.
type Config struct {
	// DevMode enables console logging and lets auto backend selection fall
	// back to a mock GPU when no real backend is available
	DevMode bool `mapstructure:"dev_mode"`

	// LogLevel sets the minimum log level (debug, info, warn, error)
	LogLevel string `mapstructure:"log_level"`

	// Backend selects the device query backend (auto, cuda, nvml, smi, fake)
	Backend string `mapstructure:"backend"`

	// Format selects the report format (text, json, yaml, prometheus)
	Format string `mapstructure:"format"`

	// Strict fails device and platform construction on any failed query
	// instead of logging it and continuing
	Strict bool `mapstructure:"strict"`

	// ShowHost prepends a host summary to the report
	ShowHost bool `mapstructure:"show_host"`

	// Device, when >= 0, is bound as the active device after reporting
	Device int `mapstructure:"device"`

	// Kernels lists "module:entry" pairs whose attributes are reported
	Kernels []string `mapstructure:"kernels"`

	// SMIPath is the nvidia-smi executable used by the smi backend
	SMIPath string `mapstructure:"smi_path"`

	// SMITimeout bounds each nvidia-smi invocation
	SMITimeout time.Duration `mapstructure:"smi_timeout"`
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() *Config {
	return &Config{
		DevMode:    false,
		LogLevel:   "warn", // Keep stderr quiet unless something fails
		Backend:    gpu.BackendAuto,
		Format:     string(report.FormatText),
		Strict:     false,
		ShowHost:   false,
		Device:     -1,
		Kernels:    []string{},
		SMIPath:    "nvidia-smi",
		SMITimeout: 10 * time.Second,
	}
}

// flagKeys maps config keys to the command-line flags that override them.
var flagKeys = map[string]string{
	"dev_mode":    "dev-mode",
	"log_level":   "log-level",
	"backend":     "backend",
	"format":      "format",
	"strict":      "strict",
	"show_host":   "host",
	"device":      "device",
	"kernels":     "kernel",
	"smi_path":    "smi-path",
	"smi_timeout": "smi-timeout",
}

// Load reads configuration from defaults, an optional config file,
// environment variables and flags, in increasing order of precedence.
// All environment variables are prefixed with "CUDAINFO_" (e.g. CUDAINFO_FORMAT).
// configFile, when set, replaces the config file search.
func Load(flags *pflag.FlagSet, configFile string) (*Config, error) {
	v := viper.New()

	// Set default values
	defaults := DefaultConfig()
	v.SetDefault("dev_mode", defaults.DevMode)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("backend", defaults.Backend)
	v.SetDefault("format", defaults.Format)
	v.SetDefault("strict", defaults.Strict)
	v.SetDefault("show_host", defaults.ShowHost)
	v.SetDefault("device", defaults.Device)
	v.SetDefault("kernels", defaults.Kernels)
	v.SetDefault("smi_path", defaults.SMIPath)
	v.SetDefault("smi_timeout", defaults.SMITimeout)

	// Environment variables are prefixed with CUDAINFO_ and use underscores
	// Example: CUDAINFO_LOG_LEVEL=debug, CUDAINFO_STRICT=true
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for key, name := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %q: %w", name, err)
				}
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("cudainfo")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")              // Current directory
		v.AddConfigPath("./config")       // Config subdirectory
		v.AddConfigPath("/etc/cudainfo/") // System-wide config (Linux)
	}

	// Read config file if it exists (not an error if missing)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Validate checks that all configuration values are valid.
func (c *Config) Validate() error {
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("invalid log_level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	if !c.validBackend() {
		return fmt.Errorf("invalid backend %q: must be %s or one of %s",
			c.Backend, gpu.BackendAuto, strings.Join(gpu.Names(), ", "))
	}

	if report.Format(c.Format).IsUnknown() {
		return fmt.Errorf("invalid format %q: must be one of %s",
			c.Format, strings.Join(report.SupportedFormats(), ", "))
	}

	if c.Device < -1 {
		return fmt.Errorf("device must be -1 (none) or a device index, got %d", c.Device)
	}

	for _, k := range c.Kernels {
		if _, _, err := ParseKernelRef(k); err != nil {
			return err
		}
	}

	if c.SMITimeout <= 0 {
		return fmt.Errorf("smi_timeout must be positive, got %v", c.SMITimeout)
	}

	return nil
}

func (c *Config) validBackend() bool {
	if c.Backend == gpu.BackendAuto {
		return true
	}
	for _, name := range gpu.Names() {
		if c.Backend == name {
			return true
		}
	}
	return false
}

// ParseKernelRef splits a "module:entry" reference. The module path may
// itself contain colons; the entry is everything after the last one.
func ParseKernelRef(ref string) (module, entry string, err error) {
	i := strings.LastIndex(ref, ":")
	if i <= 0 || i == len(ref)-1 {
		return "", "", fmt.Errorf("invalid kernel reference %q: want module:entry", ref)
	}
	return ref[:i], ref[i+1:], nil
}

// String returns a string representation of the config (useful for logging).
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{DevMode: %v, LogLevel: %s, Backend: %s, Format: %s, Strict: %v, ShowHost: %v, Device: %d, Kernels: %v}",
		c.DevMode, c.LogLevel, c.Backend, c.Format, c.Strict, c.ShowHost, c.Device, c.Kernels,
	)
}
