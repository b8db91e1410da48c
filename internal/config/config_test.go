package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "auto", cfg.Backend)
	assert.Equal(t, "text", cfg.Format)
	assert.Equal(t, -1, cfg.Device)
	assert.Equal(t, 10*time.Second, cfg.SMITimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Backend, cfg.Backend)
	assert.Equal(t, DefaultConfig().LogLevel, cfg.LogLevel)
	assert.False(t, cfg.Strict)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("CUDAINFO_BACKEND", "fake")
	t.Setenv("CUDAINFO_FORMAT", "json")
	t.Setenv("CUDAINFO_STRICT", "true")
	t.Setenv("CUDAINFO_SMI_TIMEOUT", "3s")

	cfg, err := Load(nil, "")
	require.NoError(t, err)
	assert.Equal(t, "fake", cfg.Backend)
	assert.Equal(t, "json", cfg.Format)
	assert.True(t, cfg.Strict)
	assert.Equal(t, 3*time.Second, cfg.SMITimeout)
}

func TestLoad_FlagsBeatEnv(t *testing.T) {
	t.Setenv("CUDAINFO_FORMAT", "yaml")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("format", "text", "")
	flags.Int("device", -1, "")
	require.NoError(t, flags.Parse([]string{"--format", "json", "--device", "1"}))

	cfg, err := Load(flags, "")
	require.NoError(t, err)
	assert.Equal(t, "json", cfg.Format)
	assert.Equal(t, 1, cfg.Device)
}

func TestLoad_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cudainfo.yaml")
	content := "backend: fake\nformat: prometheus\nkernels:\n  - mock.cubin:vectorAdd\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(nil, path)
	require.NoError(t, err)
	assert.Equal(t, "fake", cfg.Backend)
	assert.Equal(t, "prometheus", cfg.Format)
	assert.Equal(t, []string{"mock.cubin:vectorAdd"}, cfg.Kernels)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(nil, filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"bad log level", func(c *Config) { c.LogLevel = "chatty" }, "invalid log_level"},
		{"bad backend", func(c *Config) { c.Backend = "opencl" }, "invalid backend"},
		{"bad format", func(c *Config) { c.Format = "xml" }, "invalid format"},
		{"bad device", func(c *Config) { c.Device = -2 }, "device must be"},
		{"bad kernel", func(c *Config) { c.Kernels = []string{"noentry"} }, "invalid kernel reference"},
		{"bad timeout", func(c *Config) { c.SMITimeout = 0 }, "smi_timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParseKernelRef(t *testing.T) {
	mod, entry, err := ParseKernelRef("C:/kernels/add.cubin:vectorAdd")
	require.NoError(t, err)
	assert.Equal(t, "C:/kernels/add.cubin", mod)
	assert.Equal(t, "vectorAdd", entry)

	for _, bad := range []string{"", "add.cubin", ":vectorAdd", "add.cubin:"} {
		_, _, err := ParseKernelRef(bad)
		assert.Error(t, err, bad)
	}
}
