package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depin-agent/cudainfo/internal/hardware/gpu"
	"github.com/depin-agent/cudainfo/internal/hardware/host"
)

func init() {
	gpu.Register("test-empty", func(gpu.Options) (gpu.Backend, error) {
		fb := gpu.NewFakeBackend()
		fb.Devices = nil
		return fb, nil
	})
	gpu.Register("test-broken", func(gpu.Options) (gpu.Backend, error) {
		fb := gpu.NewFakeBackend()
		fb.InitErr = errors.New("driver not loaded")
		return fb, nil
	})
	gpu.Register("test-partial", func(gpu.Options) (gpu.Backend, error) {
		fb := gpu.NewFakeBackend()
		fb.AttributeErrs = map[gpu.Attribute]error{gpu.AttrGPUOverlap: errors.New("not supported")}
		return fb, nil
	})
}

type stubCollector struct {
	info *host.Info
	err  error
}

func (s stubCollector) Collect(context.Context) (*host.Info, error) {
	return s.info, s.err
}

func withHostCollector(t *testing.T, c host.Collector) {
	t.Helper()
	prev := hostCollector
	hostCollector = c
	t.Cleanup(func() { hostCollector = prev })
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_TextReport(t *testing.T) {
	code, stdout, stderr := runCLI("--backend", "fake")
	require.Equal(t, exitOK, code, stderr)

	fb := gpu.NewFakeBackend()
	platform, err := gpu.NewPlatformInfo(fb)
	require.NoError(t, err)
	device, err := gpu.NewDeviceInfo(fb, 0)
	require.NoError(t, err)

	assert.Equal(t, platform.GetInfo()+"\n"+device.GetDeviceInfo()+"\n", stdout)
}

func TestRun_JSONWithKernelAndDevice(t *testing.T) {
	code, stdout, stderr := runCLI(
		"--backend", "fake",
		"--format", "json",
		"--kernel", "mock.cubin:vectorAdd",
		"--device", "0",
	)
	require.Equal(t, exitOK, code, stderr)

	var decoded struct {
		Platform struct {
			DeviceCount int `json:"device_count"`
		} `json:"platform"`
		Kernels []struct {
			Ref     string `json:"ref"`
			NumRegs int    `json:"num_regs"`
		} `json:"kernels"`
		ActiveDevice *int `json:"active_device"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &decoded))
	assert.Equal(t, 1, decoded.Platform.DeviceCount)
	require.Len(t, decoded.Kernels, 1)
	assert.Equal(t, 32, decoded.Kernels[0].NumRegs)
	require.NotNil(t, decoded.ActiveDevice)
	assert.Equal(t, 0, *decoded.ActiveDevice)
}

func TestRun_HostSummary(t *testing.T) {
	withHostCollector(t, stubCollector{info: &host.Info{Hostname: "render-01", OS: "linux"}})

	code, stdout, _ := runCLI("--backend", "fake", "--host")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "Host info:\n  Hostname:              render-01\n")
}

func TestRun_HostFailureIsNotFatal(t *testing.T) {
	withHostCollector(t, stubCollector{err: errors.New("no /proc")})

	code, stdout, _ := runCLI("--backend", "fake", "--host")
	require.Equal(t, exitOK, code)
	assert.NotContains(t, stdout, "Host info:")
	assert.Contains(t, stdout, "CUDA info:")
}

func TestRun_ExitCodes(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    int
		wantErr string
	}{
		{"no devices", []string{"--backend", "test-empty"}, exitPrecondition, "no CUDA capable devices detected"},
		{"init failure", []string{"--backend", "test-broken"}, exitQuery, "driver not loaded"},
		{"device out of range", []string{"--backend", "fake", "--device", "3"}, exitQuery, "invalid device ordinal"},
		{"strict attribute failure", []string{"--backend", "test-partial", "--strict"}, exitQuery, "gpuOverlap"},
		{"bad format", []string{"--backend", "fake", "--format", "xml"}, exitError, "invalid format"},
		{"unknown flag", []string{"--frobnicate"}, exitError, "unknown flag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, stdout, stderr := runCLI(tt.args...)
			assert.Equal(t, tt.want, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, tt.wantErr)
		})
	}
}

func TestRun_KernelFailureStillReports(t *testing.T) {
	code, stdout, stderr := runCLI(
		"--backend", "fake",
		"--kernel", "mock.cubin:matMul",
		"--kernel", "mock.cubin:vectorAdd",
	)
	assert.Equal(t, exitQuery, code)
	assert.Contains(t, stderr, "kernel mock.cubin:matMul")

	assert.Contains(t, stdout, "CUDA info:")
	assert.Contains(t, stdout, "Device name:")
	assert.Contains(t, stdout, "Kernel mock.cubin:matMul\n  Error: ")
	assert.Contains(t, stdout, "named symbol not found: matMul in mock.cubin")
	assert.Contains(t, stdout, "Kernel mock.cubin:vectorAdd\nKernel attributes:\n")
}

func TestRun_KernelFailureJSON(t *testing.T) {
	code, stdout, _ := runCLI("--backend", "fake", "--format", "json", "--kernel", "mock.cubin:matMul", "--device", "0")
	assert.Equal(t, exitQuery, code)

	var decoded struct {
		Devices []struct {
			Name string `json:"name"`
		} `json:"devices"`
		Kernels []struct {
			Ref   string `json:"ref"`
			Error string `json:"error"`
		} `json:"kernels"`
		ActiveDevice *int `json:"active_device"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &decoded))
	require.Len(t, decoded.Devices, 1)
	require.Len(t, decoded.Kernels, 1)
	assert.Equal(t, "mock.cubin:matMul", decoded.Kernels[0].Ref)
	assert.Contains(t, decoded.Kernels[0].Error, "matMul")
	require.NotNil(t, decoded.ActiveDevice)
}

func TestRun_BestEffortAttributeFailure(t *testing.T) {
	code, stdout, _ := runCLI("--backend", "test-partial", "--format", "yaml")
	require.Equal(t, exitOK, code)
	assert.Contains(t, stdout, "warnings:")
	assert.Contains(t, stdout, "gpuOverlap")
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitPrecondition, exitCode(fmt.Errorf("wrapped: %w", &gpu.PreconditionError{Err: gpu.ErrNoDevices})))
	assert.Equal(t, exitQuery, exitCode(fmt.Errorf("device 0: %w", &gpu.QueryError{Code: gpu.CodeNotSupported})))
	assert.Equal(t, exitError, exitCode(errors.New("config")))
}
