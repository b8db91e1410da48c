package gpu

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestFormatVersion(t *testing.T) {
	tests := []struct {
		version int
		want    string
	}{
		{3020, "3.20"},
		{5050, "5.50"},
		{3200, "3.0"},
		{12040, "12.40"},
		{11080, "11.80"},
		{0, "0.0"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatVersion(tt.version), "version %d", tt.version)
	}
}

func TestNewPlatformInfo(t *testing.T) {
	fb := NewFakeBackend()
	fb.Devices = append(fb.Devices, MockRTX4090())

	p, err := NewPlatformInfo(fb)
	require.NoError(t, err)

	assert.Equal(t, 2, p.DeviceCount())
	assert.Equal(t, 12040, p.DriverVersion())
	assert.Equal(t, 12030, p.RuntimeVersion())
	assert.Empty(t, p.Warnings())
	assert.Equal(t, 1, fb.InitCalls())
}

func TestPlatformInfo_GetInfo(t *testing.T) {
	fb := NewFakeBackend()
	fb.Driver = 3020
	fb.Runtime = 5050

	p, err := NewPlatformInfo(fb)
	require.NoError(t, err)

	want := "CUDA info:\n" +
		"  Device Count:          1\n" +
		"  CUDA Driver Version:   3.20\n" +
		"  CUDA Runtime Version:  5.50"
	assert.Equal(t, want, p.GetInfo())
}

func TestNewPlatformInfo_NoDevices(t *testing.T) {
	fb := NewFakeBackend()
	fb.Devices = nil

	p, err := NewPlatformInfo(fb)
	assert.Nil(t, p)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoDevices)
	assert.True(t, IsFatal(err))

	var qe *QueryError
	assert.False(t, errors.As(err, &qe))
}

func TestNewPlatformInfo_InitFailure(t *testing.T) {
	fb := NewFakeBackend()
	fb.InitErr = newQueryError("platform init", -1, CodeNoDevice, "no CUDA-capable device is detected")

	_, err := NewPlatformInfo(fb)
	require.Error(t, err)
	assert.False(t, IsFatal(err))

	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, CodeNoDevice, qe.Code)
	assert.Equal(t, "no CUDA-capable device is detected", qe.Message)
}

func TestNewPlatformInfo_CountFailure(t *testing.T) {
	fb := NewFakeBackend()
	fb.CountErr = errors.New("driver crashed")

	_, err := NewPlatformInfo(fb)

	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "device count", qe.Op)
	assert.Equal(t, CodeUnknown, qe.Code)
	assert.Equal(t, "driver crashed", qe.Message)
}

func TestNewPlatformInfo_VersionFailureBestEffort(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	fb := NewFakeBackend()
	fb.RuntimeErr = newQueryError("runtime version", -1, CodeNotSupported, "operation not supported")

	p, err := NewPlatformInfo(fb, WithLogger(zap.New(core)))
	require.NoError(t, err)

	assert.Equal(t, 12040, p.DriverVersion())
	assert.Equal(t, 0, p.RuntimeVersion())
	require.Len(t, p.Warnings(), 1)
	assert.Equal(t, "runtime version", p.Warnings()[0].Op)

	entries := logs.FilterMessage("Platform query failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "runtime version", entries[0].ContextMap()["op"])
	assert.EqualValues(t, CodeNotSupported, entries[0].ContextMap()["code"])
}

func TestNewPlatformInfo_VersionFailureStrict(t *testing.T) {
	fb := NewFakeBackend()
	fb.DriverErr = errors.New("driver version unavailable")
	fb.RuntimeErr = errors.New("runtime version unavailable")

	p, err := NewPlatformInfo(fb, WithStrict(true))
	assert.Nil(t, p)
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Contains(t, err.Error(), "driver version unavailable")
	assert.Contains(t, err.Error(), "runtime version unavailable")

	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "driver version", qe.Op)
}
