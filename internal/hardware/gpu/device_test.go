package gpu

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewDeviceInfo_PassThrough(t *testing.T) {
	fb := NewFakeBackend()

	d, err := NewDeviceInfo(fb, 0)
	require.NoError(t, err)
	assert.Empty(t, d.Warnings())

	fixture := MockRTX4090()
	p := d.Properties()
	assert.Equal(t, 0, d.Index())
	assert.Equal(t, fixture.Name, d.Name())
	assert.Equal(t, 8, d.Major())
	assert.Equal(t, 9, d.Minor())
	assert.Equal(t, fixture.TotalMemory, p.TotalGlobalMem)

	for _, attr := range deviceAttributes {
		assert.Equal(t, fixture.Attributes[attr], *p.field(attr), attr.String())
	}

	assert.Equal(t, 128, d.MultiProcessorCount())
	assert.Equal(t, 49152, d.MaxSharedMemory())
	assert.Equal(t, 1024, d.MaxThreadsPerBlock())
	assert.Equal(t, 65536, d.MaxRegsPerBlock())
	assert.Equal(t, [3]int{1024, 1024, 64}, p.MaxBlockDim)
	assert.Equal(t, [3]int{2147483647, 65535, 65535}, p.MaxGridDim)
}

func TestNewDeviceInfo_SecondDevice(t *testing.T) {
	fb := NewFakeBackend()
	second := MockRTX4090()
	second.Name = "Mock NVIDIA A100"
	second.Major, second.Minor = 8, 0
	fb.Devices = append(fb.Devices, second)

	d, err := NewDeviceInfo(fb, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, d.Index())
	assert.Equal(t, "Mock NVIDIA A100", d.Name())
	assert.Equal(t, 0, d.Minor())
}

func TestNewDeviceInfo_InvalidIndex(t *testing.T) {
	fb := NewFakeBackend()

	_, err := NewDeviceInfo(fb, -1)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, CodeInvalidDevice, qe.Code)

	// Out-of-range indices fail every query; strict mode surfaces them
	_, err = NewDeviceInfo(fb, 5, WithStrict(true))
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, CodeInvalidDevice, qe.Code)
	assert.Equal(t, 5, qe.Device)
}

func TestNewDeviceInfo_InitFailure(t *testing.T) {
	fb := NewFakeBackend()
	fb.InitErr = errors.New("init failed")

	_, err := NewDeviceInfo(fb, 0)
	var qe *QueryError
	require.ErrorAs(t, err, &qe)
	assert.Equal(t, "platform init", qe.Op)
}

func TestDeviceInfo_GetDeviceInfo(t *testing.T) {
	d, err := NewDeviceInfo(NewFakeBackend(), 0)
	require.NoError(t, err)

	want := strings.Join([]string{
		"Device name:    Mock NVIDIA GeForce RTX 4090",
		"  CUDA Cap. Major revision #:   8",
		"  CUDA Cap. Minor revision #:   9",
		"  totalGlobalMem                25769803776 bytes",
		"  multiProcessorCount           128",
		"  totalConstantMemory           65536",
		"  sharedMemPerBlock             49152",
		"  regsPerBlock                  65536",
		"  warpSize                      32",
		"  maxThreadsPerBlock            1024",
		"  blockDim[3]                   1024 x 1024 x 64",
		"  gridDim[3]                    2147483647 x 65535 x 65535",
		"  memPitch                      2147483647 bytes",
		"  textureAlign                  512 bytes",
		"  clockRate                     2.52 GHz",
		"  gpuOverlap                    1",
		"  integrated                    0",
		"  canMapHostMemory              1",
		"  computeMode                   0",
		"  kernelExecTimeoutEnabled      0",
	}, "\n")
	assert.Equal(t, want, d.GetDeviceInfo())
}

func TestDeviceInfo_EffectiveSharedMemory(t *testing.T) {
	tests := []struct {
		name   string
		major  int
		shared int
		pref   FuncCache
		want   int
	}{
		{"fermi+ prefers L1", 3, 49152, FuncCachePreferL1, 16384},
		{"sm_20 prefers L1", 2, 49152, FuncCachePreferL1, 16384},
		{"pre-fermi prefers L1", 1, 16384, FuncCachePreferL1, 16384},
		{"pre-fermi keeps raw value", 1, 8192, FuncCachePreferL1, 8192},
		{"no preference", 3, 49152, FuncCachePreferNone, 49152},
		{"prefers shared", 8, 49152, FuncCachePreferShared, 49152},
		{"prefers equal", 8, 49152, FuncCachePreferEqual, 49152},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := NewFakeBackend()
			fb.Devices[0].Major = tt.major
			fb.Devices[0].Attributes[AttrMaxSharedMemoryPerBlock] = tt.shared

			d, err := NewDeviceInfo(fb, 0)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.EffectiveSharedMemory(tt.pref))
		})
	}
}

func TestNewDeviceInfo_BestEffort(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	fb := NewFakeBackend()
	fb.AttributeErrs = map[Attribute]error{
		AttrClockRate: newQueryError("device attribute", 0, CodeNotSupported, "operation not supported"),
	}
	delete(fb.Devices[0].Attributes, AttrIntegrated)

	d, err := NewDeviceInfo(fb, 0, WithLogger(zap.New(core)))
	require.NoError(t, err)

	assert.Equal(t, 0, d.Properties().ClockRate)
	assert.Equal(t, 0, d.Properties().Integrated)
	assert.Equal(t, 128, d.MultiProcessorCount())
	assert.Contains(t, d.GetDeviceInfo(), "clockRate                     0.00 GHz")

	warnings := d.Warnings()
	require.Len(t, warnings, 2)
	assert.Equal(t, "clockRate", warnings[0].Attribute)
	assert.Equal(t, "integrated", warnings[1].Attribute)

	entries := logs.FilterMessage("Platform query failed").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "clockRate", entries[0].ContextMap()["attribute"])
	assert.EqualValues(t, 0, entries[0].ContextMap()["device"])
}

func TestNewDeviceInfo_Strict(t *testing.T) {
	fb := NewFakeBackend()
	fb.AttributeErrs = map[Attribute]error{
		AttrWarpSize: errors.New("warp size unavailable"),
		AttrMaxPitch: errors.New("pitch unavailable"),
	}

	d, err := NewDeviceInfo(fb, 0, WithStrict(true))
	assert.Nil(t, d)
	require.Error(t, err)
	assert.False(t, IsFatal(err))
	assert.Contains(t, err.Error(), "warpSize")
	assert.Contains(t, err.Error(), "memPitch")
}

func TestDeviceInfo_QueriesDoNotBind(t *testing.T) {
	fb := NewFakeBackend()
	fb.Devices = append(fb.Devices, MockRTX4090())

	for i := 0; i < 2; i++ {
		_, err := NewDeviceInfo(fb, i)
		require.NoError(t, err)
	}
	assert.Empty(t, fb.SetCalls())
	assert.Zero(t, fb.Resets())
}
