package gpu

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// l1PreferredSharedMemory is the shared memory left to a kernel that prefers
// L1 cache on compute capability 2.x and later.
const l1PreferredSharedMemory = 16 * (1 << 10)

// DeviceProperties contains the static capability attributes of one device.
type DeviceProperties struct {
	// Index is the device index as enumerated by the platform (0-based)
	Index int `json:"index" yaml:"index"`

	// Name is the product name (e.g., "NVIDIA GeForce RTX 4090")
	Name string `json:"name" yaml:"name"`

	// Major and Minor are the compute capability revision numbers
	Major int `json:"major" yaml:"major"`
	Minor int `json:"minor" yaml:"minor"`

	// TotalGlobalMem is the total device memory in bytes
	TotalGlobalMem uint64 `json:"total_global_mem" yaml:"total_global_mem"`

	MultiProcessorCount int `json:"multi_processor_count" yaml:"multi_processor_count"`
	TotalConstantMemory int `json:"total_constant_memory" yaml:"total_constant_memory"`
	SharedMemPerBlock   int `json:"shared_mem_per_block" yaml:"shared_mem_per_block"`
	RegsPerBlock        int `json:"regs_per_block" yaml:"regs_per_block"`
	WarpSize            int `json:"warp_size" yaml:"warp_size"`
	MaxThreadsPerBlock  int `json:"max_threads_per_block" yaml:"max_threads_per_block"`

	// MaxBlockDim and MaxGridDim are per-axis limits (x, y, z)
	MaxBlockDim [3]int `json:"max_block_dim" yaml:"max_block_dim"`
	MaxGridDim  [3]int `json:"max_grid_dim" yaml:"max_grid_dim"`

	MemPitch     int `json:"mem_pitch" yaml:"mem_pitch"`
	TextureAlign int `json:"texture_align" yaml:"texture_align"`

	// ClockRate is the peak clock frequency in kilohertz
	ClockRate int `json:"clock_rate_khz" yaml:"clock_rate_khz"`

	GPUOverlap               int `json:"gpu_overlap" yaml:"gpu_overlap"`
	KernelExecTimeoutEnabled int `json:"kernel_exec_timeout_enabled" yaml:"kernel_exec_timeout_enabled"`
	Integrated               int `json:"integrated" yaml:"integrated"`
	CanMapHostMemory         int `json:"can_map_host_memory" yaml:"can_map_host_memory"`
	ComputeMode              int `json:"compute_mode" yaml:"compute_mode"`
}

// field returns the property slot an attribute query writes to.
func (p *DeviceProperties) field(attr Attribute) *int {
	switch attr {
	case AttrMultiProcessorCount:
		return &p.MultiProcessorCount
	case AttrTotalConstantMemory:
		return &p.TotalConstantMemory
	case AttrMaxSharedMemoryPerBlock:
		return &p.SharedMemPerBlock
	case AttrMaxRegistersPerBlock:
		return &p.RegsPerBlock
	case AttrWarpSize:
		return &p.WarpSize
	case AttrMaxThreadsPerBlock:
		return &p.MaxThreadsPerBlock
	case AttrMaxBlockDimX:
		return &p.MaxBlockDim[0]
	case AttrMaxBlockDimY:
		return &p.MaxBlockDim[1]
	case AttrMaxBlockDimZ:
		return &p.MaxBlockDim[2]
	case AttrMaxGridDimX:
		return &p.MaxGridDim[0]
	case AttrMaxGridDimY:
		return &p.MaxGridDim[1]
	case AttrMaxGridDimZ:
		return &p.MaxGridDim[2]
	case AttrMaxPitch:
		return &p.MemPitch
	case AttrTextureAlignment:
		return &p.TextureAlign
	case AttrClockRate:
		return &p.ClockRate
	case AttrGPUOverlap:
		return &p.GPUOverlap
	case AttrKernelExecTimeout:
		return &p.KernelExecTimeoutEnabled
	case AttrIntegrated:
		return &p.Integrated
	case AttrCanMapHostMemory:
		return &p.CanMapHostMemory
	case AttrComputeMode:
		return &p.ComputeMode
	}
	return nil
}

// DeviceInfo is one device's capability attributes, queried once at
// construction. Querying a DeviceInfo never changes the active device;
// only SetDevice does.
type DeviceInfo struct {
	props    DeviceProperties
	warnings []*QueryError
}

// NewDeviceInfo initializes the platform and runs the fixed sequence of
// attribute queries for the device at index.
func NewDeviceInfo(b Backend, index int, opts ...Option) (*DeviceInfo, error) {
	o := newQueryOptions(opts)

	if index < 0 {
		return nil, newQueryError("device lookup", index, CodeInvalidDevice,
			fmt.Sprintf("invalid device index %d", index))
	}

	if err := b.Init(); err != nil {
		return nil, asQueryError(err, "platform init", -1, "")
	}

	d := &DeviceInfo{props: DeviceProperties{Index: index}}
	q := queryLog{opts: o}
	var err error

	d.props.Name, err = b.DeviceName(index)
	q.record(err, "device name", index, "")

	d.props.Major, d.props.Minor, err = b.ComputeCapability(index)
	q.record(err, "compute capability", index, "")

	d.props.TotalGlobalMem, err = b.TotalMemory(index)
	q.record(err, "total memory", index, "")

	for _, attr := range deviceAttributes {
		v, err := b.Attribute(index, attr)
		if err != nil {
			q.record(err, "device attribute", index, attr.String())
			continue
		}
		*d.props.field(attr) = v
	}

	if err := q.err(); err != nil {
		return nil, err
	}
	d.warnings = q.failures

	o.log.Debug("Device queried",
		zap.Int("index", index),
		zap.String("name", d.props.Name),
		zap.String("compute_capability", fmt.Sprintf("%d.%d", d.props.Major, d.props.Minor)),
		zap.String("total_memory", humanize.IBytes(d.props.TotalGlobalMem)),
		zap.Int("failed_queries", len(d.warnings)),
	)

	return d, nil
}

// GetDeviceInfo returns the fixed-order multi-line device report.
func (d *DeviceInfo) GetDeviceInfo() string {
	p := d.props
	summary := []string{
		fmt.Sprintf("Device name:    %s", p.Name),
		fmt.Sprintf("  CUDA Cap. Major revision #:   %d", p.Major),
		fmt.Sprintf("  CUDA Cap. Minor revision #:   %d", p.Minor),
		fmt.Sprintf("  totalGlobalMem                %d bytes", p.TotalGlobalMem),
		fmt.Sprintf("  multiProcessorCount           %d", p.MultiProcessorCount),
		fmt.Sprintf("  totalConstantMemory           %d", p.TotalConstantMemory),
		fmt.Sprintf("  sharedMemPerBlock             %d", p.SharedMemPerBlock),
		fmt.Sprintf("  regsPerBlock                  %d", p.RegsPerBlock),
		fmt.Sprintf("  warpSize                      %d", p.WarpSize),
		fmt.Sprintf("  maxThreadsPerBlock            %d", p.MaxThreadsPerBlock),
		fmt.Sprintf("  blockDim[3]                   %d x %d x %d",
			p.MaxBlockDim[0], p.MaxBlockDim[1], p.MaxBlockDim[2]),
		fmt.Sprintf("  gridDim[3]                    %d x %d x %d",
			p.MaxGridDim[0], p.MaxGridDim[1], p.MaxGridDim[2]),
		fmt.Sprintf("  memPitch                      %d bytes", p.MemPitch),
		fmt.Sprintf("  textureAlign                  %d bytes", p.TextureAlign),
		fmt.Sprintf("  clockRate                     %.2f GHz", float64(p.ClockRate)*1e-6),
		fmt.Sprintf("  gpuOverlap                    %d", p.GPUOverlap),
		fmt.Sprintf("  integrated                    %d", p.Integrated),
		fmt.Sprintf("  canMapHostMemory              %d", p.CanMapHostMemory),
		fmt.Sprintf("  computeMode                   %d", p.ComputeMode),
		fmt.Sprintf("  kernelExecTimeoutEnabled      %d", p.KernelExecTimeoutEnabled),
	}
	return strings.Join(summary, "\n")
}

// EffectiveSharedMemory returns the shared memory per block available to a
// kernel with the given cache preference. Devices of compute capability 2.x
// and later give L1-preferring kernels a fixed 16 KiB.
func (d *DeviceInfo) EffectiveSharedMemory(pref FuncCache) int {
	if pref == FuncCachePreferL1 && d.props.Major >= 2 {
		return l1PreferredSharedMemory
	}
	return d.props.SharedMemPerBlock
}

// SetDevice makes this device the active device of the calling thread.
// It mutates the process-wide binding, not this DeviceInfo.
func (d *DeviceInfo) SetDevice(binding *Binding) error {
	return binding.Set(d.props.Index)
}

func (d *DeviceInfo) Index() int               { return d.props.Index }
func (d *DeviceInfo) Name() string             { return d.props.Name }
func (d *DeviceInfo) Major() int               { return d.props.Major }
func (d *DeviceInfo) Minor() int               { return d.props.Minor }
func (d *DeviceInfo) MultiProcessorCount() int { return d.props.MultiProcessorCount }
func (d *DeviceInfo) MaxSharedMemory() int     { return d.props.SharedMemPerBlock }
func (d *DeviceInfo) MaxThreadsPerBlock() int  { return d.props.MaxThreadsPerBlock }
func (d *DeviceInfo) MaxRegsPerBlock() int     { return d.props.RegsPerBlock }

// Properties returns a copy of all queried attributes.
func (d *DeviceInfo) Properties() DeviceProperties { return d.props }

// Warnings returns the queries that failed under the best-effort policy.
func (d *DeviceInfo) Warnings() []*QueryError {
	return append([]*QueryError(nil), d.warnings...)
}
