// Package gpu provides NVIDIA GPU platform, device and kernel queries.
// It defines the Backend interface that the query facades are built on and
// the backends that implement it (CUDA, NVML, nvidia-smi and an in-memory fake).
package gpu

// Attribute identifies one scalar device property that a Backend can report.
type Attribute int

const (
	AttrMultiProcessorCount Attribute = iota
	AttrTotalConstantMemory
	AttrMaxSharedMemoryPerBlock
	AttrMaxRegistersPerBlock
	AttrWarpSize
	AttrMaxThreadsPerBlock
	AttrMaxBlockDimX
	AttrMaxBlockDimY
	AttrMaxBlockDimZ
	AttrMaxGridDimX
	AttrMaxGridDimY
	AttrMaxGridDimZ
	AttrMaxPitch
	AttrTextureAlignment
	// AttrClockRate is the peak clock frequency in kilohertz.
	AttrClockRate
	AttrGPUOverlap
	AttrKernelExecTimeout
	AttrIntegrated
	AttrCanMapHostMemory
	AttrComputeMode
)

var attributeNames = map[Attribute]string{
	AttrMultiProcessorCount:     "multiProcessorCount",
	AttrTotalConstantMemory:     "totalConstantMemory",
	AttrMaxSharedMemoryPerBlock: "sharedMemPerBlock",
	AttrMaxRegistersPerBlock:    "regsPerBlock",
	AttrWarpSize:                "warpSize",
	AttrMaxThreadsPerBlock:      "maxThreadsPerBlock",
	AttrMaxBlockDimX:            "maxBlockDimX",
	AttrMaxBlockDimY:            "maxBlockDimY",
	AttrMaxBlockDimZ:            "maxBlockDimZ",
	AttrMaxGridDimX:             "maxGridDimX",
	AttrMaxGridDimY:             "maxGridDimY",
	AttrMaxGridDimZ:             "maxGridDimZ",
	AttrMaxPitch:                "memPitch",
	AttrTextureAlignment:        "textureAlign",
	AttrClockRate:               "clockRate",
	AttrGPUOverlap:              "gpuOverlap",
	AttrKernelExecTimeout:       "kernelExecTimeoutEnabled",
	AttrIntegrated:              "integrated",
	AttrCanMapHostMemory:        "canMapHostMemory",
	AttrComputeMode:             "computeMode",
}

// String returns the attribute name used in reports and log fields.
func (a Attribute) String() string {
	if name, ok := attributeNames[a]; ok {
		return name
	}
	return "unknown"
}

// deviceAttributes is the fixed order in which DeviceInfo queries attributes.
var deviceAttributes = []Attribute{
	AttrMultiProcessorCount,
	AttrTotalConstantMemory,
	AttrMaxSharedMemoryPerBlock,
	AttrMaxRegistersPerBlock,
	AttrWarpSize,
	AttrMaxThreadsPerBlock,
	AttrMaxBlockDimX,
	AttrMaxBlockDimY,
	AttrMaxBlockDimZ,
	AttrMaxGridDimX,
	AttrMaxGridDimY,
	AttrMaxGridDimZ,
	AttrMaxPitch,
	AttrTextureAlignment,
	AttrClockRate,
	AttrGPUOverlap,
	AttrKernelExecTimeout,
	AttrIntegrated,
	AttrCanMapHostMemory,
	AttrComputeMode,
}

// KernelHandle is an opaque reference to a compiled kernel entry point.
// Handles are produced by whatever loaded the kernel (see KernelLoader);
// this package never interprets them.
type KernelHandle uintptr

// KernelAttributes contains the resource usage of one compiled kernel.
type KernelAttributes struct {
	// ConstSizeBytes is the size of user-allocated constant memory
	ConstSizeBytes int `json:"const_size_bytes" yaml:"const_size_bytes"`

	// LocalSizeBytes is the size of local memory used by each thread
	LocalSizeBytes int `json:"local_size_bytes" yaml:"local_size_bytes"`

	// MaxThreadsPerBlock is the maximum block size the kernel can be launched with
	MaxThreadsPerBlock int `json:"max_threads_per_block" yaml:"max_threads_per_block"`

	// NumRegs is the number of registers used by each thread
	NumRegs int `json:"num_regs" yaml:"num_regs"`

	// SharedSizeBytes is the size of statically-allocated shared memory
	SharedSizeBytes int `json:"shared_size_bytes" yaml:"shared_size_bytes"`
}

// FuncCache is a kernel's preferred split between L1 cache and shared memory.
type FuncCache int

const (
	FuncCachePreferNone FuncCache = iota
	FuncCachePreferShared
	FuncCachePreferL1
	FuncCachePreferEqual
)

// Backend is the device query capability the facades are built on.
// Production backends forward to vendor libraries; FakeBackend serves
// fixtures so formatting and policy can be tested without hardware.
//
// Failed queries return a *QueryError carrying the platform error code.
type Backend interface {
	// Name returns the registry name of the backend.
	Name() string

	// Init initializes the platform. It must be safe to call more than once.
	Init() error

	DeviceCount() (int, error)
	DriverVersion() (int, error)
	RuntimeVersion() (int, error)

	DeviceName(index int) (string, error)
	ComputeCapability(index int) (major, minor int, err error)
	TotalMemory(index int) (uint64, error)
	Attribute(index int, attr Attribute) (int, error)

	KernelAttributes(handle KernelHandle) (KernelAttributes, error)

	// SetDevice tears down any device context of the calling OS thread and
	// binds the thread's subsequent GPU operations to index.
	SetDevice(index int) error

	// CurrentDevice returns the device the calling OS thread is bound to.
	CurrentDevice() (int, error)

	// Close releases any resources held by the backend.
	Close() error
}

// KernelLoader is implemented by backends that can load compiled modules
// and resolve kernel entry points in them.
//
// A handle is only valid on the OS thread that loaded it. Callers lock the
// goroutine to its thread across LoadKernel and the KernelAttributes calls
// for the returned handle.
type KernelLoader interface {
	LoadKernel(modulePath, entry string) (KernelHandle, error)
}
