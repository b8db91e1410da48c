//go:build linux

package gpu

import (
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

func init() {
	Register("nvml", func(Options) (Backend, error) {
		return NewNVMLBackend(), nil
	})
}

// NVMLBackend implements Backend using the NVML library.
//
// NVML is a management library: it reports device identity, memory, clocks
// and compute mode but none of the CUDA launch limits (warp size, block and
// grid dimensions, etc.), kernel attributes or thread device binding. Those
// queries fail with NVML's NOT_SUPPORTED code.
type NVMLBackend struct {
	// initialized tracks whether NVML has been initialized
	initialized bool

	// mu protects the initialized state
	mu sync.Mutex
}

// NewNVMLBackend creates a new NVML-based backend.
func NewNVMLBackend() *NVMLBackend {
	return &NVMLBackend{}
}

func nvmlError(op string, index int, ret nvml.Return) *QueryError {
	return newQueryError(op, index, int(ret), nvml.ErrorString(ret))
}

func (n *NVMLBackend) Name() string { return "nvml" }

// Init loads the NVIDIA driver library and establishes communication.
func (n *NVMLBackend) Init() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.initialized {
		return nil
	}
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		return nvmlError("platform init", -1, ret)
	}
	n.initialized = true
	return nil
}

func (n *NVMLBackend) DeviceCount() (int, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return 0, nvmlError("device count", -1, ret)
	}
	return count, nil
}

// DriverVersion returns the CUDA version supported by the driver,
// encoded as 1000*major + 10*minor.
func (n *NVMLBackend) DriverVersion() (int, error) {
	version, ret := nvml.SystemGetCudaDriverVersion()
	if ret != nvml.SUCCESS {
		return 0, nvmlError("driver version", -1, ret)
	}
	return version, nil
}

func (n *NVMLBackend) RuntimeVersion() (int, error) {
	return 0, nvmlError("runtime version", -1, nvml.ERROR_NOT_SUPPORTED)
}

// handle gets the opaque NVML device handle used by all per-device calls.
func (n *NVMLBackend) handle(op string, index int) (nvml.Device, error) {
	device, ret := nvml.DeviceGetHandleByIndex(index)
	if ret != nvml.SUCCESS {
		return nil, nvmlError(op, index, ret)
	}
	return device, nil
}

func (n *NVMLBackend) DeviceName(index int) (string, error) {
	device, err := n.handle("device name", index)
	if err != nil {
		return "", err
	}
	name, ret := device.GetName()
	if ret != nvml.SUCCESS {
		return "", nvmlError("device name", index, ret)
	}
	return name, nil
}

func (n *NVMLBackend) ComputeCapability(index int) (int, int, error) {
	device, err := n.handle("compute capability", index)
	if err != nil {
		return 0, 0, err
	}
	major, minor, ret := device.GetCudaComputeCapability()
	if ret != nvml.SUCCESS {
		return 0, 0, nvmlError("compute capability", index, ret)
	}
	return major, minor, nil
}

func (n *NVMLBackend) TotalMemory(index int) (uint64, error) {
	device, err := n.handle("total memory", index)
	if err != nil {
		return 0, err
	}
	memInfo, ret := device.GetMemoryInfo()
	if ret != nvml.SUCCESS {
		return 0, nvmlError("total memory", index, ret)
	}
	return memInfo.Total, nil
}

func (n *NVMLBackend) Attribute(index int, attr Attribute) (int, error) {
	device, err := n.handle("device attribute", index)
	if err != nil {
		return 0, err
	}

	switch attr {
	case AttrClockRate:
		// Max SM clock in MHz -> kHz
		mhz, ret := device.GetMaxClockInfo(nvml.CLOCK_SM)
		if ret != nvml.SUCCESS {
			return 0, nvmlError("device attribute", index, ret)
		}
		return int(mhz) * 1000, nil
	case AttrComputeMode:
		// NVML compute modes share CUDA's numbering
		mode, ret := device.GetComputeMode()
		if ret != nvml.SUCCESS {
			return 0, nvmlError("device attribute", index, ret)
		}
		return int(mode), nil
	}
	return 0, nvmlError("device attribute", index, nvml.ERROR_NOT_SUPPORTED)
}

func (n *NVMLBackend) KernelAttributes(KernelHandle) (KernelAttributes, error) {
	return KernelAttributes{}, nvmlError("kernel attributes", -1, nvml.ERROR_NOT_SUPPORTED)
}

func (n *NVMLBackend) SetDevice(index int) error {
	return nvmlError("set device", index, nvml.ERROR_NOT_SUPPORTED)
}

func (n *NVMLBackend) CurrentDevice() (int, error) {
	return 0, nvmlError("current device", -1, nvml.ERROR_NOT_SUPPORTED)
}

// Close shuts down NVML and releases all resources.
func (n *NVMLBackend) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.initialized {
		return nil
	}
	if ret := nvml.Shutdown(); ret != nvml.SUCCESS {
		return nvmlError("shutdown", -1, ret)
	}
	n.initialized = false
	return nil
}
