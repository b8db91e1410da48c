package gpu

import (
	"fmt"
	"sync"
)

// FakeDevice is one device served by FakeBackend.
type FakeDevice struct {
	Name        string
	Major       int
	Minor       int
	TotalMemory uint64
	Attributes  map[Attribute]int
}

// FakeBackend is an in-memory Backend serving fixture values. It backs the
// unit tests and the dev-mode mock GPU. Error fields inject query failures.
type FakeBackend struct {
	Devices []FakeDevice
	Driver  int
	Runtime int

	Kernels map[KernelHandle]KernelAttributes

	// Modules maps "path:entry" to the handle LoadKernel returns
	Modules map[string]KernelHandle

	InitErr       error
	CountErr      error
	DriverErr     error
	RuntimeErr    error
	AttributeErrs map[Attribute]error
	KernelErrs    map[KernelHandle]error

	mu        sync.Mutex
	initCalls int
	current   int
	resets    int
	setCalls  []int
}

// NewFakeBackend returns a FakeBackend with one mock RTX 4090.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		Devices: []FakeDevice{MockRTX4090()},
		Driver:  12040,
		Runtime: 12030,
		Kernels: map[KernelHandle]KernelAttributes{
			1: {ConstSizeBytes: 0, LocalSizeBytes: 0, MaxThreadsPerBlock: 1024, NumRegs: 32, SharedSizeBytes: 4096},
		},
		Modules: map[string]KernelHandle{
			"mock.cubin:vectorAdd": 1,
		},
	}
}

// MockRTX4090 returns fixture values for an Ada generation device.
func MockRTX4090() FakeDevice {
	return FakeDevice{
		Name:        "Mock NVIDIA GeForce RTX 4090",
		Major:       8,
		Minor:       9,
		TotalMemory: 24 << 30,
		Attributes: map[Attribute]int{
			AttrMultiProcessorCount:     128,
			AttrTotalConstantMemory:     65536,
			AttrMaxSharedMemoryPerBlock: 49152,
			AttrMaxRegistersPerBlock:    65536,
			AttrWarpSize:                32,
			AttrMaxThreadsPerBlock:      1024,
			AttrMaxBlockDimX:            1024,
			AttrMaxBlockDimY:            1024,
			AttrMaxBlockDimZ:            64,
			AttrMaxGridDimX:             2147483647,
			AttrMaxGridDimY:             65535,
			AttrMaxGridDimZ:             65535,
			AttrMaxPitch:                2147483647,
			AttrTextureAlignment:        512,
			AttrClockRate:               2520000,
			AttrGPUOverlap:              1,
			AttrKernelExecTimeout:       0,
			AttrIntegrated:              0,
			AttrCanMapHostMemory:        1,
			AttrComputeMode:             0,
		},
	}
}

func (f *FakeBackend) Name() string { return "fake" }

func (f *FakeBackend) Init() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls++
	return f.InitErr
}

func (f *FakeBackend) DeviceCount() (int, error) {
	if f.CountErr != nil {
		return 0, f.CountErr
	}
	return len(f.Devices), nil
}

func (f *FakeBackend) DriverVersion() (int, error) {
	if f.DriverErr != nil {
		return 0, f.DriverErr
	}
	return f.Driver, nil
}

func (f *FakeBackend) RuntimeVersion() (int, error) {
	if f.RuntimeErr != nil {
		return 0, f.RuntimeErr
	}
	return f.Runtime, nil
}

func (f *FakeBackend) device(op string, index int) (*FakeDevice, error) {
	if index < 0 || index >= len(f.Devices) {
		return nil, newQueryError(op, index, CodeInvalidDevice, "invalid device ordinal")
	}
	return &f.Devices[index], nil
}

func (f *FakeBackend) DeviceName(index int) (string, error) {
	d, err := f.device("device name", index)
	if err != nil {
		return "", err
	}
	return d.Name, nil
}

func (f *FakeBackend) ComputeCapability(index int) (int, int, error) {
	d, err := f.device("compute capability", index)
	if err != nil {
		return 0, 0, err
	}
	return d.Major, d.Minor, nil
}

func (f *FakeBackend) TotalMemory(index int) (uint64, error) {
	d, err := f.device("total memory", index)
	if err != nil {
		return 0, err
	}
	return d.TotalMemory, nil
}

func (f *FakeBackend) Attribute(index int, attr Attribute) (int, error) {
	d, err := f.device("device attribute", index)
	if err != nil {
		return 0, err
	}
	if err := f.AttributeErrs[attr]; err != nil {
		return 0, err
	}
	v, ok := d.Attributes[attr]
	if !ok {
		qe := newQueryError("device attribute", index, CodeNotSupported, "operation not supported")
		qe.Attribute = attr.String()
		return 0, qe
	}
	return v, nil
}

func (f *FakeBackend) KernelAttributes(handle KernelHandle) (KernelAttributes, error) {
	if err := f.KernelErrs[handle]; err != nil {
		return KernelAttributes{}, err
	}
	attrs, ok := f.Kernels[handle]
	if !ok {
		return KernelAttributes{}, newQueryError("kernel attributes", -1, CodeInvalidValue, "invalid device function")
	}
	return attrs, nil
}

// LoadKernel resolves "path:entry" through Modules.
func (f *FakeBackend) LoadKernel(modulePath, entry string) (KernelHandle, error) {
	h, ok := f.Modules[modulePath+":"+entry]
	if !ok {
		return 0, newQueryError("load kernel", -1, CodeNotFound,
			fmt.Sprintf("named symbol not found: %s in %s", entry, modulePath))
	}
	return h, nil
}

func (f *FakeBackend) SetDevice(index int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if index < 0 || index >= len(f.Devices) {
		return newQueryError("set device", index, CodeInvalidDevice, "invalid device ordinal")
	}
	f.resets++
	f.current = index
	f.setCalls = append(f.setCalls, index)
	return nil
}

func (f *FakeBackend) CurrentDevice() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current, nil
}

func (f *FakeBackend) Close() error { return nil }

// Resets returns how many device contexts SetDevice tore down.
func (f *FakeBackend) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// SetCalls returns the indices passed to SetDevice, in order.
func (f *FakeBackend) SetCalls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.setCalls...)
}

// InitCalls returns how many times Init was called.
func (f *FakeBackend) InitCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initCalls
}
