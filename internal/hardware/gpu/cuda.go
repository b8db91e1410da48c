//go:build cuda

package gpu

/*
#cgo LDFLAGS: -lcuda -lcudart
#include <cuda.h>
#include <cuda_runtime_api.h>
#include <stdlib.h>

static const char* cuErrorString(CUresult res) {
	const char* msg = NULL;
	if (cuGetErrorString(res, &msg) != CUDA_SUCCESS || msg == NULL) {
		return "unrecognized error code";
	}
	return msg;
}

// cuDeviceTotalMem is a macro for the _v2 entry point
static CUresult deviceTotalMem(size_t* bytes, CUdevice dev) {
	return cuDeviceTotalMem(bytes, dev);
}
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

func init() {
	Register("cuda", func(Options) (Backend, error) {
		return NewCUDABackend(), nil
	})
}

// cudaAttributes maps attributes to CUDA driver API attribute codes.
var cudaAttributes = map[Attribute]C.CUdevice_attribute{
	AttrMultiProcessorCount:     C.CU_DEVICE_ATTRIBUTE_MULTIPROCESSOR_COUNT,
	AttrTotalConstantMemory:     C.CU_DEVICE_ATTRIBUTE_TOTAL_CONSTANT_MEMORY,
	AttrMaxSharedMemoryPerBlock: C.CU_DEVICE_ATTRIBUTE_MAX_SHARED_MEMORY_PER_BLOCK,
	AttrMaxRegistersPerBlock:    C.CU_DEVICE_ATTRIBUTE_MAX_REGISTERS_PER_BLOCK,
	AttrWarpSize:                C.CU_DEVICE_ATTRIBUTE_WARP_SIZE,
	AttrMaxThreadsPerBlock:      C.CU_DEVICE_ATTRIBUTE_MAX_THREADS_PER_BLOCK,
	AttrMaxBlockDimX:            C.CU_DEVICE_ATTRIBUTE_MAX_BLOCK_DIM_X,
	AttrMaxBlockDimY:            C.CU_DEVICE_ATTRIBUTE_MAX_BLOCK_DIM_Y,
	AttrMaxBlockDimZ:            C.CU_DEVICE_ATTRIBUTE_MAX_BLOCK_DIM_Z,
	AttrMaxGridDimX:             C.CU_DEVICE_ATTRIBUTE_MAX_GRID_DIM_X,
	AttrMaxGridDimY:             C.CU_DEVICE_ATTRIBUTE_MAX_GRID_DIM_Y,
	AttrMaxGridDimZ:             C.CU_DEVICE_ATTRIBUTE_MAX_GRID_DIM_Z,
	AttrMaxPitch:                C.CU_DEVICE_ATTRIBUTE_MAX_PITCH,
	AttrTextureAlignment:        C.CU_DEVICE_ATTRIBUTE_TEXTURE_ALIGNMENT,
	AttrClockRate:               C.CU_DEVICE_ATTRIBUTE_CLOCK_RATE,
	AttrGPUOverlap:              C.CU_DEVICE_ATTRIBUTE_GPU_OVERLAP,
	AttrKernelExecTimeout:       C.CU_DEVICE_ATTRIBUTE_KERNEL_EXEC_TIMEOUT,
	AttrIntegrated:              C.CU_DEVICE_ATTRIBUTE_INTEGRATED,
	AttrCanMapHostMemory:        C.CU_DEVICE_ATTRIBUTE_CAN_MAP_HOST_MEMORY,
	AttrComputeMode:             C.CU_DEVICE_ATTRIBUTE_COMPUTE_MODE,
}

// CUDABackend implements Backend over the CUDA driver and runtime APIs.
// It is the only backend that reports every attribute, kernel attributes
// and thread device binding.
type CUDABackend struct {
	mu          sync.Mutex
	initialized bool
	modules     []C.CUmodule
}

// NewCUDABackend creates a new CUDA backend.
func NewCUDABackend() *CUDABackend {
	return &CUDABackend{}
}

func cuError(op string, index int, res C.CUresult) *QueryError {
	return newQueryError(op, index, int(res), C.GoString(C.cuErrorString(res)))
}

func cudaRTError(op string, index int, res C.cudaError_t) *QueryError {
	return newQueryError(op, index, int(res), C.GoString(C.cudaGetErrorString(res)))
}

func (c *CUDABackend) Name() string { return "cuda" }

func (c *CUDABackend) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initialized {
		return nil
	}
	if res := C.cuInit(0); res != C.CUDA_SUCCESS {
		return cuError("platform init", -1, res)
	}
	c.initialized = true
	return nil
}

func (c *CUDABackend) DeviceCount() (int, error) {
	var count C.int
	if res := C.cuDeviceGetCount(&count); res != C.CUDA_SUCCESS {
		return 0, cuError("device count", -1, res)
	}
	return int(count), nil
}

func (c *CUDABackend) DriverVersion() (int, error) {
	var version C.int
	if res := C.cuDriverGetVersion(&version); res != C.CUDA_SUCCESS {
		return 0, cuError("driver version", -1, res)
	}
	return int(version), nil
}

func (c *CUDABackend) RuntimeVersion() (int, error) {
	var version C.int
	if res := C.cudaRuntimeGetVersion(&version); res != C.cudaSuccess {
		return 0, cudaRTError("runtime version", -1, res)
	}
	return int(version), nil
}

func (c *CUDABackend) device(op string, index int) (C.CUdevice, error) {
	var dev C.CUdevice
	if res := C.cuDeviceGet(&dev, C.int(index)); res != C.CUDA_SUCCESS {
		return 0, cuError(op, index, res)
	}
	return dev, nil
}

func (c *CUDABackend) DeviceName(index int) (string, error) {
	dev, err := c.device("device name", index)
	if err != nil {
		return "", err
	}
	var buf [256]C.char
	if res := C.cuDeviceGetName(&buf[0], C.int(len(buf)), dev); res != C.CUDA_SUCCESS {
		return "", cuError("device name", index, res)
	}
	return C.GoString(&buf[0]), nil
}

func (c *CUDABackend) ComputeCapability(index int) (int, int, error) {
	dev, err := c.device("compute capability", index)
	if err != nil {
		return 0, 0, err
	}
	var major, minor C.int
	if res := C.cuDeviceGetAttribute(&major, C.CU_DEVICE_ATTRIBUTE_COMPUTE_CAPABILITY_MAJOR, dev); res != C.CUDA_SUCCESS {
		return 0, 0, cuError("compute capability", index, res)
	}
	if res := C.cuDeviceGetAttribute(&minor, C.CU_DEVICE_ATTRIBUTE_COMPUTE_CAPABILITY_MINOR, dev); res != C.CUDA_SUCCESS {
		return 0, 0, cuError("compute capability", index, res)
	}
	return int(major), int(minor), nil
}

func (c *CUDABackend) TotalMemory(index int) (uint64, error) {
	dev, err := c.device("total memory", index)
	if err != nil {
		return 0, err
	}
	var bytes C.size_t
	if res := C.deviceTotalMem(&bytes, dev); res != C.CUDA_SUCCESS {
		return 0, cuError("total memory", index, res)
	}
	return uint64(bytes), nil
}

func (c *CUDABackend) Attribute(index int, attr Attribute) (int, error) {
	code, ok := cudaAttributes[attr]
	if !ok {
		return 0, newQueryError("device attribute", index, CodeInvalidValue, "unknown attribute")
	}
	dev, err := c.device("device attribute", index)
	if err != nil {
		return 0, err
	}
	var v C.int
	if res := C.cuDeviceGetAttribute(&v, code, dev); res != C.CUDA_SUCCESS {
		return 0, cuError("device attribute", index, res)
	}
	return int(v), nil
}

func (c *CUDABackend) KernelAttributes(handle KernelHandle) (KernelAttributes, error) {
	fn := C.CUfunction(unsafe.Pointer(uintptr(handle)))

	get := func(attr C.CUfunction_attribute) (int, error) {
		var v C.int
		if res := C.cuFuncGetAttribute(&v, attr, fn); res != C.CUDA_SUCCESS {
			return 0, cuError("kernel attributes", -1, res)
		}
		return int(v), nil
	}

	var attrs KernelAttributes
	var err error
	if attrs.ConstSizeBytes, err = get(C.CU_FUNC_ATTRIBUTE_CONST_SIZE_BYTES); err != nil {
		return KernelAttributes{}, err
	}
	if attrs.LocalSizeBytes, err = get(C.CU_FUNC_ATTRIBUTE_LOCAL_SIZE_BYTES); err != nil {
		return KernelAttributes{}, err
	}
	if attrs.MaxThreadsPerBlock, err = get(C.CU_FUNC_ATTRIBUTE_MAX_THREADS_PER_BLOCK); err != nil {
		return KernelAttributes{}, err
	}
	if attrs.NumRegs, err = get(C.CU_FUNC_ATTRIBUTE_NUM_REGS); err != nil {
		return KernelAttributes{}, err
	}
	if attrs.SharedSizeBytes, err = get(C.CU_FUNC_ATTRIBUTE_SHARED_SIZE_BYTES); err != nil {
		return KernelAttributes{}, err
	}
	return attrs, nil
}

// LoadKernel loads a cubin/PTX/fatbin module into the primary context of the
// current device and returns the handle of entry.
func (c *CUDABackend) LoadKernel(modulePath, entry string) (KernelHandle, error) {
	// Make sure the runtime has created the primary context.
	if res := C.cudaFree(nil); res != C.cudaSuccess {
		return 0, cudaRTError("load kernel", -1, res)
	}

	cPath := C.CString(modulePath)
	defer C.free(unsafe.Pointer(cPath))
	cEntry := C.CString(entry)
	defer C.free(unsafe.Pointer(cEntry))

	var mod C.CUmodule
	if res := C.cuModuleLoad(&mod, cPath); res != C.CUDA_SUCCESS {
		qe := cuError("load kernel", -1, res)
		qe.Message = fmt.Sprintf("%s: %s", modulePath, qe.Message)
		return 0, qe
	}

	c.mu.Lock()
	c.modules = append(c.modules, mod)
	c.mu.Unlock()

	var fn C.CUfunction
	if res := C.cuModuleGetFunction(&fn, mod, cEntry); res != C.CUDA_SUCCESS {
		qe := cuError("load kernel", -1, res)
		qe.Message = fmt.Sprintf("%s in %s: %s", entry, modulePath, qe.Message)
		return 0, qe
	}
	return KernelHandle(uintptr(unsafe.Pointer(fn))), nil
}

// SetDevice resets the calling thread's current device, destroying its
// primary context, then makes index current.
func (c *CUDABackend) SetDevice(index int) error {
	if res := C.cudaDeviceReset(); res != C.cudaSuccess {
		return cudaRTError("set device", index, res)
	}
	if res := C.cudaSetDevice(C.int(index)); res != C.cudaSuccess {
		return cudaRTError("set device", index, res)
	}
	return nil
}

func (c *CUDABackend) CurrentDevice() (int, error) {
	var dev C.int
	if res := C.cudaGetDevice(&dev); res != C.cudaSuccess {
		return 0, cudaRTError("current device", -1, res)
	}
	return int(dev), nil
}

// Close unloads the modules loaded by LoadKernel.
func (c *CUDABackend) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, mod := range c.modules {
		C.cuModuleUnload(mod)
	}
	c.modules = nil
	return nil
}
