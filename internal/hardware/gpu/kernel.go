package gpu

import (
	"fmt"
	"strings"
)

// KernelInfo is the resource usage of one compiled kernel entry point.
type KernelInfo struct {
	handle KernelHandle
	attrs  KernelAttributes
}

// NewKernelInfo queries the attributes of the kernel identified by handle.
// A failed query is returned as a *QueryError whose message carries the
// platform's error string; callers are expected to handle it.
func NewKernelInfo(b Backend, handle KernelHandle) (*KernelInfo, error) {
	attrs, err := b.KernelAttributes(handle)
	if err != nil {
		qe := asQueryError(err, "kernel attributes", -1, "")
		cp := *qe
		cp.Message = "CUDA error: " + qe.Message
		return nil, &cp
	}
	return &KernelInfo{handle: handle, attrs: attrs}, nil
}

// GetKernelInfo returns the fixed-order multi-line kernel report.
func (k *KernelInfo) GetKernelInfo() string {
	summary := []string{
		"Kernel attributes:",
		fmt.Sprintf("  constSizeBytes:         %d", k.attrs.ConstSizeBytes),
		fmt.Sprintf("  localSizeBytes:         %d", k.attrs.LocalSizeBytes),
		fmt.Sprintf("  maxThreadsPerBlock:     %d", k.attrs.MaxThreadsPerBlock),
		fmt.Sprintf("  numRegs:                %d", k.attrs.NumRegs),
		fmt.Sprintf("  sharedSizeBytes:        %d", k.attrs.SharedSizeBytes),
	}
	return strings.Join(summary, "\n")
}

func (k *KernelInfo) Handle() KernelHandle         { return k.handle }
func (k *KernelInfo) SharedMemory() int            { return k.attrs.SharedSizeBytes }
func (k *KernelInfo) RegisterCount() int           { return k.attrs.NumRegs }
func (k *KernelInfo) MaxThreadsPerBlock() int      { return k.attrs.MaxThreadsPerBlock }
func (k *KernelInfo) Attributes() KernelAttributes { return k.attrs }
