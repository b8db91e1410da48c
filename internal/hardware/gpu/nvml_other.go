//go:build !linux

package gpu

import (
	"fmt"
	"runtime"
)

// NVML is only wired up on Linux. Elsewhere the nvml backend is registered
// so it shows up in Names, but it cannot be constructed.
func init() {
	Register("nvml", func(Options) (Backend, error) {
		return nil, fmt.Errorf("NVML backend not supported on %s", runtime.GOOS)
	})
}
