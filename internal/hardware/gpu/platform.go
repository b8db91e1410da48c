package gpu

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// PlatformInfo is the global platform state: device count and the CUDA
// driver and runtime versions. It is populated once by NewPlatformInfo.
type PlatformInfo struct {
	deviceCount    int
	driverVersion  int
	runtimeVersion int
	warnings       []*QueryError
}

// NewPlatformInfo initializes the platform and queries its global state.
//
// A platform that reports zero devices is a fatal precondition violation
// and yields a *PreconditionError wrapping ErrNoDevices. Init and device
// count failures yield a *QueryError. Version failures follow the query
// policy set by opts.
func NewPlatformInfo(b Backend, opts ...Option) (*PlatformInfo, error) {
	o := newQueryOptions(opts)

	if err := b.Init(); err != nil {
		return nil, asQueryError(err, "platform init", -1, "")
	}

	count, err := b.DeviceCount()
	if err != nil {
		return nil, asQueryError(err, "device count", -1, "")
	}
	if count == 0 {
		return nil, &PreconditionError{Err: ErrNoDevices}
	}

	p := &PlatformInfo{deviceCount: count}
	q := queryLog{opts: o}

	p.driverVersion, err = b.DriverVersion()
	q.record(err, "driver version", -1, "")

	p.runtimeVersion, err = b.RuntimeVersion()
	q.record(err, "runtime version", -1, "")

	if err := q.err(); err != nil {
		return nil, err
	}
	p.warnings = q.failures

	o.log.Debug("Platform queried",
		zap.String("backend", b.Name()),
		zap.Int("device_count", p.deviceCount),
		zap.String("driver_version", FormatVersion(p.driverVersion)),
		zap.String("runtime_version", FormatVersion(p.runtimeVersion)),
	)

	return p, nil
}

// FormatVersion renders an encoded CUDA version as major.minor using
// version/1000 and version%100.
func FormatVersion(version int) string {
	return fmt.Sprintf("%d.%d", version/1000, version%100)
}

// GetInfo returns the multi-line platform summary.
func (p *PlatformInfo) GetInfo() string {
	summary := []string{
		"CUDA info:",
		fmt.Sprintf("  Device Count:          %d", p.deviceCount),
		fmt.Sprintf("  CUDA Driver Version:   %s", FormatVersion(p.driverVersion)),
		fmt.Sprintf("  CUDA Runtime Version:  %s", FormatVersion(p.runtimeVersion)),
	}
	return strings.Join(summary, "\n")
}

func (p *PlatformInfo) DeviceCount() int    { return p.deviceCount }
func (p *PlatformInfo) DriverVersion() int  { return p.driverVersion }
func (p *PlatformInfo) RuntimeVersion() int { return p.runtimeVersion }

// Warnings returns the queries that failed under the best-effort policy.
func (p *PlatformInfo) Warnings() []*QueryError {
	return append([]*QueryError(nil), p.warnings...)
}
