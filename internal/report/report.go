// Package report assembles the results of one query run and renders them.
package report

import (
	"github.com/samber/lo"

	"github.com/depin-agent/cudainfo/internal/hardware/gpu"
	"github.com/depin-agent/cudainfo/internal/hardware/host"
)

// Platform is the serializable form of a PlatformInfo.
type Platform struct {
	Backend        string `json:"backend" yaml:"backend"`
	DeviceCount    int    `json:"device_count" yaml:"device_count"`
	DriverVersion  string `json:"driver_version" yaml:"driver_version"`
	RuntimeVersion string `json:"runtime_version" yaml:"runtime_version"`
}

// Kernel is one reported kernel entry point.
type Kernel struct {
	// Ref is the "module:entry" reference the kernel was loaded from
	Ref string `json:"ref" yaml:"ref"`
	// Error is set when the kernel could not be loaded or queried
	Error string `json:"error,omitempty" yaml:"error,omitempty"`

	gpu.KernelAttributes `yaml:",inline"`
}

// Report is everything collected in one run.
type Report struct {
	Host         *host.Info             `json:"host,omitempty" yaml:"host,omitempty"`
	Platform     Platform               `json:"platform" yaml:"platform"`
	Devices      []gpu.DeviceProperties `json:"devices" yaml:"devices"`
	Kernels      []Kernel               `json:"kernels,omitempty" yaml:"kernels,omitempty"`
	ActiveDevice *int                   `json:"active_device,omitempty" yaml:"active_device,omitempty"`
	Warnings     []string               `json:"warnings,omitempty" yaml:"warnings,omitempty"`

	platform *gpu.PlatformInfo
	devices  []*gpu.DeviceInfo
	kernels  []*gpu.KernelInfo
}

// New builds a report from a queried platform and its devices.
func New(backend string, platform *gpu.PlatformInfo, devices []*gpu.DeviceInfo) *Report {
	r := &Report{
		Platform: Platform{
			Backend:        backend,
			DeviceCount:    platform.DeviceCount(),
			DriverVersion:  gpu.FormatVersion(platform.DriverVersion()),
			RuntimeVersion: gpu.FormatVersion(platform.RuntimeVersion()),
		},
		Devices: lo.Map(devices, func(d *gpu.DeviceInfo, _ int) gpu.DeviceProperties {
			return d.Properties()
		}),
		platform: platform,
		devices:  devices,
	}

	failures := append(platform.Warnings(), lo.FlatMap(devices, func(d *gpu.DeviceInfo, _ int) []*gpu.QueryError {
		return d.Warnings()
	})...)
	r.Warnings = lo.Map(failures, func(qe *gpu.QueryError, _ int) string {
		return qe.Error()
	})

	return r
}

// AddKernel appends a queried kernel under its module:entry reference.
func (r *Report) AddKernel(ref string, k *gpu.KernelInfo) {
	r.Kernels = append(r.Kernels, Kernel{Ref: ref, KernelAttributes: k.Attributes()})
	r.kernels = append(r.kernels, k)
}

// AddKernelError records a kernel reference that failed to load or query.
func (r *Report) AddKernelError(ref string, err error) {
	r.Kernels = append(r.Kernels, Kernel{Ref: ref, Error: err.Error()})
	r.kernels = append(r.kernels, nil)
}

// SetHost attaches a host summary.
func (r *Report) SetHost(info *host.Info) {
	r.Host = info
}

// SetActiveDevice records the device bound after the query run.
func (r *Report) SetActiveDevice(index int) {
	r.ActiveDevice = lo.ToPtr(index)
}
