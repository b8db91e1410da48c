// Package host provides a summary of the host machine using gopsutil.
// It is printed ahead of the GPU report so a report can be matched to the
// machine it came from.
package host

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/cpu"
	hostinfo "github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Info contains information about the host machine.
type Info struct {
	// Hostname is the system hostname
	Hostname string `json:"hostname" yaml:"hostname"`

	// OS is the operating system (e.g., "linux", "windows")
	OS string `json:"os" yaml:"os"`

	// Platform provides more specific OS information (e.g., "ubuntu", "debian")
	Platform string `json:"platform" yaml:"platform"`

	// PlatformVersion is the version of the platform (e.g., "22.04" for Ubuntu)
	PlatformVersion string `json:"platform_version" yaml:"platform_version"`

	// KernelVersion is the kernel/OS version
	KernelVersion string `json:"kernel_version" yaml:"kernel_version"`

	// KernelArch is the kernel architecture (e.g., "x86_64", "aarch64")
	KernelArch string `json:"kernel_arch" yaml:"kernel_arch"`

	// TotalRAM is the total system memory in bytes
	TotalRAM uint64 `json:"total_ram_bytes" yaml:"total_ram_bytes"`

	// AvailableRAM is the available system memory in bytes
	AvailableRAM uint64 `json:"available_ram_bytes" yaml:"available_ram_bytes"`

	// CPUCores is the number of physical CPU cores
	CPUCores int `json:"cpu_cores" yaml:"cpu_cores"`

	// CPUThreads is the number of logical CPU threads
	CPUThreads int `json:"cpu_threads" yaml:"cpu_threads"`

	// CPUModel is the CPU model name (first CPU if multiple)
	CPUModel string `json:"cpu_model" yaml:"cpu_model"`

	// Uptime is the system uptime in seconds
	Uptime uint64 `json:"uptime_seconds" yaml:"uptime_seconds"`
}

// Collector is the interface for host information collection.
// Using an interface allows for easy mocking in unit tests.
type Collector interface {
	// Collect gathers host machine information.
	// It respects the provided context for cancellation/timeout.
	Collect(ctx context.Context) (*Info, error)
}

// GopsutilCollector implements Collector using the gopsutil library.
type GopsutilCollector struct{}

// NewGopsutilCollector creates a new gopsutil-based host collector.
func NewGopsutilCollector() *GopsutilCollector {
	return &GopsutilCollector{}
}

// Collect implements the Collector interface.
func (c *GopsutilCollector) Collect(ctx context.Context) (*Info, error) {
	// Check context before starting
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("host collection cancelled: %w", ctx.Err())
	default:
	}

	info := &Info{
		OS: runtime.GOOS,
	}

	hostStat, err := hostinfo.InfoWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get host info: %w", err)
	}
	info.Hostname = hostStat.Hostname
	info.Platform = hostStat.Platform
	info.PlatformVersion = hostStat.PlatformVersion
	info.KernelVersion = hostStat.KernelVersion
	info.KernelArch = hostStat.KernelArch
	info.Uptime = hostStat.Uptime

	memStat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get memory info: %w", err)
	}
	info.TotalRAM = memStat.Total
	info.AvailableRAM = memStat.Available

	// Core counts are non-fatal; fall back to what the Go runtime sees
	if physical, err := cpu.CountsWithContext(ctx, false); err == nil {
		info.CPUCores = physical
	}
	logical, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		logical = runtime.NumCPU()
	}
	info.CPUThreads = logical

	if cpuInfos, err := cpu.InfoWithContext(ctx); err == nil && len(cpuInfos) > 0 {
		info.CPUModel = strings.TrimSpace(cpuInfos[0].ModelName)
	}

	return info, nil
}

// Summary renders the host information as an indented text block matching
// the layout of the GPU summaries.
func (i *Info) Summary() string {
	platform := i.OS
	if i.Platform != "" {
		platform = strings.TrimSpace(i.Platform + " " + i.PlatformVersion)
	}

	lines := []string{
		"Host info:",
		fmt.Sprintf("  Hostname:              %s", i.Hostname),
		fmt.Sprintf("  Platform:              %s (%s)", platform, i.KernelArch),
		fmt.Sprintf("  Kernel:                %s", i.KernelVersion),
		fmt.Sprintf("  CPU:                   %s (%d cores, %d threads)", i.CPUModel, i.CPUCores, i.CPUThreads),
		fmt.Sprintf("  Memory:                %s total, %s available",
			humanize.IBytes(i.TotalRAM), humanize.IBytes(i.AvailableRAM)),
		fmt.Sprintf("  Uptime:                %s", FormatUptime(i.Uptime)),
	}
	return strings.Join(lines, "\n")
}

// FormatUptime converts seconds to a compact "1d 2h 3m 4s" string.
func FormatUptime(seconds uint64) string {
	d := time.Duration(seconds) * time.Second

	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	secs := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, secs)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, secs)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, secs)
	}
	return fmt.Sprintf("%ds", secs)
}
