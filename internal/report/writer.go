package report

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
	"gopkg.in/yaml.v3"
)

// Format represents the output format type
type Format string

const (
	// FormatText outputs the fixed-layout human-readable summaries
	FormatText Format = "text"
	// FormatJSON outputs data in JSON format
	FormatJSON Format = "json"
	// FormatYAML outputs data in YAML format
	FormatYAML Format = "yaml"
	// FormatPrometheus outputs gauges in the Prometheus text exposition format
	FormatPrometheus Format = "prometheus"
)

func (f Format) IsUnknown() bool {
	switch f {
	case FormatText, FormatJSON, FormatYAML, FormatPrometheus:
		return false
	default:
		return true
	}
}

// SupportedFormats returns a list of all supported output formats.
func SupportedFormats() []string {
	return []string{
		string(FormatText),
		string(FormatJSON),
		string(FormatYAML),
		string(FormatPrometheus),
	}
}

// Writer renders a Report in one format.
type Writer struct {
	format Format
	output io.Writer
}

// NewWriter creates a new Writer with the specified format and output destination.
// If output is nil, os.Stdout will be used.
func NewWriter(format Format, output io.Writer) (*Writer, error) {
	if output == nil {
		output = os.Stdout
	}
	if format.IsUnknown() {
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
	return &Writer{
		format: format,
		output: output,
	}, nil
}

// Write outputs the report in the configured format.
func (w *Writer) Write(r *Report) error {
	switch w.format {
	case FormatText:
		return w.writeText(r)
	case FormatJSON:
		return w.writeJSON(r)
	case FormatYAML:
		return w.writeYAML(r)
	case FormatPrometheus:
		return w.writePrometheus(r)
	default:
		return fmt.Errorf("unsupported format: %s", w.format)
	}
}

// writeText prints the platform summary followed by each device summary,
// each terminated by a newline. Host, kernel and active device sections
// only appear when they were collected.
func (w *Writer) writeText(r *Report) error {
	var sections []string
	if r.Host != nil {
		sections = append(sections, r.Host.Summary())
	}
	sections = append(sections, r.platform.GetInfo())
	for _, d := range r.devices {
		sections = append(sections, d.GetDeviceInfo())
	}
	for i, k := range r.kernels {
		if k == nil {
			sections = append(sections, fmt.Sprintf("Kernel %s\n  Error: %s", r.Kernels[i].Ref, r.Kernels[i].Error))
			continue
		}
		sections = append(sections, fmt.Sprintf("Kernel %s\n%s", r.Kernels[i].Ref, k.GetKernelInfo()))
	}
	if r.ActiveDevice != nil {
		sections = append(sections, fmt.Sprintf("Active device: %d", *r.ActiveDevice))
	}

	for _, s := range sections {
		if _, err := fmt.Fprintln(w.output, s); err != nil {
			return fmt.Errorf("failed to write text report: %w", err)
		}
	}
	return nil
}

func (w *Writer) writeJSON(r *Report) error {
	encoder := json.NewEncoder(w.output)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(r); err != nil {
		return fmt.Errorf("failed to serialize to JSON: %w", err)
	}
	return nil
}

func (w *Writer) writeYAML(r *Report) error {
	encoder := yaml.NewEncoder(w.output)
	encoder.SetIndent(2)
	if err := encoder.Encode(r); err != nil {
		return fmt.Errorf("failed to serialize to YAML: %w", err)
	}
	return encoder.Close()
}

// writePrometheus registers one-shot gauges for the report on a private
// registry and writes them in the text exposition format, suitable for the
// node_exporter textfile collector.
func (w *Writer) writePrometheus(r *Report) error {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	platformInfo := factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cudainfo_platform_info",
		Help: "Driver and runtime versions of the queried platform",
	}, []string{"backend", "driver_version", "runtime_version"})
	deviceCount := factory.NewGauge(prometheus.GaugeOpts{
		Name: "cudainfo_device_count",
		Help: "Number of enumerated devices",
	})
	deviceInfo := factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cudainfo_device_info",
		Help: "Device name and compute capability",
	}, []string{"device", "name", "compute_capability"})
	memory := factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cudainfo_device_memory_total_bytes",
		Help: "Total global memory of the device",
	}, []string{"device"})
	sms := factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cudainfo_device_multiprocessors",
		Help: "Number of multiprocessors on the device",
	}, []string{"device"})
	clock := factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cudainfo_device_clock_rate_hertz",
		Help: "Peak clock rate of the device",
	}, []string{"device"})
	sharedMem := factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cudainfo_device_shared_memory_per_block_bytes",
		Help: "Shared memory available per block",
	}, []string{"device"})
	threads := factory.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cudainfo_device_max_threads_per_block",
		Help: "Maximum threads per block",
	}, []string{"device"})
	warnings := factory.NewGauge(prometheus.GaugeOpts{
		Name: "cudainfo_query_failures",
		Help: "Number of attribute queries that failed",
	})

	platformInfo.WithLabelValues(r.Platform.Backend, r.Platform.DriverVersion, r.Platform.RuntimeVersion).Set(1)
	deviceCount.Set(float64(r.Platform.DeviceCount))
	warnings.Set(float64(len(r.Warnings)))

	for _, d := range r.Devices {
		idx := strconv.Itoa(d.Index)
		deviceInfo.WithLabelValues(idx, d.Name, fmt.Sprintf("%d.%d", d.Major, d.Minor)).Set(1)
		memory.WithLabelValues(idx).Set(float64(d.TotalGlobalMem))
		sms.WithLabelValues(idx).Set(float64(d.MultiProcessorCount))
		clock.WithLabelValues(idx).Set(float64(d.ClockRate) * 1e3)
		sharedMem.WithLabelValues(idx).Set(float64(d.SharedMemPerBlock))
		threads.WithLabelValues(idx).Set(float64(d.MaxThreadsPerBlock))
	}

	if len(r.Kernels) > 0 {
		kernelRegs := factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cudainfo_kernel_registers",
			Help: "Registers used by each thread of the kernel",
		}, []string{"kernel"})
		kernelShared := factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cudainfo_kernel_shared_memory_bytes",
			Help: "Statically allocated shared memory of the kernel",
		}, []string{"kernel"})
		for _, k := range r.Kernels {
			if k.Error != "" {
				continue
			}
			kernelRegs.WithLabelValues(k.Ref).Set(float64(k.NumRegs))
			kernelShared.WithLabelValues(k.Ref).Set(float64(k.SharedSizeBytes))
		}
	}

	families, err := reg.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	var sb strings.Builder
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(&sb, mf); err != nil {
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}
	if _, err := io.WriteString(w.output, sb.String()); err != nil {
		return fmt.Errorf("failed to write metrics: %w", err)
	}
	return nil
}
