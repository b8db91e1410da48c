package gpu

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/xml"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"
)

// smiQueryFields is the per-GPU CSV query, in column order.
const smiQueryFields = "index,name,memory.total,compute_cap,clocks.max.sm,compute_mode"

func init() {
	Register("smi", func(opts Options) (Backend, error) {
		return NewSMIBackend(opts.SMIPath, opts.SMITimeout), nil
	})
}

// smiRunner runs nvidia-smi with args and returns its stdout.
type smiRunner func(ctx context.Context, path string, args ...string) ([]byte, error)

// SMIBackend implements Backend using the nvidia-smi CLI tool which comes
// with NVIDIA drivers. It covers what nvidia-smi reports: names, memory,
// compute capability, max SM clock, compute mode and the CUDA driver version.
type SMIBackend struct {
	path    string
	timeout time.Duration
	run     smiRunner

	// mu protects the cached query results
	mu          sync.Mutex
	initialized bool
	initErr     error
	devices     []smiDevice
	cudaVersion int
	cudaErr     error
}

type smiDevice struct {
	name        string
	totalMiB    uint64
	memOK       bool
	major       int
	minor       int
	ccOK        bool
	clockMHz    int
	clockOK     bool
	computeMode int
	modeOK      bool
}

// NewSMIBackend creates a backend that runs the nvidia-smi at path.
func NewSMIBackend(path string, timeout time.Duration) *SMIBackend {
	if path == "" {
		path = "nvidia-smi"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SMIBackend{path: path, timeout: timeout, run: execSMI}
}

func execSMI(ctx context.Context, path string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, path, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("nvidia-smi failed (exit %d): %s",
				exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		if errors.Is(err, exec.ErrNotFound) {
			return nil, errors.New("nvidia-smi not found - NVIDIA drivers may not be installed")
		}
		return nil, fmt.Errorf("nvidia-smi error: %w", err)
	}
	return stdout.Bytes(), nil
}

func (s *SMIBackend) Name() string { return "smi" }

// Init runs the nvidia-smi queries once and caches the results.
func (s *SMIBackend) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return s.initErr
	}
	s.initialized = true

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	out, err := s.run(ctx, s.path, "--query-gpu="+smiQueryFields, "--format=csv,noheader,nounits")
	if err != nil {
		s.initErr = newQueryError("platform init", -1, CodeNotInitialized, err.Error())
		return s.initErr
	}

	devices, err := parseSMIDevices(out)
	if err != nil {
		s.initErr = newQueryError("platform init", -1, CodeUnknown, err.Error())
		return s.initErr
	}
	s.devices = devices

	xmlOut, err := s.run(ctx, s.path, "-q", "-x")
	if err != nil {
		s.cudaErr = newQueryError("driver version", -1, CodeUnknown, err.Error())
		return nil
	}
	s.cudaVersion, err = parseSMICudaVersion(xmlOut)
	if err != nil {
		s.cudaErr = newQueryError("driver version", -1, CodeNotSupported, err.Error())
	}
	return nil
}

// parseSMIDevices parses the CSV output of the per-GPU query.
func parseSMIDevices(out []byte) ([]smiDevice, error) {
	reader := csv.NewReader(bytes.NewReader(out))
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse nvidia-smi output: %w", err)
	}

	devices := make([]smiDevice, 0, len(records))
	for _, record := range records {
		if len(record) < 6 {
			continue // Skip malformed lines
		}
		for i := range record {
			record[i] = strings.TrimSpace(record[i])
		}

		d := smiDevice{name: record[1]}

		if mib, err := strconv.ParseUint(record[2], 10, 64); err == nil {
			d.totalMiB, d.memOK = mib, true
		}

		if major, minor, ok := strings.Cut(record[3], "."); ok {
			maj, err1 := strconv.Atoi(major)
			mnr, err2 := strconv.Atoi(minor)
			if err1 == nil && err2 == nil {
				d.major, d.minor, d.ccOK = maj, mnr, true
			}
		}

		if mhz, err := strconv.Atoi(record[4]); err == nil {
			d.clockMHz, d.clockOK = mhz, true
		}

		if mode, ok := smiComputeModes[record[5]]; ok {
			d.computeMode, d.modeOK = mode, true
		}

		devices = append(devices, d)
	}
	return devices, nil
}

// smiComputeModes maps nvidia-smi compute mode names to CUDA compute modes.
var smiComputeModes = map[string]int{
	"Default":           0,
	"Exclusive_Thread":  1,
	"Prohibited":        2,
	"Exclusive_Process": 3,
}

type smiLog struct {
	XMLName     xml.Name `xml:"nvidia_smi_log"`
	CudaVersion string   `xml:"cuda_version"`
}

// parseSMICudaVersion extracts the CUDA driver version ("12.2") from
// nvidia-smi -q -x output and encodes it as 1000*major + 10*minor.
func parseSMICudaVersion(out []byte) (int, error) {
	var log smiLog
	if err := xml.Unmarshal(out, &log); err != nil {
		return 0, fmt.Errorf("failed to parse nvidia-smi XML: %w", err)
	}
	major, minor, ok := strings.Cut(strings.TrimSpace(log.CudaVersion), ".")
	if !ok {
		return 0, fmt.Errorf("unexpected cuda_version %q", log.CudaVersion)
	}
	maj, err := strconv.Atoi(major)
	if err != nil {
		return 0, fmt.Errorf("unexpected cuda_version %q: %w", log.CudaVersion, err)
	}
	mnr, err := strconv.Atoi(minor)
	if err != nil {
		return 0, fmt.Errorf("unexpected cuda_version %q: %w", log.CudaVersion, err)
	}
	return maj*1000 + mnr*10, nil
}

func (s *SMIBackend) device(op string, index int) (*smiDevice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized || s.initErr != nil {
		return nil, newQueryError(op, index, CodeNotInitialized, "nvidia-smi backend not initialized")
	}
	if index < 0 || index >= len(s.devices) {
		return nil, newQueryError(op, index, CodeInvalidDevice, "invalid device ordinal")
	}
	return &s.devices[index], nil
}

func notSupported(op string, index int, what string) *QueryError {
	return newQueryError(op, index, CodeNotSupported, what+" is not reported by this backend")
}

func (s *SMIBackend) DeviceCount() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized || s.initErr != nil {
		return 0, newQueryError("device count", -1, CodeNotInitialized, "nvidia-smi backend not initialized")
	}
	return len(s.devices), nil
}

func (s *SMIBackend) DriverVersion() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cudaErr != nil {
		return 0, s.cudaErr
	}
	return s.cudaVersion, nil
}

func (s *SMIBackend) RuntimeVersion() (int, error) {
	return 0, notSupported("runtime version", -1, "runtime version")
}

func (s *SMIBackend) DeviceName(index int) (string, error) {
	d, err := s.device("device name", index)
	if err != nil {
		return "", err
	}
	return d.name, nil
}

func (s *SMIBackend) ComputeCapability(index int) (int, int, error) {
	d, err := s.device("compute capability", index)
	if err != nil {
		return 0, 0, err
	}
	if !d.ccOK {
		return 0, 0, notSupported("compute capability", index, "compute capability")
	}
	return d.major, d.minor, nil
}

func (s *SMIBackend) TotalMemory(index int) (uint64, error) {
	d, err := s.device("total memory", index)
	if err != nil {
		return 0, err
	}
	if !d.memOK {
		return 0, notSupported("total memory", index, "total memory")
	}
	// memory.total (MiB) -> bytes
	return d.totalMiB * 1024 * 1024, nil
}

func (s *SMIBackend) Attribute(index int, attr Attribute) (int, error) {
	d, err := s.device("device attribute", index)
	if err != nil {
		return 0, err
	}
	switch {
	case attr == AttrClockRate && d.clockOK:
		// clocks.max.sm (MHz) -> kHz
		return d.clockMHz * 1000, nil
	case attr == AttrComputeMode && d.modeOK:
		return d.computeMode, nil
	}
	return 0, notSupported("device attribute", index, attr.String())
}

func (s *SMIBackend) KernelAttributes(KernelHandle) (KernelAttributes, error) {
	return KernelAttributes{}, notSupported("kernel attributes", -1, "kernel attributes")
}

func (s *SMIBackend) SetDevice(index int) error {
	return notSupported("set device", index, "device binding")
}

func (s *SMIBackend) CurrentDevice() (int, error) {
	return 0, notSupported("current device", -1, "device binding")
}

// Close releases any resources. No-op as nvidia-smi is run on-demand.
func (s *SMIBackend) Close() error {
	return nil
}
