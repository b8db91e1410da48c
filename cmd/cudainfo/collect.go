package main

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"

	"go.uber.org/zap"

	"github.com/depin-agent/cudainfo/internal/config"
	"github.com/depin-agent/cudainfo/internal/hardware/gpu"
	"github.com/depin-agent/cudainfo/internal/hardware/host"
	"github.com/depin-agent/cudainfo/internal/report"
)

// hostCollector is swapped in tests.
var hostCollector host.Collector = host.NewGopsutilCollector()

// collect runs the query sequence: platform, each device in index order,
// requested kernels, then the optional device binding. The host summary is
// collected concurrently since it does not touch the GPU.
//
// Failed kernel queries are recorded in the report, which is returned
// together with their error.
func collect(ctx context.Context, cfg *config.Config, log *zap.Logger) (*report.Report, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var (
		wg       sync.WaitGroup
		hostInfo *host.Info
	)
	if cfg.ShowHost {
		wg.Add(1)
		go func() {
			defer wg.Done()

			log.Debug("Starting host collection")
			info, err := hostCollector.Collect(ctx)
			if err != nil {
				log.Warn("Host collection failed", zap.Error(err))
				return
			}
			hostInfo = info
		}()
	}

	r, err := queryGPU(cfg, log)
	wg.Wait()
	if r == nil {
		return nil, err
	}

	if hostInfo != nil {
		r.SetHost(hostInfo)
	}
	return r, err
}

func queryGPU(cfg *config.Config, log *zap.Logger) (*report.Report, error) {
	backend, err := gpu.Open(cfg.Backend, gpu.Options{
		DevMode:    cfg.DevMode,
		SMIPath:    cfg.SMIPath,
		SMITimeout: cfg.SMITimeout,
		Log:        log,
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.Warn("Failed to close GPU backend", zap.Error(err))
		}
	}()

	opts := []gpu.Option{gpu.WithLogger(log), gpu.WithStrict(cfg.Strict)}

	platform, err := gpu.NewPlatformInfo(backend, opts...)
	if err != nil {
		return nil, err
	}

	devices := make([]*gpu.DeviceInfo, 0, platform.DeviceCount())
	for i := 0; i < platform.DeviceCount(); i++ {
		d, err := gpu.NewDeviceInfo(backend, i, opts...)
		if err != nil {
			return nil, fmt.Errorf("device %d: %w", i, err)
		}
		devices = append(devices, d)
	}

	r := report.New(backend.Name(), platform, devices)

	var kernelErr error
	if len(cfg.Kernels) > 0 {
		kernelErr = queryKernels(backend, cfg.Kernels, r)
	}

	if cfg.Device >= 0 {
		active, err := bindDevice(backend, devices, cfg.Device, log)
		if err != nil {
			return nil, errors.Join(kernelErr, err)
		}
		r.SetActiveDevice(active)
	}

	log.Info("Query complete",
		zap.String("backend", backend.Name()),
		zap.Int("device_count", platform.DeviceCount()),
		zap.Int("kernels", len(r.Kernels)),
		zap.Int("warnings", len(r.Warnings)),
	)
	return r, kernelErr
}

// queryKernels loads and queries every reference, recording each failure in
// the report and moving on to the next one.
func queryKernels(backend gpu.Backend, refs []string, r *report.Report) error {
	loader, ok := backend.(gpu.KernelLoader)
	if !ok {
		err := &gpu.QueryError{
			Op:      "load kernel",
			Device:  -1,
			Code:    gpu.CodeNotSupported,
			Message: fmt.Sprintf("backend %s cannot load kernels", backend.Name()),
		}
		for _, ref := range refs {
			r.AddKernelError(ref, err)
		}
		return err
	}

	// Loaded modules belong to the context current on the loading thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var errs []error
	for _, ref := range refs {
		k, err := queryKernel(backend, loader, ref)
		if err != nil {
			err = fmt.Errorf("kernel %s: %w", ref, err)
			r.AddKernelError(ref, err)
			errs = append(errs, err)
			continue
		}
		r.AddKernel(ref, k)
	}
	return errors.Join(errs...)
}

func queryKernel(backend gpu.Backend, loader gpu.KernelLoader, ref string) (*gpu.KernelInfo, error) {
	module, entry, err := config.ParseKernelRef(ref)
	if err != nil {
		return nil, err
	}
	handle, err := loader.LoadKernel(module, entry)
	if err != nil {
		return nil, err
	}
	return gpu.NewKernelInfo(backend, handle)
}

// bindDevice makes index the active device and reads back the device the
// platform routes to.
func bindDevice(backend gpu.Backend, devices []*gpu.DeviceInfo, index int, log *zap.Logger) (int, error) {
	if index >= len(devices) {
		return 0, &gpu.QueryError{
			Op:      "set device",
			Device:  index,
			Code:    gpu.CodeInvalidDevice,
			Message: fmt.Sprintf("invalid device ordinal (%d devices)", len(devices)),
		}
	}

	binding := gpu.NewBinding(backend, log)
	defer binding.Release()

	if err := devices[index].SetDevice(binding); err != nil {
		return 0, err
	}
	return backend.CurrentDevice()
}
