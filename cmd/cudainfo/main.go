// Package main is the entry point for cudainfo.
// It queries the CUDA platform, every enumerated device and any requested
// kernels, then prints the report to stdout.
//
//	go run ./cmd/cudainfo --format json --host
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/depin-agent/cudainfo/internal/config"
	"github.com/depin-agent/cudainfo/internal/hardware/gpu"
	"github.com/depin-agent/cudainfo/internal/report"
	"github.com/depin-agent/cudainfo/pkg/logger"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

// Exit codes.
const (
	exitOK           = 0
	exitError        = 1
	exitPrecondition = 2
	exitQuery        = 3
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and maps its outcome to an exit code.
func run(args []string, stdout, stderr io.Writer) int {
	cmd := newRootCommand(stdout)
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.Execute()
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

// exitCode maps fatal preconditions and query failures to distinct codes.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	if gpu.IsFatal(err) {
		return exitPrecondition
	}
	var qe *gpu.QueryError
	if errors.As(err, &qe) {
		return exitQuery
	}
	return exitError
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "cudainfo",
		Short: "Print CUDA platform, device and kernel information",
		Long: `cudainfo reports the CUDA driver and runtime versions, the capability
attributes of every enumerated device and, optionally, the resource usage
of compiled kernels.`,
		Version:       version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cmd.Flags(), configFile)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}

			log, err := logger.New(cfg.DevMode, cfg.LogLevel)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Sync(log)

			log.Debug("Starting cudainfo",
				zap.String("version", version),
				zap.String("config", cfg.String()),
			)

			writer, err := report.NewWriter(report.Format(cfg.Format), stdout)
			if err != nil {
				return err
			}

			// A report that comes back with an error is still printed
			r, err := collect(cmd.Context(), cfg, log)
			if r == nil {
				return err
			}
			return errors.Join(err, writer.Write(r))
		},
	}

	defaults := config.DefaultConfig()
	flags := cmd.Flags()
	flags.StringVar(&configFile, "config", "", "config file (default: cudainfo.yaml in ., ./config or /etc/cudainfo)")
	flags.String("backend", defaults.Backend, "device query backend (auto, cuda, nvml, smi, fake)")
	flags.String("format", defaults.Format, "output format (text, json, yaml, prometheus)")
	flags.Bool("strict", defaults.Strict, "fail on any attribute query failure instead of reporting it as a warning")
	flags.Bool("host", defaults.ShowHost, "include a host summary")
	flags.Int("device", defaults.Device, "bind this device index after reporting and print the active device")
	flags.StringArray("kernel", nil, "report attributes of a compiled kernel, as module:entry (repeatable)")
	flags.Bool("dev-mode", defaults.DevMode, "console logging and a mock GPU when no backend is available")
	flags.String("log-level", defaults.LogLevel, "log level (debug, info, warn, error)")
	flags.String("smi-path", defaults.SMIPath, "nvidia-smi executable for the smi backend")
	flags.Duration("smi-timeout", defaults.SMITimeout, "timeout for each nvidia-smi invocation")

	return cmd
}
