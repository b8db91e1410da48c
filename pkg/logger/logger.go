// Package logger provides a structured logging solution using Zap.
// It supports both development (console-friendly) and production (JSON) modes.
// Logs always go to stderr so that stdout carries only the report.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel converts a configured level name (debug, info, warn, error)
// into a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}

// New creates a new Zap logger instance writing to stderr at the given level.
// If devMode is true, it returns a development logger with console-friendly output.
// If devMode is false, it returns a production logger with JSON structured output.
func New(devMode bool, level string) (*zap.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	var config zap.Config
	if devMode {
		// Development configuration: human-readable, colored console output
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		// Production configuration: JSON structured logs for machine parsing
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	config.Level = zap.NewAtomicLevelAt(lvl)
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	return config.Build()
}

// NewWithWriter creates a logger that writes to a custom writer (useful for testing).
func NewWithWriter(devMode bool, writer zapcore.WriteSyncer) *zap.Logger {
	var encoder zapcore.Encoder
	var level zapcore.Level

	if devMode {
		encoderConfig := zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
		level = zapcore.DebugLevel
	} else {
		encoderConfig := zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encoderConfig)
		level = zapcore.InfoLevel
	}

	core := zapcore.NewCore(encoder, writer, level)
	return zap.New(core, zap.AddCaller())
}

// Sync flushes any buffered log entries.
// Applications should take care to call Sync before exiting.
func Sync(logger *zap.Logger) {
	// Ignore sync errors on stdout/stderr as they're expected in some environments
	_ = logger.Sync()
}
