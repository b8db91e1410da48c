package gpu

import (
	"errors"
	"fmt"
)

// Error codes used by backends that have no native return codes of their own
// (nvidia-smi and the fake). Values follow the CUDA driver API.
const (
	CodeInvalidValue   = 1
	CodeNotInitialized = 3
	CodeNoDevice       = 100
	CodeInvalidDevice  = 101
	CodeNotFound       = 500
	CodeNotSupported   = 801
	CodeUnknown        = 999
)

// ErrNoDevices is reported when the platform enumerates zero devices.
var ErrNoDevices = errors.New("no CUDA capable devices detected")

// QueryError is a failed platform query. It is recoverable: callers may log
// it, collect it, or propagate it.
type QueryError struct {
	// Op names the failed query (e.g. "device attribute", "kernel attributes")
	Op string

	// Device is the device index, or -1 when the query is not per-device
	Device int

	// Attribute is set for per-attribute device queries
	Attribute string

	// Code is the platform return code
	Code int

	// Message is the platform's error string for Code
	Message string
}

// Error implements the error interface.
func (e *QueryError) Error() string {
	target := e.Op
	if e.Device >= 0 {
		target = fmt.Sprintf("%s (device %d)", target, e.Device)
	}
	if e.Attribute != "" {
		target = fmt.Sprintf("%s %s", target, e.Attribute)
	}
	return fmt.Sprintf("%s: %s (code %d)", target, e.Message, e.Code)
}

func newQueryError(op string, device, code int, message string) *QueryError {
	return &QueryError{
		Op:      op,
		Device:  device,
		Code:    code,
		Message: message,
	}
}

// PreconditionError is a fatal violation of an assumption the tool cannot
// work without. It is never a *QueryError.
type PreconditionError struct {
	Err error
}

// Error implements the error interface.
func (e *PreconditionError) Error() string {
	return fmt.Sprintf("precondition violated: %v", e.Err)
}

// Unwrap returns the violated condition for errors.Is support.
func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// IsFatal reports whether err is a fatal precondition violation.
func IsFatal(err error) bool {
	var pe *PreconditionError
	return errors.As(err, &pe)
}
