package camera

import (
	"errors"

	"golang.org/x/sys/unix"
)

var (
	// ErrInvalidState is returned when an operation is not allowed in the
	// camera's current state, such as Configure while running.
	ErrInvalidState = errors.New("camera: invalid state")
	// ErrNotSupported is a hard failure: the handler or device can never
	// perform the operation and callers must not retry.
	ErrNotSupported = errors.New("camera: operation not supported")
	// ErrBusy is a transient failure: the resource is in use or the device
	// queue is full.
	ErrBusy = errors.New("camera: busy")
	// ErrNoDevice is returned once the underlying device is gone.
	ErrNoDevice = errors.New("camera: no such device")
	// ErrInvalidConfiguration is returned by Configure for a configuration
	// that does not validate as Valid.
	ErrInvalidConfiguration = errors.New("camera: invalid configuration")
	// ErrFormatMismatch is returned when the device negotiated a format
	// different from the requested one.
	ErrFormatMismatch = errors.New("camera: negotiated format differs from request")
	// ErrInvalidArgument reports a malformed request, buffer or control.
	ErrInvalidArgument = errors.New("camera: invalid argument")
)

// IsTransient reports whether err is a temporary condition that may succeed
// when retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrBusy) || errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EBUSY)
}
