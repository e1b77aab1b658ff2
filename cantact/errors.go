package cantact

import (
	"errors"
	"fmt"
)

var (
	// ErrDeviceNotFound means no compatible device could be opened, either
	// because none is attached or the user lacks permission to access it.
	ErrDeviceNotFound = errors.New("cantact: no compatible device found")

	// ErrTimeout is a transport deadline expiring while talking to the device.
	ErrTimeout = errors.New("cantact: timed out communicating with device")

	// ErrRunning is returned by configuration calls while the bus is active.
	ErrRunning = errors.New("cantact: interface is running")

	// ErrNotRunning is returned by Send and Stop while the bus is idle.
	ErrNotRunning = errors.New("cantact: interface is not running")

	// ErrInvalidChannel is a channel index the device does not have.
	ErrInvalidChannel = errors.New("cantact: channel index out of range")
)

// DeviceError wraps a transport failure with the operation that caused it.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("cantact: device %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// InvalidBitrateError means no timing solution exists for the requested
// bitrate within the accepted tolerance.
type InvalidBitrateError struct {
	Bitrate uint32
}

func (e InvalidBitrateError) Error() string {
	return fmt.Sprintf("cantact: no valid bit timing for %d bit/s", e.Bitrate)
}

// UnsupportedFeatureError means a requested mode needs a capability the
// device does not report.
type UnsupportedFeatureError struct {
	Feature Feature
}

func (e UnsupportedFeatureError) Error() string {
	return fmt.Sprintf("cantact: device does not support %s", e.Feature)
}
