package device

import "errors"

// Domain errors for the device package.
var (
	// ErrDeviceNotFound is returned when no event has ever been seen for a device ID.
	ErrDeviceNotFound = errors.New("device: not found")
)
