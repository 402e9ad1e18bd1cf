package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, device.ErrDeviceNotFound) {
//	    // handle not found case
//	}
var (
	// ErrDeviceNotFound is returned when a device index is not present
	// in the registry.
	ErrDeviceNotFound = errors.New("device: not found")

	// ErrNoActiveDevice is returned when an operation requires an
	// active device but none is selected.
	ErrNoActiveDevice = errors.New("device: no active device")
)
