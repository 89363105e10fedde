package meshmodel

import "errors"

// Domain errors for the device/group registry.
var (
	// ErrDeviceNotFound is returned when a lookup targets an unknown device id.
	ErrDeviceNotFound = errors.New("meshmodel: device not found")

	// ErrGroupNotFound is returned when a lookup targets an unknown group id.
	ErrGroupNotFound = errors.New("meshmodel: group not found")

	// ErrBridgePoolFull is returned by MarkReady when a bridge-capable
	// device handshakes while the bridge pool is already at its cap.
	// The caller still acks the handshake; the device is simply not
	// added to the bridge pool, so it is never chosen to carry commands.
	ErrBridgePoolFull = errors.New("meshmodel: bridge pool full")
)
