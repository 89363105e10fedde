package command

import "errors"

var (
	// ErrThrottled is returned when a device's pending-command latch is already held
	// for this device/command-kind pair.
	ErrThrottled = errors.New("command: throttled, already pending")

	// ErrNoBridgeAvailable is returned when the bridge pool is empty.
	ErrNoBridgeAvailable = errors.New("command: no bridge available")

	// ErrAllTargetsFailed is returned when every selected bridge either
	// failed to accept the frame or never returned an ack.
	ErrAllTargetsFailed = errors.New("command: all bridge targets failed")

	// ErrUnsupportedCapability is returned when a device or group lacks
	// the capability the requested command needs.
	ErrUnsupportedCapability = errors.New("command: device lacks required capability")
)
