package influxdb

import "errors"

// Sentinel errors; branch with errors.Is.
var (
	// ErrNotConnected is returned by operations on a closed client.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed wraps any initial-connection failure.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed marks a synchronous write failure; most write
	// errors arrive asynchronously via the SetOnError callback instead.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled is returned by Connect when the influxdb config
	// section is disabled, so callers can treat history as optional.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
