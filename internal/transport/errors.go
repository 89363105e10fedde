package transport

import "errors"

// Domain errors for the device-facing connection engine.
var (
	// ErrHandshakeTimeout is returned when a device fails to complete the
	// handshake within the configured deadline.
	ErrHandshakeTimeout = errors.New("transport: handshake timeout")

	// ErrFramingError indicates the stream is unrecoverably corrupt; the
	// connection that raised it is closed.
	ErrFramingError = errors.New("transport: unrecoverable framing error")

	// ErrBridgeNotConnected is returned by Send when the named bridge has
	// no live, ready connection.
	ErrBridgeNotConnected = errors.New("transport: bridge not connected")

	// ErrNoBridgeAvailable is returned when no bridge in the pool can
	// accept a command (bridge pool empty).
	ErrNoBridgeAvailable = errors.New("transport: no bridge available")

	// ErrAckTimeout is delivered on an AckResult channel when the ack
	// deadline elapses with no matching ack.
	ErrAckTimeout = errors.New("transport: ack timeout")

	// ErrWriteQueueFull is returned when a connection's outbound queue is
	// saturated; the caller should treat this like a failed send to that
	// bridge and try another.
	ErrWriteQueueFull = errors.New("transport: write queue full")

	// ErrServerClosed is delivered to every ack waiter still pending when
	// Shutdown runs. Send and AwaitAck calls made after Shutdown do not
	// return it.
	ErrServerClosed = errors.New("transport: server closed")
)
