package protocol

import "errors"

// Domain errors for the mesh wire protocol package.
var (
	// ErrMalformedPacket is returned when a frame's checksum does not match
	// or a field value is structurally impossible. The caller drops the
	// packet and keeps the connection open.
	ErrMalformedPacket = errors.New("protocol: malformed packet")

	// ErrFramingError is returned when the stream itself cannot be
	// recovered (a declared length too large to be real). The caller
	// must close the connection.
	ErrFramingError = errors.New("protocol: unrecoverable framing error")

	// ErrShortBuffer is returned when encoding is given a buffer too small
	// for the packet being built.
	ErrShortBuffer = errors.New("protocol: short buffer")

	// ErrUnsupportedControlKind is returned when encoding a control packet
	// with a kind this codec does not know how to size.
	ErrUnsupportedControlKind = errors.New("protocol: unsupported control kind")
)
