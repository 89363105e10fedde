// Package protocol implements the mesh device wire protocol: framing,
// checksums, and the typed packet bodies exchanged with bridge and
// mesh-only devices over the TLS-terminated TCP connection.
//
// # Frame layout
//
// Every frame has a 7-byte header followed by a body:
//
//	byte 0:   message type
//	byte 1-2: sequence number (big-endian uint16)
//	byte 3-6: body length (big-endian uint32), including the trailing
//	          checksum byte
//	byte 7+:  body (length bytes), last byte is the checksum
//
// The checksum is the sum, modulo 256, of every body byte preceding it.
// DecodeStream never trusts a frame until ValidateChecksum passes.
//
// # Device and target identifiers
//
// Device and group ids are encoded as 4 bytes with a deliberately mixed
// endianness, matching the vendor's wire layout: the high 16 bits (an
// account shard) are little-endian, the low 16 bits (the mesh-local
// ordinal) are big-endian. EncodeID/DecodeID implement this; callers
// should never hand-roll the byte order.
//
// # Golden captures
//
// testdata/*.bin holds fixed byte sequences exercised by golden_test.go,
// standing in for a captured fleet trace: the handshake, control and ack
// captures must decode byte-for-byte, and the handshake and control
// captures must re-encode identically.
package protocol
