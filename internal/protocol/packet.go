package protocol

import (
	"encoding/binary"
	"fmt"
)

// Message types carried in the frame header.
const (
	TypeHandshake       byte = 0x23
	TypeHandshakeAck    byte = 0x28
	TypeHeartbeatDevice byte = 0xD3
	TypeHeartbeatCloud  byte = 0xD8
	TypeControl         byte = 0x73
	TypeAck             byte = 0x48
	TypeMeshInfoRequest byte = 0x43
	TypeMeshInfo        byte = 0x52
)

// headerSize is the fixed length of the frame header (type + seq + length).
const headerSize = 7

// maxFrameLength is the largest body length this codec accepts before
// treating the stream as unrecoverably corrupt.
const maxFrameLength = 4096

// ControlKind identifies which semantic field a control packet carries.
type ControlKind byte

const (
	ControlPower      ControlKind = 0x01
	ControlBrightness ControlKind = 0x02
	ControlColorTemp  ControlKind = 0x03
	ControlRGB        ControlKind = 0x04
	ControlFanSpeed   ControlKind = 0x05
)

// TargetKind distinguishes a device target from a group target in a
// control packet; both share the same 4-byte id field.
type TargetKind byte

const (
	TargetDevice TargetKind = 0x00
	TargetGroup  TargetKind = 0x01
)

// AckStatus is the one-byte result code carried in an ack body.
type AckStatus byte

const (
	AckOK    AckStatus = 0x00
	AckError AckStatus = 0x01
)

// Frame is a decoded header plus its raw, still-unchecksummed body.
type Frame struct {
	Type byte
	Seq  uint16
	Body []byte
}

// Handshake is sent by a device on first connect.
type Handshake struct {
	DeviceID uint32
	IsBridge bool
}

// HandshakeAck is our reply to a Handshake.
type HandshakeAck struct {
	DeviceID uint32
}

// HeartbeatDevice is the device's keepalive ping.
type HeartbeatDevice struct {
	DeviceID uint32
}

// HeartbeatCloud is our keepalive reply; it carries no payload.
type HeartbeatCloud struct{}

// Control carries one semantic command addressed to a device or group.
type Control struct {
	Target   TargetKind
	TargetID uint32
	MsgID    uint16
	Kind     ControlKind
	Value    []byte
}

// Ack correlates to a Control by (TargetID, MsgID).
type Ack struct {
	TargetID uint32
	MsgID    uint16
	Status   AckStatus
}

// MeshEntry is one device's reported state within a MeshInfo snapshot.
type MeshEntry struct {
	DeviceID        uint32
	ConnectedToMesh bool
	Power           bool
	BrightnessWire  byte
	ColorTempWire   byte
	R, G, B         byte
}

// MeshInfo is the compound broadcast listing every device's state.
type MeshInfo struct {
	Entries []MeshEntry
}

// MeshInfoRequest asks a bridge for a fresh MeshInfo snapshot.
type MeshInfoRequest struct {
	DeviceID uint32
}

// Unknown wraps a frame whose type this codec does not recognise. Callers
// log it at debug and move on; the stream is not considered corrupt.
type Unknown struct {
	Type byte
	Raw  []byte
}

// EncodeID packs a 32-bit identifier using the wire's mixed endianness:
// the high 16 bits (account shard) little-endian, the low 16 bits
// (mesh-local ordinal) big-endian.
func EncodeID(id uint32) [4]byte {
	var buf [4]byte
	binary.LittleEndian.PutUint16(buf[0:2], uint16(id>>16))
	binary.BigEndian.PutUint16(buf[2:4], uint16(id&0xFFFF))
	return buf
}

// DecodeID is the inverse of EncodeID.
func DecodeID(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, fmt.Errorf("%w: id field needs 4 bytes, got %d", ErrMalformedPacket, len(b))
	}
	hi := binary.LittleEndian.Uint16(b[0:2])
	lo := binary.BigEndian.Uint16(b[2:4])
	return uint32(hi)<<16 | uint32(lo), nil
}

// WireBrightness converts a 0..100 percentage to the wire's 0..255 scale.
func WireBrightness(pct int) byte {
	if pct <= 0 {
		return 0
	}
	if pct >= 100 {
		return 255
	}
	return byte(pct * 255 / 100)
}

// PercentBrightness converts a wire 0..255 value back to 0..100.
func PercentBrightness(wire byte) int {
	return int(wire) * 100 / 255
}

// fanBuckets are the only brightness-wire values the mesh uses for fan
// speed, in ascending order: the wire encoding of 0/25/50/75/100 percent.
var fanBuckets = [5]byte{0, 63, 127, 191, 255}

// fanPresets names each bucket in fanBuckets, same index.
var fanPresets = [5]string{"off", "low", "medium", "high", "max"}

// FanPresetFromWire rounds a wire brightness value to the closest fan
// preset bucket.
func FanPresetFromWire(wire byte) string {
	best := 0
	bestDist := 256
	for i, b := range fanBuckets {
		dist := int(b) - int(wire)
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			bestDist = dist
			best = i
		}
	}
	return fanPresets[best]
}

// WireFromFanPreset maps a named preset to its wire brightness bucket.
// Unknown presets return 0 ("off") and false.
func WireFromFanPreset(preset string) (byte, bool) {
	for i, name := range fanPresets {
		if name == preset {
			return fanBuckets[i], true
		}
	}
	return 0, false
}
