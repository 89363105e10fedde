package protocol

import (
	"encoding/binary"
	"fmt"
)

// DecodeStream extracts as many complete frames as are present in buf.
// It returns the decoded frames, the number of bytes consumed from the
// front of buf, the number of frames dropped for failing checksum
// validation, and an error.
//
// A nil error with consumed < len(buf) means the tail is an incomplete
// frame; the caller should keep it and append more data. A frame whose
// declared length is well-formed but whose checksum doesn't match is
// malformed, not a framing failure: the header still told us exactly
// how many bytes to skip, so decoding resynchronises past it and
// continues rather than returning an error — the caller should log it
// and keep the connection open. ErrFramingError is different: the
// declared body length itself is impossible, so there is no way to
// know where the next frame starts, and the connection must be closed.
func DecodeStream(buf []byte) (frames []Frame, consumed int, dropped int, err error) {
	for {
		remaining := buf[consumed:]
		if len(remaining) < headerSize {
			return frames, consumed, dropped, nil
		}

		bodyLen := binary.BigEndian.Uint32(remaining[3:7])
		if bodyLen > maxFrameLength {
			return frames, consumed, dropped, fmt.Errorf("%w: declared body length %d exceeds %d", ErrFramingError, bodyLen, maxFrameLength)
		}

		total := headerSize + int(bodyLen)
		if len(remaining) < total {
			return frames, consumed, dropped, nil
		}

		typ := remaining[0]
		seq := binary.BigEndian.Uint16(remaining[1:3])
		body := remaining[headerSize:total]

		if err := ValidateChecksum(body); err != nil {
			consumed += total
			dropped++
			continue
		}

		frames = append(frames, Frame{Type: typ, Seq: seq, Body: body[:len(body)-1]})
		consumed += total
	}
}

// ValidateChecksum checks the trailing checksum byte of body against the
// additive sum, modulo 256, of every preceding byte.
func ValidateChecksum(body []byte) error {
	if len(body) == 0 {
		return fmt.Errorf("%w: empty body has no checksum byte", ErrMalformedPacket)
	}
	var sum byte
	for _, b := range body[:len(body)-1] {
		sum += b
	}
	if sum != body[len(body)-1] {
		return fmt.Errorf("%w: checksum mismatch, want %d got %d", ErrMalformedPacket, body[len(body)-1], sum)
	}
	return nil
}

// checksum computes the additive checksum over data (without a trailing
// checksum byte), for use by Encode.
func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return sum
}

// Encode serialises frameType/seq and the fixed body, appending the
// checksum byte and the 7-byte header, ready to write to the wire.
func Encode(frameType byte, seq uint16, body []byte) []byte {
	full := make([]byte, headerSize+len(body)+1)
	full[0] = frameType
	binary.BigEndian.PutUint16(full[1:3], seq)
	binary.BigEndian.PutUint32(full[3:7], uint32(len(body)+1))
	n := copy(full[headerSize:], body)
	full[headerSize+n] = checksum(body)
	return full
}

// ParseBody decodes a frame's body (checksum already stripped by
// DecodeStream) into the typed packet matching its frame type. Unknown
// types come back as Unknown rather than an error.
func ParseBody(frameType byte, body []byte) (any, error) {
	switch frameType {
	case TypeHandshake:
		return parseHandshake(body)
	case TypeHandshakeAck:
		return parseHandshakeAck(body)
	case TypeHeartbeatDevice:
		return parseHeartbeatDevice(body)
	case TypeHeartbeatCloud:
		return HeartbeatCloud{}, nil
	case TypeControl:
		return parseControl(body)
	case TypeAck:
		return parseAck(body)
	case TypeMeshInfoRequest:
		return parseMeshInfoRequest(body)
	case TypeMeshInfo:
		return parseMeshInfo(body)
	default:
		raw := make([]byte, len(body))
		copy(raw, body)
		return Unknown{Type: frameType, Raw: raw}, nil
	}
}

func parseHandshake(body []byte) (Handshake, error) {
	if len(body) < 5 {
		return Handshake{}, fmt.Errorf("%w: handshake needs 5 bytes, got %d", ErrMalformedPacket, len(body))
	}
	id, err := DecodeID(body[0:4])
	if err != nil {
		return Handshake{}, err
	}
	return Handshake{DeviceID: id, IsBridge: body[4] != 0}, nil
}

func parseHandshakeAck(body []byte) (HandshakeAck, error) {
	if len(body) < 4 {
		return HandshakeAck{}, fmt.Errorf("%w: handshake ack needs 4 bytes, got %d", ErrMalformedPacket, len(body))
	}
	id, err := DecodeID(body[0:4])
	if err != nil {
		return HandshakeAck{}, err
	}
	return HandshakeAck{DeviceID: id}, nil
}

func parseHeartbeatDevice(body []byte) (HeartbeatDevice, error) {
	if len(body) < 4 {
		return HeartbeatDevice{}, fmt.Errorf("%w: heartbeat needs 4 bytes, got %d", ErrMalformedPacket, len(body))
	}
	id, err := DecodeID(body[0:4])
	if err != nil {
		return HeartbeatDevice{}, err
	}
	return HeartbeatDevice{DeviceID: id}, nil
}

// controlValueLen returns the number of value bytes a control kind
// carries, or false if the kind is unrecognised.
func controlValueLen(kind ControlKind) (int, bool) {
	switch kind {
	case ControlPower, ControlBrightness, ControlFanSpeed:
		return 1, true
	case ControlColorTemp:
		return 1, true
	case ControlRGB:
		return 3, true
	default:
		return 0, false
	}
}

func parseControl(body []byte) (Control, error) {
	const fixed = 1 + 4 + 2 + 1 // target kind, target id, msg id, control kind
	if len(body) < fixed {
		return Control{}, fmt.Errorf("%w: control needs at least %d bytes, got %d", ErrMalformedPacket, fixed, len(body))
	}
	target := TargetKind(body[0])
	id, err := DecodeID(body[1:5])
	if err != nil {
		return Control{}, err
	}
	msgID := binary.BigEndian.Uint16(body[5:7])
	kind := ControlKind(body[7])
	valueLen, ok := controlValueLen(kind)
	if !ok {
		return Control{}, fmt.Errorf("%w: kind %d", ErrUnsupportedControlKind, kind)
	}
	if len(body) < fixed+valueLen {
		return Control{}, fmt.Errorf("%w: control value needs %d bytes, got %d", ErrMalformedPacket, valueLen, len(body)-fixed)
	}
	value := make([]byte, valueLen)
	copy(value, body[fixed:fixed+valueLen])
	return Control{Target: target, TargetID: id, MsgID: msgID, Kind: kind, Value: value}, nil
}

// EncodeControl builds the body bytes for a Control packet (without the
// frame header or checksum); pass the result to Encode.
func EncodeControl(c Control) ([]byte, error) {
	valueLen, ok := controlValueLen(c.Kind)
	if !ok {
		return nil, fmt.Errorf("%w: kind %d", ErrUnsupportedControlKind, c.Kind)
	}
	if len(c.Value) != valueLen {
		return nil, fmt.Errorf("%w: kind %d needs %d value bytes, got %d", ErrMalformedPacket, c.Kind, valueLen, len(c.Value))
	}
	body := make([]byte, 1+4+2+1+valueLen)
	body[0] = byte(c.Target)
	idBytes := EncodeID(c.TargetID)
	copy(body[1:5], idBytes[:])
	binary.BigEndian.PutUint16(body[5:7], c.MsgID)
	body[7] = byte(c.Kind)
	copy(body[8:], c.Value)
	return body, nil
}

func parseAck(body []byte) (Ack, error) {
	const fixed = 4 + 2 + 1
	if len(body) < fixed {
		return Ack{}, fmt.Errorf("%w: ack needs %d bytes, got %d", ErrMalformedPacket, fixed, len(body))
	}
	id, err := DecodeID(body[0:4])
	if err != nil {
		return Ack{}, err
	}
	msgID := binary.BigEndian.Uint16(body[4:6])
	return Ack{TargetID: id, MsgID: msgID, Status: AckStatus(body[6])}, nil
}

func parseMeshInfoRequest(body []byte) (MeshInfoRequest, error) {
	if len(body) < 4 {
		return MeshInfoRequest{}, fmt.Errorf("%w: mesh info request needs 4 bytes, got %d", ErrMalformedPacket, len(body))
	}
	id, err := DecodeID(body[0:4])
	if err != nil {
		return MeshInfoRequest{}, err
	}
	return MeshInfoRequest{DeviceID: id}, nil
}

// meshEntrySize is the fixed byte width of one MeshEntry on the wire:
// id(4) + flags(1) + brightness(1) + color temp(1) + rgb(3).
const meshEntrySize = 4 + 1 + 1 + 1 + 3

func parseMeshInfo(body []byte) (MeshInfo, error) {
	if len(body)%meshEntrySize != 0 {
		return MeshInfo{}, fmt.Errorf("%w: mesh info length %d not a multiple of %d", ErrMalformedPacket, len(body), meshEntrySize)
	}
	count := len(body) / meshEntrySize
	entries := make([]MeshEntry, 0, count)
	for i := 0; i < count; i++ {
		e := body[i*meshEntrySize : (i+1)*meshEntrySize]
		id, err := DecodeID(e[0:4])
		if err != nil {
			return MeshInfo{}, err
		}
		flags := e[4]
		entries = append(entries, MeshEntry{
			DeviceID:        id,
			ConnectedToMesh: flags&0x01 != 0,
			Power:           flags&0x02 != 0,
			BrightnessWire:  e[5],
			ColorTempWire:   e[6],
			R:               e[7],
			G:               e[8],
			B:               e[9],
		})
	}
	return MeshInfo{Entries: entries}, nil
}

// EncodeMeshInfo builds the body bytes for a MeshInfo packet.
func EncodeMeshInfo(m MeshInfo) []byte {
	body := make([]byte, len(m.Entries)*meshEntrySize)
	for i, e := range m.Entries {
		off := i * meshEntrySize
		idBytes := EncodeID(e.DeviceID)
		copy(body[off:off+4], idBytes[:])
		var flags byte
		if e.ConnectedToMesh {
			flags |= 0x01
		}
		if e.Power {
			flags |= 0x02
		}
		body[off+4] = flags
		body[off+5] = e.BrightnessWire
		body[off+6] = e.ColorTempWire
		body[off+7] = e.R
		body[off+8] = e.G
		body[off+9] = e.B
	}
	return body
}
