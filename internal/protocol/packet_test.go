package protocol

import (
	"errors"
	"testing"
)

func TestEncodeDecodeID_RoundTrip(t *testing.T) {
	cases := []uint32{0, 1, 0x0000FFFF, 0xFFFF0000, 0xDEADBEEF, 0x00010002}
	for _, id := range cases {
		enc := EncodeID(id)
		got, err := DecodeID(enc[:])
		if err != nil {
			t.Fatalf("DecodeID(%x): %v", enc, err)
		}
		if got != id {
			t.Fatalf("round trip %#x -> %x -> %#x", id, enc, got)
		}
	}
}

func TestDecodeID_ShortBuffer(t *testing.T) {
	_, err := DecodeID([]byte{1, 2, 3})
	if !errors.Is(err, ErrMalformedPacket) {
		t.Fatalf("err = %v, want ErrMalformedPacket", err)
	}
}

func TestWireBrightness_Clamps(t *testing.T) {
	cases := []struct {
		pct  int
		want byte
	}{
		{-5, 0},
		{0, 0},
		{50, 127},
		{100, 255},
		{150, 255},
	}
	for _, c := range cases {
		if got := WireBrightness(c.pct); got != c.want {
			t.Fatalf("WireBrightness(%d) = %d, want %d", c.pct, got, c.want)
		}
	}
}

func TestPercentBrightness_RoundTrip(t *testing.T) {
	for pct := 0; pct <= 100; pct += 10 {
		wire := WireBrightness(pct)
		back := PercentBrightness(wire)
		if back < pct-1 || back > pct+1 {
			t.Fatalf("pct %d -> wire %d -> %d, drifted more than 1", pct, wire, back)
		}
	}
}

func TestFanPresetFromWire(t *testing.T) {
	cases := []struct {
		wire byte
		want string
	}{
		{0, "off"},
		{10, "off"},
		{63, "low"},
		{100, "medium"},
		{127, "medium"},
		{191, "high"},
		{255, "max"},
		{240, "max"},
	}
	for _, c := range cases {
		if got := FanPresetFromWire(c.wire); got != c.want {
			t.Fatalf("FanPresetFromWire(%d) = %q, want %q", c.wire, got, c.want)
		}
	}
}

func TestWireFromFanPreset(t *testing.T) {
	wire, ok := WireFromFanPreset("medium")
	if !ok || wire != 127 {
		t.Fatalf("WireFromFanPreset(medium) = %d,%v want 127,true", wire, ok)
	}
	if _, ok := WireFromFanPreset("turbo"); ok {
		t.Fatal("WireFromFanPreset(turbo) should not be found")
	}
}

func TestDecodeStream_FramingErrorOnHugeLength(t *testing.T) {
	buf := Encode(TypeHandshake, 0, make([]byte, 0))
	buf[3] = 0xFF
	buf[4] = 0xFF
	buf[5] = 0xFF
	buf[6] = 0xFF

	_, _, _, err := DecodeStream(buf)
	if !errors.Is(err, ErrFramingError) {
		t.Fatalf("err = %v, want ErrFramingError", err)
	}
}

func TestDecodeStream_ChecksumMismatch(t *testing.T) {
	// A bad checksum is dropped, not fatal: the header-declared length is
	// still trustworthy, so the stream resynchronises past the one bad
	// frame instead of closing the connection.
	body := []byte{0x01, 0x00, 0x00, 0x02, 0x01, 0xFF} // wrong checksum byte
	buf := make([]byte, headerSize+len(body))
	buf[0] = TypeHandshake
	buf[3] = 0
	buf[4] = 0
	buf[5] = 0
	buf[6] = byte(len(body))
	copy(buf[headerSize:], body)

	frames, consumed, dropped, err := DecodeStream(buf)
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if len(frames) != 0 {
		t.Fatalf("frames = %v, want none", frames)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed = %d, want %d", consumed, len(buf))
	}
}

func TestDecodeStream_ChecksumMismatchThenValidFrame(t *testing.T) {
	bad := make([]byte, headerSize+6)
	bad[0] = TypeHandshake
	bad[6] = 6
	copy(bad[headerSize:], []byte{0x01, 0x00, 0x00, 0x02, 0x01, 0xFF})

	good := Encode(TypeHeartbeatCloud, 7, nil)

	buf := append(bad, good...)
	frames, consumed, dropped, err := DecodeStream(buf)
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if len(frames) != 1 || frames[0].Type != TypeHeartbeatCloud || frames[0].Seq != 7 {
		t.Fatalf("frames = %+v, want one TypeHeartbeatCloud seq 7 frame", frames)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed = %d, want %d", consumed, len(buf))
	}
}

func TestParseBody_UnknownType(t *testing.T) {
	pkt, err := ParseBody(0xEE, []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("ParseBody: %v", err)
	}
	u, ok := pkt.(Unknown)
	if !ok {
		t.Fatalf("got %T, want Unknown", pkt)
	}
	if u.Type != 0xEE {
		t.Fatalf("Type = %#x, want 0xEE", u.Type)
	}
}

func TestEncodeControl_UnsupportedKind(t *testing.T) {
	_, err := EncodeControl(Control{Kind: ControlKind(0x99), Value: nil})
	if !errors.Is(err, ErrUnsupportedControlKind) {
		t.Fatalf("err = %v, want ErrUnsupportedControlKind", err)
	}
}

func TestMeshInfo_EncodeDecodeRoundTrip(t *testing.T) {
	want := MeshInfo{Entries: []MeshEntry{
		{DeviceID: 0x00010002, ConnectedToMesh: true, Power: true, BrightnessWire: 200, ColorTempWire: 50, R: 10, G: 20, B: 30},
		{DeviceID: 0x00020003, ConnectedToMesh: false, Power: false, BrightnessWire: 0, ColorTempWire: 0, R: 0, G: 0, B: 0},
	}}
	body := EncodeMeshInfo(want)
	got, err := parseMeshInfo(body)
	if err != nil {
		t.Fatalf("parseMeshInfo: %v", err)
	}
	if len(got.Entries) != len(want.Entries) {
		t.Fatalf("got %d entries, want %d", len(got.Entries), len(want.Entries))
	}
	for i := range want.Entries {
		if got.Entries[i] != want.Entries[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, got.Entries[i], want.Entries[i])
		}
	}
}
