package protocol

import (
	"bytes"
	"embed"
	"testing"
)

//go:embed testdata/*.bin
var goldenFS embed.FS

func readGolden(t *testing.T, name string) []byte {
	t.Helper()
	b, err := goldenFS.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("read golden %s: %v", name, err)
	}
	return b
}

func TestGolden_Handshake(t *testing.T) {
	raw := readGolden(t, "handshake.bin")

	frames, consumed, _, err := DecodeStream(raw)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if consumed != len(raw) {
		t.Fatalf("consumed %d, want %d", consumed, len(raw))
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}

	f := frames[0]
	if f.Type != TypeHandshake {
		t.Fatalf("type = %#x, want %#x", f.Type, TypeHandshake)
	}

	pkt, err := ParseBody(f.Type, f.Body)
	if err != nil {
		t.Fatalf("ParseBody: %v", err)
	}
	hs, ok := pkt.(Handshake)
	if !ok {
		t.Fatalf("got %T, want Handshake", pkt)
	}
	if hs.DeviceID != 0x00010002 {
		t.Fatalf("DeviceID = %#x, want %#x", hs.DeviceID, 0x00010002)
	}
	if !hs.IsBridge {
		t.Fatal("IsBridge = false, want true")
	}

	re := Encode(f.Type, f.Seq, f.Body)
	if !bytes.Equal(re, raw) {
		t.Fatalf("re-encode mismatch:\n got %x\nwant %x", re, raw)
	}
}

func TestGolden_ControlBrightness(t *testing.T) {
	raw := readGolden(t, "control_brightness.bin")

	frames, consumed, _, err := DecodeStream(raw)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if consumed != len(raw) {
		t.Fatalf("consumed %d, want %d", consumed, len(raw))
	}

	f := frames[0]
	if f.Type != TypeControl {
		t.Fatalf("type = %#x, want %#x", f.Type, TypeControl)
	}
	if f.Seq != 1 {
		t.Fatalf("seq = %d, want 1", f.Seq)
	}

	pkt, err := ParseBody(f.Type, f.Body)
	if err != nil {
		t.Fatalf("ParseBody: %v", err)
	}
	ctl, ok := pkt.(Control)
	if !ok {
		t.Fatalf("got %T, want Control", pkt)
	}
	if ctl.Target != TargetDevice {
		t.Fatalf("Target = %v, want TargetDevice", ctl.Target)
	}
	if ctl.TargetID != 0x00010002 {
		t.Fatalf("TargetID = %#x, want %#x", ctl.TargetID, 0x00010002)
	}
	if ctl.MsgID != 5 {
		t.Fatalf("MsgID = %d, want 5", ctl.MsgID)
	}
	if ctl.Kind != ControlBrightness {
		t.Fatalf("Kind = %v, want ControlBrightness", ctl.Kind)
	}
	if len(ctl.Value) != 1 || ctl.Value[0] != 0x7f {
		t.Fatalf("Value = %x, want [7f]", ctl.Value)
	}
	if got := PercentBrightness(ctl.Value[0]); got != 49 {
		t.Fatalf("PercentBrightness(0x7f) = %d, want 49", got)
	}

	encodedBody, err := EncodeControl(ctl)
	if err != nil {
		t.Fatalf("EncodeControl: %v", err)
	}
	re := Encode(f.Type, f.Seq, encodedBody)
	if !bytes.Equal(re, raw) {
		t.Fatalf("re-encode mismatch:\n got %x\nwant %x", re, raw)
	}
}

func TestGolden_Ack(t *testing.T) {
	raw := readGolden(t, "ack.bin")

	frames, consumed, _, err := DecodeStream(raw)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if consumed != len(raw) {
		t.Fatalf("consumed %d, want %d", consumed, len(raw))
	}

	f := frames[0]
	if f.Type != TypeAck {
		t.Fatalf("type = %#x, want %#x", f.Type, TypeAck)
	}

	pkt, err := ParseBody(f.Type, f.Body)
	if err != nil {
		t.Fatalf("ParseBody: %v", err)
	}
	ack, ok := pkt.(Ack)
	if !ok {
		t.Fatalf("got %T, want Ack", pkt)
	}
	if ack.TargetID != 0x00010002 {
		t.Fatalf("TargetID = %#x, want %#x", ack.TargetID, 0x00010002)
	}
	if ack.MsgID != 5 {
		t.Fatalf("MsgID = %d, want 5", ack.MsgID)
	}
	if ack.Status != AckOK {
		t.Fatalf("Status = %v, want AckOK", ack.Status)
	}
}

func TestGolden_TruncatedFrameIsHeldBack(t *testing.T) {
	raw := readGolden(t, "ack.bin")
	partial := raw[:len(raw)-2]

	frames, consumed, _, err := DecodeStream(partial)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if len(frames) != 0 {
		t.Fatalf("got %d frames from a truncated buffer, want 0", len(frames))
	}
	if consumed != 0 {
		t.Fatalf("consumed = %d, want 0", consumed)
	}
}

func TestGolden_ConcatenatedFrames(t *testing.T) {
	hs := readGolden(t, "handshake.bin")
	ack := readGolden(t, "ack.bin")
	buf := append(append([]byte{}, hs...), ack...)

	frames, consumed, _, err := DecodeStream(buf)
	if err != nil {
		t.Fatalf("DecodeStream: %v", err)
	}
	if consumed != len(buf) {
		t.Fatalf("consumed %d, want %d", consumed, len(buf))
	}
	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if frames[0].Type != TypeHandshake || frames[1].Type != TypeAck {
		t.Fatalf("frame types = %#x, %#x", frames[0].Type, frames[1].Type)
	}
}
