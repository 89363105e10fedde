package mqttbridge

import (
	"context"
	"testing"

	"github.com/nerrad567/cync-bridge/internal/command"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/cync-bridge/internal/meshmodel"
	"github.com/nerrad567/cync-bridge/internal/protocol"
)

type fakeDispatcher struct {
	intents []command.Intent
}

func (f *fakeDispatcher) Dispatch(_ context.Context, intent command.Intent) error {
	f.intents = append(f.intents, intent)
	return nil
}

func newTestBridge(t *testing.T) (*Bridge, *fakeDispatcher) {
	t.Helper()
	registry := meshmodel.New([]meshmodel.Device{
		{ID: 1, HassID: "acct-1", Capabilities: meshmodel.CapOnOff | meshmodel.CapBrightness},
	}, nil, 4)

	disp := &fakeDispatcher{}
	b := &Bridge{
		topics:     mqtt.NewTopics("cync"),
		registry:   registry,
		dispatcher: disp,
		deviceByID: map[string]int{"acct-1": 1},
		groupByID:  map[string]int{},
	}
	return b, disp
}

func TestResolveDevice(t *testing.T) {
	b, _ := newTestBridge(t)
	target, id, ok := b.resolve("acct-1")
	if !ok || target != protocol.TargetDevice || id != 1 {
		t.Fatalf("resolve() = %v, %v, %v", target, id, ok)
	}
}

func TestResolveUnknownFails(t *testing.T) {
	b, _ := newTestBridge(t)
	if _, _, ok := b.resolve("nope"); ok {
		t.Fatal("expected resolve to fail for an unknown hass_id")
	}
}

func TestHandleSetPlainOnOff(t *testing.T) {
	b, disp := newTestBridge(t)
	if err := b.handleSet("cync/set/acct-1", []byte("ON")); err != nil {
		t.Fatalf("handleSet: %v", err)
	}
	if len(disp.intents) != 1 || !disp.intents[0].Power || disp.intents[0].Kind != meshmodel.CommandPower {
		t.Fatalf("want a single power-on intent, got %+v", disp.intents)
	}
}

func TestHandleSetUnknownTarget(t *testing.T) {
	b, _ := newTestBridge(t)
	if err := b.handleSet("cync/set/ghost", []byte("ON")); err == nil {
		t.Fatal("expected an error for an unresolved target")
	}
}

func TestHandleSetJSONLightCommand(t *testing.T) {
	b, disp := newTestBridge(t)
	payload := []byte(`{"state":"ON","brightness":128}`)
	if err := b.handleSet("cync/set/acct-1", payload); err != nil {
		t.Fatalf("handleSet: %v", err)
	}
	if len(disp.intents) != 2 {
		t.Fatalf("want power + brightness intents, got %+v", disp.intents)
	}
	if disp.intents[0].Kind != meshmodel.CommandPower || disp.intents[1].Kind != meshmodel.CommandBrightness {
		t.Fatalf("unexpected intent kinds: %+v", disp.intents)
	}
}

func TestHandleSetSubtopicBrightness(t *testing.T) {
	b, disp := newTestBridge(t)
	if err := b.handleSetSubtopic("cync/set/acct-1/brightness", []byte("50")); err != nil {
		t.Fatalf("handleSetSubtopic: %v", err)
	}
	if len(disp.intents) != 1 || disp.intents[0].Kind != meshmodel.CommandBrightness || disp.intents[0].BrightnessPct != 50 {
		t.Fatalf("want a brightness=50 intent, got %+v", disp.intents)
	}
}

func TestHandleSetSubtopicRGB(t *testing.T) {
	b, disp := newTestBridge(t)
	if err := b.handleSetSubtopic("cync/set/acct-1/rgb", []byte("255,0,128")); err != nil {
		t.Fatalf("handleSetSubtopic: %v", err)
	}
	want := meshmodel.RGB{R: 255, G: 0, B: 128}
	if len(disp.intents) != 1 || disp.intents[0].RGB != want {
		t.Fatalf("want rgb intent %+v, got %+v", want, disp.intents)
	}
}

func TestHandleSetSubtopicUnknownSubtopic(t *testing.T) {
	b, _ := newTestBridge(t)
	if err := b.handleSetSubtopic("cync/set/acct-1/nonsense", []byte("x")); err == nil {
		t.Fatal("expected an error for an unknown subtopic")
	}
}

func TestLastSegment(t *testing.T) {
	if got := lastSegment("cync/set/acct-1"); got != "acct-1" {
		t.Fatalf("lastSegment() = %q", got)
	}
}
