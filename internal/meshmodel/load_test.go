package meshmodel

import (
	"testing"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/config"
)

func TestFromConfig(t *testing.T) {
	cfg := &config.Config{
		Account: config.AccountConfig{ID: "123"},
		Devices: []config.DeviceConfig{
			{ID: 26, Name: "Kitchen/Under-cabinet", Model: "A19", Capabilities: []string{"onoff", "brightness", "bridge"}, IsBridge: true},
			{ID: 4, Name: "Hallway Lamp", Capabilities: []string{"onoff", "switch"}},
		},
		Groups: []config.GroupConfig{
			{ID: 1, Name: "Hallway Lights", MemberIDs: []int{26, 4}},
		},
	}

	devices, groups := FromConfig(cfg)
	if len(devices) != 2 || len(groups) != 1 {
		t.Fatalf("got %d devices, %d groups", len(devices), len(groups))
	}

	d0 := devices[0]
	if d0.HassID != "123-26" {
		t.Errorf("HassID = %q, want %q", d0.HassID, "123-26")
	}
	if d0.Room != "Kitchen" {
		t.Errorf("Room = %q, want %q", d0.Room, "Kitchen")
	}
	if d0.Manufacturer != "Savant" {
		t.Errorf("Manufacturer = %q, want Savant", d0.Manufacturer)
	}
	if !d0.IsBridge || !d0.Capabilities.Has(CapBridge) {
		t.Errorf("expected device 26 to be a bridge")
	}

	d1 := devices[1]
	if d1.Room != "" {
		t.Errorf("Room = %q, want empty (no separator)", d1.Room)
	}
	if !d1.IsSwitch() {
		t.Errorf("expected device 4 to be a switch")
	}

	if groups[0].Name != "Hallway Lights" || len(groups[0].MemberIDs) != 2 {
		t.Errorf("unexpected group: %+v", groups[0])
	}
}

func TestFromConfig_Empty(t *testing.T) {
	devices, groups := FromConfig(&config.Config{})
	if len(devices) != 0 || len(groups) != 0 {
		t.Errorf("expected empty slices, got %d devices, %d groups", len(devices), len(groups))
	}
}
