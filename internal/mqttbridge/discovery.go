package mqttbridge

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/cync-bridge/internal/meshmodel"
)

// entityClass classifies a device for discovery/state-publish purposes.
// Switches take priority over plug/light capabilities because group aggregation excludes switches
// excludes switches from group aggregation and they always publish a
// bare ON/OFF payload regardless of what else they can do.
func entityClass(d meshmodel.Snapshot) string {
	switch {
	case d.Capabilities.Has(meshmodel.CapSwitch):
		return "switch"
	case d.Capabilities.Has(meshmodel.CapPlug):
		return "plug"
	case d.IsFanOnly():
		return "fan"
	default:
		return "light"
	}
}

// haDevice is the shared "device" block HA uses to group entities
// under one physical device card.
type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

func discoveryDevice(d meshmodel.Snapshot) haDevice {
	return haDevice{
		Identifiers:  []string{d.HassID},
		Name:         d.Name,
		Manufacturer: d.Manufacturer,
		Model:        d.Model,
	}
}

// discoveryConfig builds one entity's HA discovery payload and the HA
// platform it should be published under ("light", "switch", "fan").
// A plug publishes on HA's "switch" platform since HA has no distinct
// plug platform; the wire-level payload difference is handled in
// state.go, not here.
func discoveryConfig(topics mqtt.Topics, d meshmodel.Snapshot) (platform string, payload []byte, err error) {
	base := map[string]any{
		"name":                d.Name,
		"unique_id":           d.HassID,
		"availability_topic":  topics.Availability(d.HassID),
		"payload_available":   "online",
		"payload_not_available": "offline",
		"device":              discoveryDevice(d),
	}

	switch entityClass(d) {
	case "switch", "plug":
		platform = "switch"
		base["state_topic"] = topics.Status(d.HassID)
		base["command_topic"] = topics.Set(d.HassID)
		base["payload_on"] = "ON"
		base["payload_off"] = "OFF"

	case "fan":
		platform = "fan"
		base["state_topic"] = topics.Status(d.HassID)
		base["command_topic"] = topics.Set(d.HassID)
		base["payload_on"] = "ON"
		base["payload_off"] = "OFF"
		base["preset_mode_state_topic"] = topics.StatusPreset(d.HassID)
		base["preset_mode_command_topic"] = topics.SetPreset(d.HassID)
		base["preset_modes"] = []string{"off", "low", "medium", "high", "max"}

	default: // light
		platform = "light"
		base["schema"] = "json"
		base["state_topic"] = topics.Status(d.HassID)
		base["command_topic"] = topics.Set(d.HassID)
		var modes []string
		if d.Capabilities.Has(meshmodel.CapBrightness) {
			modes = append(modes, "brightness")
		}
		if d.Capabilities.Has(meshmodel.CapColorTemp) {
			modes = append(modes, "color_temp")
			base["color_temp_kelvin"] = true
			base["min_kelvin"] = d.MinColorTempK
			base["max_kelvin"] = d.MaxColorTempK
		}
		if d.Capabilities.Has(meshmodel.CapRGB) {
			modes = append(modes, "rgb")
		}
		// "onoff" is advertised only by a light with no other mode.
		if len(modes) == 0 {
			modes = []string{"onoff"}
		}
		base["supported_color_modes"] = modes
	}

	payload, err = json.Marshal(base)
	if err != nil {
		return "", nil, fmt.Errorf("mqttbridge: marshal discovery config for %s: %w", d.HassID, err)
	}
	return platform, payload, nil
}
