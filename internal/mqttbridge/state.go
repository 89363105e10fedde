package mqttbridge

import (
	"encoding/json"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/cync-bridge/internal/meshmodel"
	"github.com/nerrad567/cync-bridge/internal/protocol"
)

// lightState is the JSON payload published for the "light" entity
// class, following HA's JSON light schema.
type lightState struct {
	State      string `json:"state"`
	Brightness *int   `json:"brightness,omitempty"`
	ColorTemp  *int   `json:"color_temp_kelvin,omitempty"`
	ColorMode  string `json:"color_mode,omitempty"`
	Color      *rgbOut `json:"color,omitempty"`
}

type rgbOut struct {
	R byte `json:"r"`
	G byte `json:"g"`
	B byte `json:"b"`
}

// statePayloads returns the topic/payload/retained triples to publish
// for one device's current state, per its entity class's publish rule.
func statePayloads(topics mqtt.Topics, d meshmodel.Snapshot) []publishOp {
	switch entityClass(d) {
	case "switch":
		return []publishOp{{
			Topic:    topics.Status(d.HassID),
			Payload:  []byte(powerString(d.State.Power)),
			Retained: true,
		}}

	case "plug":
		// Raw "ON"/"OFF" bytes rather than JSON: plugs expose no dimmable
		// or color state worth describing structurally, but the payload
		// still has to be the literal ASCII text other subscribers expect.
		return []publishOp{{
			Topic:    topics.Status(d.HassID),
			Payload:  []byte(powerString(d.State.Power)),
			Retained: true,
		}}

	case "fan":
		ops := []publishOp{{
			Topic:    topics.Status(d.HassID),
			Payload:  []byte(powerString(d.State.Power)),
			Retained: true,
		}}
		preset := protocol.FanPresetFromWire(protocol.WireBrightness(d.State.BrightnessPct))
		ops = append(ops, publishOp{Topic: topics.StatusPreset(d.HassID), Payload: []byte(preset), Retained: true})
		return ops

	default: // light
		ls := lightState{State: powerString(d.State.Power)}
		if d.Capabilities.Has(meshmodel.CapBrightness) {
			v := protocol.WireBrightness(d.State.BrightnessPct)
			iv := int(v)
			ls.Brightness = &iv
		}
		switch {
		case d.Capabilities.Has(meshmodel.CapRGB):
			ls.ColorMode = "rgb"
			ls.Color = &rgbOut{R: d.State.RGB.R, G: d.State.RGB.G, B: d.State.RGB.B}
		case d.Capabilities.Has(meshmodel.CapColorTemp):
			ls.ColorMode = "color_temp"
			k := d.State.ColorTempK
			ls.ColorTemp = &k
		default:
			// on/off-only light: color_mode stays empty so omitempty drops
			// the key entirely, per the documented payload shape.
		}
		payload, err := json.Marshal(ls)
		if err != nil {
			return nil
		}
		// Brightness/rgb/color_temp status on lights is non-retained: the
		// next periodic mesh-info refresh repopulates it for a newly
		// subscribed client via the retained availability topic instead.
		return []publishOp{{Topic: topics.Status(d.HassID), Payload: payload, Retained: false}}
	}
}

func powerString(p meshmodel.PowerState) string {
	if p == meshmodel.PowerOn {
		return "ON"
	}
	return "OFF"
}

// publishOp is one topic/payload/retained publish the bridge issues.
type publishOp struct {
	Topic    string
	Payload  []byte
	Retained bool
}
