package command

import (
	"fmt"

	"github.com/nerrad567/cync-bridge/internal/meshmodel"
	"github.com/nerrad567/cync-bridge/internal/protocol"
)

// Intent is a validated, device-agnostic command: what to change and on
// which target. The MQTT bridge builds these from inbound MQTT command
// topics; other callers (a scheduled job, an HTTP endpoint) can build
// them directly.
type Intent struct {
	Target   protocol.TargetKind
	TargetID int
	Kind     meshmodel.CommandKind

	Power         bool
	BrightnessPct int
	ColorTempK    int
	RGB           meshmodel.RGB
	FanPreset     string
}

// capabilityFor reports which capability a command kind requires, so
// Dispatch can reject a command a device physically can't do before
// ever touching the wire.
func capabilityFor(kind meshmodel.CommandKind) meshmodel.Capability {
	switch kind {
	case meshmodel.CommandPower:
		return meshmodel.CapOnOff
	case meshmodel.CommandBrightness:
		return meshmodel.CapBrightness
	case meshmodel.CommandColorTemp:
		return meshmodel.CapColorTemp
	case meshmodel.CommandRGB:
		return meshmodel.CapRGB
	case meshmodel.CommandFanSpeed:
		return meshmodel.CapFanSpeed
	default:
		return 0
	}
}

// controlValue builds the wire payload and ControlKind for an intent,
// converting domain units (percent, Kelvin) to wire units (0..255,
// per-model byte) the way meshmodel.ApplyWireStatus does in reverse.
func controlValue(intent Intent, dev meshmodel.Snapshot) (protocol.ControlKind, []byte, error) {
	switch intent.Kind {
	case meshmodel.CommandPower:
		v := byte(0)
		if intent.Power {
			v = 1
		}
		return protocol.ControlPower, []byte{v}, nil

	case meshmodel.CommandBrightness:
		if intent.BrightnessPct < 0 || intent.BrightnessPct > 100 {
			return 0, nil, fmt.Errorf("%w: brightness %d out of range 0..100", ErrUnsupportedCapability, intent.BrightnessPct)
		}
		return protocol.ControlBrightness, []byte{protocol.WireBrightness(intent.BrightnessPct)}, nil

	case meshmodel.CommandColorTemp:
		if dev.MaxColorTempK <= dev.MinColorTempK {
			return 0, nil, fmt.Errorf("%w: device has no color temperature range", ErrUnsupportedCapability)
		}
		k := intent.ColorTempK
		if k < dev.MinColorTempK {
			k = dev.MinColorTempK
		}
		if k > dev.MaxColorTempK {
			k = dev.MaxColorTempK
		}
		wire := byte((k - dev.MinColorTempK) * 255 / (dev.MaxColorTempK - dev.MinColorTempK))
		return protocol.ControlColorTemp, []byte{wire}, nil

	case meshmodel.CommandRGB:
		return protocol.ControlRGB, []byte{intent.RGB.R, intent.RGB.G, intent.RGB.B}, nil

	case meshmodel.CommandFanSpeed:
		wire, ok := protocol.WireFromFanPreset(intent.FanPreset)
		if !ok {
			return 0, nil, fmt.Errorf("%w: unknown fan preset %q", ErrUnsupportedCapability, intent.FanPreset)
		}
		return protocol.ControlFanSpeed, []byte{wire}, nil

	default:
		return 0, nil, fmt.Errorf("%w: unknown command kind %d", ErrUnsupportedCapability, intent.Kind)
	}
}
