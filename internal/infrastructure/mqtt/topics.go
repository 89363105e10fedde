package mqtt

import "fmt"

// DiscoveryPrefix is the Home Assistant MQTT discovery root. Config documents
// are published retained under homeassistant/<platform>/<hass_id>/config.
const DiscoveryPrefix = "homeassistant"

// Topics builds topic names for the cync-bridge MQTT contract. All bridge
// topics are rooted under a configurable base topic ($T in the wire
// contract, BaseTopic here), matching the mesh bridge's state/command
// surface rather than a fixed vendor string.
//
//	topics := mqtt.NewTopics("cync")
//	topics.Availability("123-26") // "cync/availability/123-26"
type Topics struct {
	base string
}

// NewTopics returns a Topics builder rooted at the given base topic.
func NewTopics(base string) Topics {
	return Topics{base: base}
}

// Availability returns the per-device availability topic.
// Payload is "online" or "offline", retained.
func (t Topics) Availability(hassID string) string {
	return fmt.Sprintf("%s/availability/%s", t.base, hassID)
}

// Status returns the per-device state topic. Payload shape depends on
// entity class: JSON for lights, "ON"/"OFF" for switches and plugs.
func (t Topics) Status(hassID string) string {
	return fmt.Sprintf("%s/status/%s", t.base, hassID)
}

// StatusPreset returns the fan preset-mode topic, published retained.
func (t Topics) StatusPreset(hassID string) string {
	return fmt.Sprintf("%s/status/%s/preset", t.base, hassID)
}

// Set returns the base command topic a device or group subscribes to.
func (t Topics) Set(hassID string) string {
	return fmt.Sprintf("%s/set/%s", t.base, hassID)
}

// SetBrightness returns the brightness command subtopic.
func (t Topics) SetBrightness(hassID string) string {
	return fmt.Sprintf("%s/set/%s/brightness", t.base, hassID)
}

// SetColorTemp returns the color temperature command subtopic.
func (t Topics) SetColorTemp(hassID string) string {
	return fmt.Sprintf("%s/set/%s/color_temp", t.base, hassID)
}

// SetRGB returns the RGB command subtopic.
func (t Topics) SetRGB(hassID string) string {
	return fmt.Sprintf("%s/set/%s/rgb", t.base, hassID)
}

// SetPreset returns the fan preset command subtopic.
func (t Topics) SetPreset(hassID string) string {
	return fmt.Sprintf("%s/set/%s/preset", t.base, hassID)
}

// AllSet returns a wildcard pattern matching every command topic for
// subscription at startup.
func (t Topics) AllSet() string {
	return fmt.Sprintf("%s/set/+", t.base)
}

// AllSetSubtopics returns a wildcard pattern matching command subtopics
// (brightness, color_temp, rgb, preset).
func (t Topics) AllSetSubtopics() string {
	return fmt.Sprintf("%s/set/+/+", t.base)
}

// DiscoveryConfig returns the Home Assistant discovery topic for one entity.
// platform is one of "light", "switch", "fan".
func (t Topics) DiscoveryConfig(platform, hassID string) string {
	return fmt.Sprintf("%s/%s/%s/config", DiscoveryPrefix, platform, hassID)
}

// bridgeStatusTopic is the LWT-backed topic for the bridge process's own
// connection status, distinct from the per-device availability topics
// published by the mesh bridge.
func bridgeStatusTopic(base string) string {
	return fmt.Sprintf("%s/bridge/status", base)
}
