// Package mqttbridge is the Home Assistant-facing side of the system: it
// publishes MQTT discovery configs and state/availability for every
// declared device and group, and turns inbound command topics into
// command.Intent values for the dispatcher.
//
// Per-entity-class publish rules:
//   - switch: plain "ON"/"OFF" state payload, no color fields
//   - plug: raw "ON"/"OFF" bytes, not JSON
//   - light: JSON state payload with color_mode
//   - fan: state topic plus a retained preset-mode topic
//
// Fan-only groups are never registered with Home Assistant as a single
// entity; HA's fan platform has no native "average speed across many
// fans" concept, so each fan-only group is skipped at discovery time
// rather than publishing a misleading aggregate.
package mqttbridge
