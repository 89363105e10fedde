// Package mqtt wraps paho.mqtt.golang for the bridge's broker leg:
// connect with LWT, auto-reconnect with subscription replay, serialized
// publish, and the Topics helper that builds every topic name the
// Home Assistant contract uses.
//
//	Mesh devices ↔ cync-bridge ↔ MQTT broker ↔ Home Assistant
//
// The per-device discovery/state/availability payloads themselves live
// in internal/mqttbridge; this package stops at transport.
package mqtt
