// Package meshmodel owns the canonical in-memory device and group
// state: availability tracking, group aggregation, the bridge pool, and
// the per-device command throttle latch. It has no knowledge of the
// wire protocol or of MQTT; callers translate packets and commands into
// the calls this package exposes.
package meshmodel
