package meshmodel

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/cync-bridge/internal/protocol"
)

// Logger is the logging interface the registry needs. Compatible with
// logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}

// StatusFields carries the subset of a device's reported state a status
// packet (broadcast or mesh-info entry) can update.
type StatusFields struct {
	ConnectedToMesh bool
	Power           PowerState
	BrightnessPct   int
	ColorTempK      int
	RGB             RGB
	// The Has* flags report which of the above fields are actually present on
	// this packet; absent fields leave the device's prior value alone.
	HasPower      bool
	HasBrightness bool
	HasColorTemp  bool
	HasRGB        bool
}

// Registry owns the canonical in-memory device and group state.
// Devices and groups are declared once at construction from
// configuration and persist for the process lifetime; the registry
// never destroys them.
//
// All public methods are safe for concurrent use. A single mutex
// guards the whole map: devices are cheap to copy and updates are far
// more frequent than the fleet size, so per-device locks would add
// complexity without a measurable benefit.
type Registry struct {
	mu     sync.RWMutex
	logger Logger

	devices map[int]*Device
	groups  map[int]*Group

	bridgeCap  int
	bridgePool []int // ordered by registration; front = least-recently-added

	onAvailability []func(id int, online bool)
	onStateChange  func(id int, snap Snapshot)
}

// New builds a registry from declared devices and groups. bridgeCap is
// the maximum number of simultaneously control-ready bridges.
func New(devices []Device, groups []Group, bridgeCap int) *Registry {
	r := &Registry{
		logger:    noopLogger{},
		devices:   make(map[int]*Device, len(devices)),
		groups:    make(map[int]*Group, len(groups)),
		bridgeCap: bridgeCap,
	}
	for i := range devices {
		d := devices[i]
		d.pending = make(map[CommandKind]time.Time)
		r.devices[d.ID] = &d
	}
	for i := range groups {
		g := groups[i]
		r.groups[g.ID] = &g
	}
	return r
}

// SetLogger sets the logger used for availability transitions.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// AddAvailabilityObserver registers a callback invoked, outside the
// registry lock, whenever ApplyStatus flips a device's online state.
// The MQTT layer uses this to publish the availability topic without
// having to diff snapshots itself; the supervisor adds a second
// observer to record the transition in the audit store.
func (r *Registry) AddAvailabilityObserver(fn func(id int, online bool)) {
	r.mu.Lock()
	r.onAvailability = append(r.onAvailability, fn)
	r.mu.Unlock()
}

// SetStateChangeObserver registers a callback invoked, outside the
// registry lock, whenever ApplyStatus writes a power/brightness/
// color_temp/rgb field that differs from the device's prior value.
// The optional InfluxDB history sink uses this to record every state
// transition without polling the registry.
func (r *Registry) SetStateChangeObserver(fn func(id int, snap Snapshot)) {
	r.mu.Lock()
	r.onStateChange = fn
	r.mu.Unlock()
}

// Device returns a snapshot of one device's current state.
func (r *Registry) Device(id int) (Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: id %d", ErrDeviceNotFound, id)
	}
	return d.snapshot(), nil
}

// Devices returns a snapshot of every declared device.
func (r *Registry) Devices() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Snapshot, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.snapshot())
	}
	return out
}

// Group returns the group's static definition.
func (r *Registry) Group(id int) (Group, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.groups[id]
	if !ok {
		return Group{}, fmt.Errorf("%w: id %d", ErrGroupNotFound, id)
	}
	return *g, nil
}

// Groups returns every declared group's static definition.
func (r *Registry) Groups() []Group {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Group, 0, len(r.groups))
	for _, g := range r.groups {
		out = append(out, *g)
	}
	return out
}

// ApplyStatus updates power/brightness/temp/rgb for a device and
// implements the offline-latch availability algorithm. It is the single code
// path permitted to write device.Availability.Online.
//
// Returns the device's online state before and after the call so
// callers (the MQTT bridge) can decide whether an availability publish is needed.
func (r *Registry) ApplyStatus(id int, fields StatusFields) (wasOnline, isOnline bool, err error) {
	r.mu.Lock()

	d, ok := r.devices[id]
	if !ok {
		r.mu.Unlock()
		return false, false, fmt.Errorf("%w: id %d", ErrDeviceNotFound, id)
	}

	wasOnline = d.Availability.Online
	changed := false

	if fields.HasPower && d.State.Power != fields.Power {
		d.State.Power = fields.Power
		changed = true
	}
	if fields.HasBrightness && d.State.BrightnessPct != fields.BrightnessPct {
		d.State.BrightnessPct = fields.BrightnessPct
		changed = true
	}
	if fields.HasColorTemp && d.State.ColorTempK != fields.ColorTempK {
		d.State.ColorTempK = fields.ColorTempK
		changed = true
	}
	if fields.HasRGB && d.State.RGB != fields.RGB {
		d.State.RGB = fields.RGB
		changed = true
	}
	d.State.ConnectedToMesh = fields.ConnectedToMesh

	if !fields.ConnectedToMesh {
		d.Availability.OfflineCount++
		if d.Availability.OfflineCount >= offlineThreshold && d.Availability.Online {
			d.Availability.Online = false
			r.logger.Info("device offline", "device_id", id, "offline_count", d.Availability.OfflineCount)
		}
	} else {
		d.Availability.OfflineCount = 0
		if !d.Availability.Online {
			d.Availability.Online = true
			r.logger.Info("device online", "device_id", id)
		}
	}

	// A later aggregated report supersedes the throttle latch: once the
	// mesh has reported this device's state, whatever command was in
	// flight has either landed or been lost, and the next command may
	// proceed without waiting out the latch TTL. A bare connectivity
	// report with no state fields leaves the latch alone.
	if len(d.pending) > 0 && (fields.HasPower || fields.HasBrightness || fields.HasColorTemp || fields.HasRGB) {
		for k := range d.pending {
			delete(d.pending, k)
		}
	}

	isOnline = d.Availability.Online
	observers := r.onAvailability
	stateObserver := r.onStateChange
	var snap Snapshot
	if changed && stateObserver != nil {
		snap = d.snapshot()
	}
	r.mu.Unlock()

	if wasOnline != isOnline {
		for _, observer := range observers {
			observer(id, isOnline)
		}
	}
	if changed && stateObserver != nil {
		stateObserver(id, snap)
	}
	return wasOnline, isOnline, nil
}

// WireStatus is a status report still in the protocol's wire units: 0..255
// brightness and a per-model color-temperature byte. Color temperature on
// the wire is expressed across each model's own Kelvin range, so
// converting it requires the device's declared Min/MaxColorTempK; callers
// that only have raw packet fields should use ApplyWireStatus instead of
// ApplyStatus so that range lookup happens in one place.
type WireStatus struct {
	ConnectedToMesh bool
	Power           PowerState
	HasPower        bool
	BrightnessWire  byte
	HasBrightness   bool
	ColorTempWire   byte
	HasColorTemp    bool
	RGB             RGB
	HasRGB          bool
}

// ApplyWireStatus converts wire-scale fields to the device's native
// percent/Kelvin scale and applies them via ApplyStatus.
func (r *Registry) ApplyWireStatus(id int, ws WireStatus) (wasOnline, isOnline bool, err error) {
	r.mu.RLock()
	d, ok := r.devices[id]
	var minK, maxK int
	if ok {
		minK, maxK = d.MinColorTempK, d.MaxColorTempK
	}
	r.mu.RUnlock()
	if !ok {
		return false, false, fmt.Errorf("%w: id %d", ErrDeviceNotFound, id)
	}

	fields := StatusFields{
		ConnectedToMesh: ws.ConnectedToMesh,
		HasPower:        ws.HasPower,
		Power:           ws.Power,
		HasRGB:          ws.HasRGB,
		RGB:             ws.RGB,
	}
	if ws.HasBrightness {
		fields.HasBrightness = true
		fields.BrightnessPct = protocol.PercentBrightness(ws.BrightnessWire)
	}
	if ws.HasColorTemp && maxK > minK {
		fields.HasColorTemp = true
		fields.ColorTempK = minK + int(ws.ColorTempWire)*(maxK-minK)/255
	}
	return r.ApplyStatus(id, fields)
}

// ApplyRawFields stores mesh-info entry fields this build doesn't model
// explicitly, so an unrecognized field from a newer device firmware is
// preserved rather than silently dropped.
func (r *Registry) ApplyRawFields(id int, raw map[string]json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrDeviceNotFound, id)
	}
	if len(raw) == 0 {
		return nil
	}
	if d.RawFields == nil {
		d.RawFields = make(map[string]json.RawMessage, len(raw))
	}
	for k, v := range raw {
		d.RawFields[k] = v
	}
	return nil
}

// MarkReady transitions a freshly authenticated connection to
// control-ready. If bridgeFlag is set, the device is additionally
// inserted into the bridge pool, subject to its configured cap: when the pool
// is already full, the device is still marked ready (so non-bridge
// commands addressed to it still work) but is NOT added to the pool,
// and ErrBridgePoolFull is returned so the caller can still ack the
// handshake without registering it for relay duty.
func (r *Registry) MarkReady(id int, bridgeFlag bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrDeviceNotFound, id)
	}
	d.State.ConnectedToMesh = true

	if !bridgeFlag {
		return nil
	}
	for _, existing := range r.bridgePool {
		if existing == id {
			return nil
		}
	}
	if len(r.bridgePool) >= r.bridgeCap {
		r.logger.Warn("bridge pool full, rejecting registration", "device_id", id, "cap", r.bridgeCap)
		return ErrBridgePoolFull
	}
	r.bridgePool = append(r.bridgePool, id)
	return nil
}

// RemoveFromBridgePool drops a device from the bridge pool, typically
// on disconnect. A no-op if the device was never a member.
func (r *Registry) RemoveFromBridgePool(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.bridgePool {
		if existing == id {
			r.bridgePool = append(r.bridgePool[:i], r.bridgePool[i+1:]...)
			return
		}
	}
}

// BridgePool returns the ids of devices currently registered as
// control-ready bridges, in registration order.
func (r *Registry) BridgePool() []int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]int, len(r.bridgePool))
	copy(out, r.bridgePool)
	return out
}

// TakePending implements the pending-command throttle gate: it atomically sets the
// pending latch for (id, kind) if not already set (or if the previous
// latch has expired), and reports whether the caller may proceed.
func (r *Registry) TakePending(id int, kind CommandKind, ttl time.Duration, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[id]
	if !ok {
		return false, fmt.Errorf("%w: id %d", ErrDeviceNotFound, id)
	}
	if deadline, pending := d.pending[kind]; pending && now.Before(deadline) {
		return false, nil
	}
	d.pending[kind] = now.Add(ttl)
	return true, nil
}

// ClearPending releases every pending latch on a device. The command
// dispatcher calls it on ack and on dispatch failure; ApplyStatus
// releases the latch itself when a later aggregated report arrives.
// Idempotent.
func (r *Registry) ClearPending(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[id]; ok {
		for k := range d.pending {
			delete(d.pending, k)
		}
	}
}

// HasPending reports whether a device currently holds an unexpired
// pending latch of any kind. Used by group-command fan-out to skip
// re-publishing a member's state over a command it is already mid-flight
// on of its own accord.
func (r *Registry) HasPending(id int, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[id]
	if !ok {
		return false
	}
	for _, deadline := range d.pending {
		if now.Before(deadline) {
			return true
		}
	}
	return false
}
