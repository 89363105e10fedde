package mqttbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/cync-bridge/internal/command"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/cync-bridge/internal/meshmodel"
	"github.com/nerrad567/cync-bridge/internal/protocol"
)

// Dispatcher is the subset of command.Dispatcher the bridge needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, intent command.Intent) error
}

// Bridge is the Home Assistant-facing MQTT surface: it publishes
// discovery/state/availability and turns inbound command topics into
// command.Intent dispatches.
type Bridge struct {
	client     *mqtt.Client
	topics     mqtt.Topics
	registry   *meshmodel.Registry
	dispatcher Dispatcher
	logger     *logging.Logger
	qos        byte

	mu         sync.RWMutex
	deviceByID map[string]int // hass_id -> device id
	groupByID  map[string]int // hass_id -> group id
}

// New builds a Bridge. Call Start to subscribe and publish discovery.
func New(client *mqtt.Client, topics mqtt.Topics, registry *meshmodel.Registry, dispatcher Dispatcher, qos byte, logger *logging.Logger) *Bridge {
	b := &Bridge{
		client:     client,
		topics:     topics,
		registry:   registry,
		dispatcher: dispatcher,
		qos:        qos,
		logger:     logger,
		deviceByID: make(map[string]int),
		groupByID:  make(map[string]int),
	}
	registry.AddAvailabilityObserver(b.publishAvailability)
	return b
}

// groupHassID derives a stable hass_id for a group, since groups are
// declared from configuration and carry no vendor-assigned id of their
// own the way devices do.
func groupHassID(g meshmodel.Group) string {
	return fmt.Sprintf("group-%d", g.ID)
}

// Start builds the hass_id indexes, publishes discovery configs for
// every device and every non-fan-only group, publishes each device's current state and
// availability, and subscribes to command topics.
func (b *Bridge) Start() error {
	b.mu.Lock()
	for _, d := range b.registry.Devices() {
		b.deviceByID[d.HassID] = d.ID
	}
	for _, g := range b.registry.Groups() {
		b.groupByID[groupHassID(g)] = g.ID
	}
	b.mu.Unlock()

	for _, d := range b.registry.Devices() {
		if err := b.publishDiscovery(d); err != nil {
			b.logger.Warn("discovery publish failed", "hass_id", d.HassID, "error", err)
		}
		b.publishState(d)
		b.publishAvailability(d.ID, d.Availability.Online)
	}

	for _, g := range b.registry.Groups() {
		fanOnly, err := b.registry.IsFanOnlyGroup(g.ID)
		if err != nil || fanOnly {
			continue
		}
		if err := b.publishGroupDiscovery(g); err != nil {
			b.logger.Warn("group discovery publish failed", "group_id", g.ID, "error", err)
		}
		b.publishGroupState(g)
	}

	if err := b.client.Subscribe(b.topics.AllSet(), b.qos, b.handleSet); err != nil {
		return fmt.Errorf("mqttbridge: subscribe %s: %w", b.topics.AllSet(), err)
	}
	if err := b.client.Subscribe(b.topics.AllSetSubtopics(), b.qos, b.handleSetSubtopic); err != nil {
		return fmt.Errorf("mqttbridge: subscribe %s: %w", b.topics.AllSetSubtopics(), err)
	}
	return nil
}

// publishGroupDiscovery registers a group as a single HA light entity
// reflecting its aggregated state, which excludes switch members. Every
// group advertises the same onoff/brightness/color_temp mode list,
// whatever its members support.
func (b *Bridge) publishGroupDiscovery(g meshmodel.Group) error {
	hassID := groupHassID(g)
	payload, err := json.Marshal(map[string]any{
		"name":                  g.Name,
		"unique_id":             hassID,
		"schema":                "json",
		"state_topic":           b.topics.Status(hassID),
		"command_topic":         b.topics.Set(hassID),
		"supported_color_modes": []string{"onoff", "brightness", "color_temp"},
	})
	if err != nil {
		return fmt.Errorf("mqttbridge: marshal group discovery for %s: %w", hassID, err)
	}
	return b.client.Publish(b.topics.DiscoveryConfig("light", hassID), payload, b.qos, true)
}

func (b *Bridge) publishGroupState(g meshmodel.Group) {
	agg, err := b.registry.Aggregate(g.ID)
	if err != nil {
		return
	}
	ls := lightState{State: powerString(agg.Power)}
	if agg.BrightnessPct > 0 {
		v := protocol.WireBrightness(agg.BrightnessPct)
		iv := int(v)
		ls.Brightness = &iv
	}
	if agg.HasColorTemp {
		ls.ColorMode = "color_temp"
		k := agg.ColorTempK
		ls.ColorTemp = &k
	} else {
		ls.ColorMode = "onoff"
	}
	payload, err := json.Marshal(ls)
	if err != nil {
		return
	}
	hassID := groupHassID(g)
	if err := b.client.Publish(b.topics.Status(hassID), payload, b.qos, true); err != nil {
		b.logger.Warn("group state publish failed", "hass_id", hassID, "error", err)
	}
}

func (b *Bridge) publishDiscovery(d meshmodel.Snapshot) error {
	platform, payload, err := discoveryConfig(b.topics, d)
	if err != nil {
		return err
	}
	return b.client.Publish(b.topics.DiscoveryConfig(platform, d.HassID), payload, b.qos, true)
}

// publishState republishes every topic statePayloads names for d's
// current snapshot.
func (b *Bridge) publishState(d meshmodel.Snapshot) {
	for _, op := range statePayloads(b.topics, d) {
		if err := b.client.Publish(op.Topic, op.Payload, b.qos, op.Retained); err != nil {
			b.logger.Warn("state publish failed", "topic", op.Topic, "error", err)
		}
	}
}

// PublishDeviceState re-publishes one device's current state; the
// supervisor's mesh_info handler calls it after a report updates the registry.
func (b *Bridge) PublishDeviceState(deviceID int) {
	snap, err := b.registry.Device(deviceID)
	if err != nil {
		return
	}
	b.publishState(snap)
}

// publishAvailability is the registry's online/offline observer.
func (b *Bridge) publishAvailability(deviceID int, online bool) {
	snap, err := b.registry.Device(deviceID)
	if err != nil {
		return
	}
	payload := "offline"
	if online {
		payload = "online"
	}
	if err := b.client.Publish(b.topics.Availability(snap.HassID), []byte(payload), b.qos, true); err != nil {
		b.logger.Warn("availability publish failed", "hass_id", snap.HassID, "error", err)
	}
}

// PublishOptimistic implements command.StatePublisher: it republishes
// the device's state immediately using the intent's requested values,
// without waiting for a mesh_info confirmation.
func (b *Bridge) PublishOptimistic(deviceID int, intent command.Intent) {
	snap, err := b.registry.Device(deviceID)
	if err != nil {
		return
	}
	switch intent.Kind {
	case meshmodel.CommandPower:
		snap.State.Power = meshmodel.PowerOff
		if intent.Power {
			snap.State.Power = meshmodel.PowerOn
		}
	case meshmodel.CommandBrightness:
		snap.State.BrightnessPct = intent.BrightnessPct
	case meshmodel.CommandColorTemp:
		snap.State.ColorTempK = intent.ColorTempK
	case meshmodel.CommandRGB:
		snap.State.RGB = intent.RGB
	}
	b.publishState(snap)
}

// PublishGroupOptimistic implements command.StatePublisher for group
// targets. Power and brightness are locally predictable, so each
// non-switch member republishes immediately the same way a per-device
// optimistic publish would; color temperature and RGB only publish at
// the group's own entity, since a multi-device group has no single
// per-member value to predict until the next mesh-info refresh reports
// it.
func (b *Bridge) PublishGroupOptimistic(groupID int, memberIDs []int, intent command.Intent) {
	switch intent.Kind {
	case meshmodel.CommandPower, meshmodel.CommandBrightness:
		for _, memberID := range memberIDs {
			snap, err := b.registry.Device(memberID)
			if err != nil || snap.IsSwitch() {
				continue
			}
			b.PublishOptimistic(memberID, intent)
		}
	case meshmodel.CommandColorTemp, meshmodel.CommandRGB:
		b.publishGroupOptimisticColor(groupID, intent)
	}
}

// publishGroupOptimisticColor publishes the group entity's expected
// color state directly from intent, without touching any member's
// registry state.
func (b *Bridge) publishGroupOptimisticColor(groupID int, intent command.Intent) {
	group, err := b.registry.Group(groupID)
	if err != nil {
		return
	}
	ls := lightState{State: "ON"}
	if intent.Kind == meshmodel.CommandColorTemp {
		ls.ColorMode = "color_temp"
		k := intent.ColorTempK
		ls.ColorTemp = &k
	} else {
		ls.ColorMode = "rgb"
		ls.Color = &rgbOut{R: intent.RGB.R, G: intent.RGB.G, B: intent.RGB.B}
	}
	payload, err := json.Marshal(ls)
	if err != nil {
		return
	}
	hassID := groupHassID(group)
	if err := b.client.Publish(b.topics.Status(hassID), payload, b.qos, false); err != nil {
		b.logger.Warn("group optimistic color publish failed", "hass_id", hassID, "error", err)
	}
}

// SyncGroupSwitches re-publishes the status topic of every switch-class
// member of group so its displayed state matches the group's own
// aggregated power, skipping any member that currently holds its own
// pending command latch: that member's own command is still
// in-flight and will publish its own result shortly.
//
// Switch members are excluded from group aggregation itself but
// still need to visually track a group toggle once it lands, since a
// user flipping the group switch expects every member switch entity in
// Home Assistant to reflect the same on/off a moment later.
func (b *Bridge) SyncGroupSwitches(groupID int) {
	group, err := b.registry.Group(groupID)
	if err != nil {
		return
	}
	agg, err := b.registry.Aggregate(groupID)
	if err != nil {
		return
	}
	now := time.Now()
	for _, memberID := range group.MemberIDs {
		snap, err := b.registry.Device(memberID)
		if err != nil || entityClass(snap) != "switch" {
			continue
		}
		if b.registry.HasPending(memberID, now) {
			continue
		}
		if err := b.client.Publish(b.topics.Status(snap.HassID), []byte(powerString(agg.Power)), b.qos, true); err != nil {
			b.logger.Warn("group switch sync publish failed", "hass_id", snap.HassID, "error", err)
		}
	}
}

// resolve maps a hass_id from an inbound topic to a command target.
func (b *Bridge) resolve(hassID string) (target protocol.TargetKind, id int, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if devID, found := b.deviceByID[hassID]; found {
		return protocol.TargetDevice, devID, true
	}
	if grpID, found := b.groupByID[hassID]; found {
		return protocol.TargetGroup, grpID, true
	}
	return 0, 0, false
}

// jsonLightCommand is the subset of HA's JSON light schema this bridge
// accepts on the bare "<base>/set/<hass_id>" topic.
type jsonLightCommand struct {
	State      *string `json:"state"`
	Brightness *int    `json:"brightness"`
	ColorTemp  *int    `json:"color_temp_kelvin"`
	Color      *struct {
		R byte `json:"r"`
		G byte `json:"g"`
		B byte `json:"b"`
	} `json:"color"`
}

// handleSet processes "<base>/set/<hass_id>": a bare ON/OFF payload, or
// (for lights) a JSON document carrying several fields at once.
func (b *Bridge) handleSet(topic string, payload []byte) error {
	hassID := lastSegment(topic)

	target, id, ok := b.resolve(hassID)
	if !ok {
		return fmt.Errorf("mqttbridge: unknown command target %q", hassID)
	}

	trimmed := strings.TrimSpace(string(payload))
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var cmd jsonLightCommand
		if err := json.Unmarshal(payload, &cmd); err != nil {
			return fmt.Errorf("mqttbridge: decode light command: %w", err)
		}
		return b.dispatchLightCommand(target, id, cmd)
	}

	return b.dispatcher.Dispatch(context.Background(), command.Intent{
		Target: target, TargetID: id, Kind: meshmodel.CommandPower,
		Power: strings.EqualFold(trimmed, "ON"),
	})
}

func (b *Bridge) dispatchLightCommand(target protocol.TargetKind, id int, cmd jsonLightCommand) error {
	ctx := context.Background()
	if cmd.State != nil {
		if err := b.dispatcher.Dispatch(ctx, command.Intent{Target: target, TargetID: id, Kind: meshmodel.CommandPower, Power: strings.EqualFold(*cmd.State, "ON")}); err != nil {
			return err
		}
	}
	if cmd.Brightness != nil {
		if err := b.dispatcher.Dispatch(ctx, command.Intent{Target: target, TargetID: id, Kind: meshmodel.CommandBrightness, BrightnessPct: protocol.PercentBrightness(byte(*cmd.Brightness))}); err != nil {
			return err
		}
	}
	if cmd.ColorTemp != nil {
		if err := b.dispatcher.Dispatch(ctx, command.Intent{Target: target, TargetID: id, Kind: meshmodel.CommandColorTemp, ColorTempK: *cmd.ColorTemp}); err != nil {
			return err
		}
	}
	if cmd.Color != nil {
		if err := b.dispatcher.Dispatch(ctx, command.Intent{Target: target, TargetID: id, Kind: meshmodel.CommandRGB, RGB: meshmodel.RGB{R: cmd.Color.R, G: cmd.Color.G, B: cmd.Color.B}}); err != nil {
			return err
		}
	}
	return nil
}

// handleSetSubtopic processes "<base>/set/<hass_id>/<subtopic>".
func (b *Bridge) handleSetSubtopic(topic string, payload []byte) error {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return fmt.Errorf("mqttbridge: malformed command subtopic %q", topic)
	}
	subtopic := parts[len(parts)-1]
	hassID := parts[len(parts)-2]

	target, id, ok := b.resolve(hassID)
	if !ok {
		return fmt.Errorf("mqttbridge: unknown command target %q", hassID)
	}

	text := strings.TrimSpace(string(payload))
	switch subtopic {
	case "brightness":
		pct, err := strconv.Atoi(text)
		if err != nil {
			return fmt.Errorf("mqttbridge: invalid brightness %q: %w", text, err)
		}
		return b.dispatcher.Dispatch(context.Background(), command.Intent{Target: target, TargetID: id, Kind: meshmodel.CommandBrightness, BrightnessPct: pct})

	case "color_temp":
		k, err := strconv.Atoi(text)
		if err != nil {
			return fmt.Errorf("mqttbridge: invalid color_temp %q: %w", text, err)
		}
		return b.dispatcher.Dispatch(context.Background(), command.Intent{Target: target, TargetID: id, Kind: meshmodel.CommandColorTemp, ColorTempK: k})

	case "rgb":
		rgb, err := parseRGB(text)
		if err != nil {
			return err
		}
		return b.dispatcher.Dispatch(context.Background(), command.Intent{Target: target, TargetID: id, Kind: meshmodel.CommandRGB, RGB: rgb})

	case "preset":
		return b.dispatcher.Dispatch(context.Background(), command.Intent{Target: target, TargetID: id, Kind: meshmodel.CommandFanSpeed, FanPreset: strings.ToLower(text)})

	default:
		return fmt.Errorf("mqttbridge: unknown command subtopic %q", subtopic)
	}
}

func parseRGB(text string) (meshmodel.RGB, error) {
	parts := strings.Split(text, ",")
	if len(parts) != 3 {
		return meshmodel.RGB{}, fmt.Errorf("mqttbridge: rgb payload must be \"r,g,b\", got %q", text)
	}
	vals := make([]byte, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 0 || n > 255 {
			return meshmodel.RGB{}, fmt.Errorf("mqttbridge: invalid rgb channel %q", p)
		}
		vals[i] = byte(n)
	}
	return meshmodel.RGB{R: vals[0], G: vals[1], B: vals[2]}, nil
}

// lastSegment returns the final "/"-delimited element of topic.
func lastSegment(topic string) string {
	parts := strings.Split(topic, "/")
	return parts[len(parts)-1]
}
