package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/cync-bridge/internal/meshmodel"
	"github.com/nerrad567/cync-bridge/internal/metrics"
	"github.com/nerrad567/cync-bridge/internal/protocol"
	"github.com/nerrad567/cync-bridge/internal/transport"
)

// pendingTTL bounds how long the pending-command throttle latch holds before a
// repeat command to the same device/kind is allowed through again,
// independent of whether an ack ever arrived.
const pendingTTL = 2 * time.Second

// BridgeSender is the subset of transport.Server the dispatcher needs.
// Defined here (not embedded from transport) so tests can substitute a
// fake without standing up a real TLS listener.
type BridgeSender interface {
	Send(bridgeDeviceID int, frame []byte) error
	NextMsgID() uint16
	AwaitAck(targetID uint32, msgID uint16) <-chan transport.AckResult
	ConnectedBridges() []int
}

// Registry is the subset of meshmodel.Registry the dispatcher needs.
type Registry interface {
	Device(id int) (meshmodel.Snapshot, error)
	Group(id int) (meshmodel.Group, error)
	TakePending(id int, kind meshmodel.CommandKind, ttl time.Duration, now time.Time) (bool, error)
	ClearPending(id int)
}

// StatePublisher lets the dispatcher optimistically publish a device's
// new state to MQTT as soon as a command is accepted for send, instead
// of waiting for the mesh to report it back (the MQTT surface's optimistic-update
// requirement). PublishGroupOptimistic is the group-command counterpart:
// power/brightness fan out to each non-switch member, while
// color-temperature/RGB publish only at the group level, since
// per-member state there is only authoritative once the next
// mesh-info refresh reports it.
type StatePublisher interface {
	PublishOptimistic(deviceID int, intent Intent)
	PublishGroupOptimistic(groupID int, memberIDs []int, intent Intent)
}

type noopPublisher struct{}

func (noopPublisher) PublishOptimistic(int, Intent)              {}
func (noopPublisher) PublishGroupOptimistic(int, []int, Intent) {}

// Refresher lets the dispatcher request an out-of-rotation mesh-info
// refresh from the bridge that just carried a successful command, so
// the registry picks up the device's confirmed state sooner than the
// next periodic refresh would.
type Refresher interface {
	RequestNow(bridgeID int) error
}

type noopRefresher struct{}

func (noopRefresher) RequestNow(int) error { return nil }

// GroupSyncer lets the dispatcher ask the MQTT surface to re-publish group-member
// switch state once a group command acks, since switches sit outside
// group aggregation, which excludes switches, and would otherwise never visibly follow it.
type GroupSyncer interface {
	SyncGroupSwitches(groupID int)
}

type noopGroupSyncer struct{}

func (noopGroupSyncer) SyncGroupSwitches(int) {}

// CommandLogger persists an audit trail of accepted commands and their
// eventual outcome, independent of the in-memory throttle latch.
type CommandLogger interface {
	LogCommand(ctx context.Context, targetType string, targetID int, intent Intent, bridgeDeviceID int) (correlationID string, err error)
	MarkAcked(ctx context.Context, correlationID string) error
	MarkFailed(ctx context.Context, correlationID string) error
	MarkTimedOut(ctx context.Context, correlationID string) error
}

type noopCommandLogger struct{}

func (noopCommandLogger) LogCommand(context.Context, string, int, Intent, int) (string, error) {
	return "", nil
}
func (noopCommandLogger) MarkAcked(context.Context, string) error    { return nil }
func (noopCommandLogger) MarkFailed(context.Context, string) error   { return nil }
func (noopCommandLogger) MarkTimedOut(context.Context, string) error { return nil }

// Dispatcher turns Intents into wire Control frames, fanning each out
// to CommandTargets ranked bridges and waiting for the first ack.
type Dispatcher struct {
	sender      BridgeSender
	registry    Registry
	ranker      *Ranker
	publisher   StatePublisher
	refresher   Refresher
	groupSyncer GroupSyncer
	cmdLogger   CommandLogger
	logger      *logging.Logger

	targets   int
	ackWindow time.Duration

	// slowOpThreshold, when non-zero, logs any command round trip that
	// exceeds it.
	slowOpThreshold time.Duration
}

// New builds a Dispatcher. targets is how many ranked bridges a single
// command fans out to (config.ServerConfig.CommandTargets); ackWindow
// is the per-send ack deadline.
func New(sender BridgeSender, registry Registry, targets int, ackWindow time.Duration, logger *logging.Logger) *Dispatcher {
	if targets < 1 {
		targets = 1
	}
	return &Dispatcher{
		sender:      sender,
		registry:    registry,
		ranker:      NewRanker(),
		publisher:   noopPublisher{},
		refresher:   noopRefresher{},
		groupSyncer: noopGroupSyncer{},
		cmdLogger:   noopCommandLogger{},
		logger:      logger,
		targets:     targets,
		ackWindow:   ackWindow,
	}
}

// SetPublisher wires the MQTT optimistic-update hook.
func (d *Dispatcher) SetPublisher(p StatePublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	d.publisher = p
}

// SetRefresher wires the event-driven mesh refresh hook.
func (d *Dispatcher) SetRefresher(r Refresher) {
	if r == nil {
		r = noopRefresher{}
	}
	d.refresher = r
}

// SetGroupSyncer wires the post-ack group-switch sync hook.
func (d *Dispatcher) SetGroupSyncer(s GroupSyncer) {
	if s == nil {
		s = noopGroupSyncer{}
	}
	d.groupSyncer = s
}

// SetSlowOpThreshold enables slow-operation logging: round trips
// slower than threshold are logged at warn. Zero disables.
func (d *Dispatcher) SetSlowOpThreshold(threshold time.Duration) {
	d.slowOpThreshold = threshold
}

// SetCommandLogger wires the command audit trail.
func (d *Dispatcher) SetCommandLogger(l CommandLogger) {
	if l == nil {
		l = noopCommandLogger{}
	}
	d.cmdLogger = l
}

// Dispatch validates and sends one intent. A device target applies the
// pending-command throttle gate and sends directly to that device id; a
// group target sends a single control packet addressed to the group's
// own id instead of fanning out one send per member.
func (d *Dispatcher) Dispatch(ctx context.Context, intent Intent) error {
	switch intent.Target {
	case protocol.TargetDevice:
		return d.dispatchDevice(ctx, intent)
	case protocol.TargetGroup:
		return d.dispatchGroup(ctx, intent)
	default:
		return fmt.Errorf("command: unknown target kind %d", intent.Target)
	}
}

// dispatchGroup sends one control packet addressed to the group's own
// id, the way the mesh itself addresses a whole group. Once that packet
// acks, non-switch members are published optimistically and
// sync_group_switches re-publishes switch members to match the group's
// new state, skipping any member with its own pending command.
func (d *Dispatcher) dispatchGroup(ctx context.Context, intent Intent) error {
	group, err := d.registry.Group(intent.TargetID)
	if err != nil {
		return err
	}

	kind, value, err := d.groupControlValue(intent, group)
	if err != nil {
		return err
	}

	candidates := d.sender.ConnectedBridges()
	if len(candidates) == 0 {
		return ErrNoBridgeAvailable
	}
	targets := d.ranker.Take(candidates, d.targets)

	correlationID, logErr := d.cmdLogger.LogCommand(ctx, "group", group.ID, intent, 0)
	if logErr != nil {
		d.logger.Debug("command audit log write failed", "group_id", group.ID, "error", logErr)
	}

	ackedBridge, err := d.fanOut(ctx, targets, protocol.TargetGroup, uint32(group.ID), kind, value)
	if err != nil {
		metrics.CommandsDispatched.WithLabelValues("failed").Inc()
		d.logOutcome(ctx, correlationID, err)
		return fmt.Errorf("%w: %v", ErrAllTargetsFailed, err)
	}

	metrics.CommandsDispatched.WithLabelValues("acked").Inc()
	if correlationID != "" {
		if err := d.cmdLogger.MarkAcked(ctx, correlationID); err != nil {
			d.logger.Debug("command audit log update failed", "correlation_id", correlationID, "error", err)
		}
	}
	if err := d.refresher.RequestNow(ackedBridge); err != nil {
		d.logger.Debug("post-ack refresh request skipped", "bridge_id", ackedBridge, "error", err)
	}
	d.publisher.PublishGroupOptimistic(group.ID, group.MemberIDs, intent)
	d.groupSyncer.SyncGroupSwitches(group.ID)
	return nil
}

// logOutcome records a failed dispatch in the audit trail, keeping ack
// timeouts distinct from outright send failures.
func (d *Dispatcher) logOutcome(ctx context.Context, correlationID string, lastErr error) {
	if correlationID == "" {
		return
	}
	var err error
	if errors.Is(lastErr, transport.ErrAckTimeout) {
		err = d.cmdLogger.MarkTimedOut(ctx, correlationID)
	} else {
		err = d.cmdLogger.MarkFailed(ctx, correlationID)
	}
	if err != nil {
		d.logger.Debug("command audit log update failed", "correlation_id", correlationID, "error", err)
	}
}

// groupControlValue builds the wire payload for a group intent.
// Everything but color temperature converts without needing a specific
// device's range (brightness/rgb/fan-speed/power are uniform across
// devices); color temperature borrows the range of the first
// color-capable member, since the single group-addressed packet still
// carries one device-style byte value.
func (d *Dispatcher) groupControlValue(intent Intent, group meshmodel.Group) (protocol.ControlKind, []byte, error) {
	var dev meshmodel.Snapshot
	if intent.Kind == meshmodel.CommandColorTemp {
		found := false
		for _, memberID := range group.MemberIDs {
			m, err := d.registry.Device(memberID)
			if err == nil && m.Capabilities.Has(meshmodel.CapColorTemp) {
				dev = m
				found = true
				break
			}
		}
		if !found {
			return 0, nil, fmt.Errorf("%w: group %d has no color-temperature-capable member", ErrUnsupportedCapability, group.ID)
		}
	}
	return controlValue(intent, dev)
}

func (d *Dispatcher) dispatchDevice(ctx context.Context, intent Intent) error {
	dev, err := d.registry.Device(intent.TargetID)
	if err != nil {
		return err
	}
	needed := capabilityFor(intent.Kind)
	if needed != 0 && !dev.Capabilities.Has(needed) {
		return fmt.Errorf("%w: device %d, kind %d", ErrUnsupportedCapability, dev.ID, intent.Kind)
	}

	ok, err := d.registry.TakePending(dev.ID, intent.Kind, pendingTTL, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		metrics.CommandsDispatched.WithLabelValues("throttled").Inc()
		return ErrThrottled
	}

	kind, value, err := controlValue(intent, dev)
	if err != nil {
		d.registry.ClearPending(dev.ID)
		return err
	}

	candidates := d.sender.ConnectedBridges()
	if len(candidates) == 0 {
		d.registry.ClearPending(dev.ID)
		return ErrNoBridgeAvailable
	}
	targets := d.ranker.Take(candidates, d.targets)

	d.publisher.PublishOptimistic(dev.ID, intent)

	correlationID, logErr := d.cmdLogger.LogCommand(ctx, "device", dev.ID, intent, 0)
	if logErr != nil {
		d.logger.Debug("command audit log write failed", "device_id", dev.ID, "error", logErr)
	}

	ackedBridge, err := d.fanOut(ctx, targets, protocol.TargetDevice, uint32(dev.ID), kind, value)
	d.registry.ClearPending(dev.ID)
	if err != nil {
		metrics.CommandsDispatched.WithLabelValues("failed").Inc()
		d.logOutcome(ctx, correlationID, err)
		return fmt.Errorf("%w: %v", ErrAllTargetsFailed, err)
	}

	metrics.CommandsDispatched.WithLabelValues("acked").Inc()
	if correlationID != "" {
		if err := d.cmdLogger.MarkAcked(ctx, correlationID); err != nil {
			d.logger.Debug("command audit log update failed", "correlation_id", correlationID, "error", err)
		}
	}
	if err := d.refresher.RequestNow(ackedBridge); err != nil {
		d.logger.Debug("post-ack refresh request skipped", "bridge_id", ackedBridge, "error", err)
	}
	return nil
}

// fanOut sends the control frame through every target bridge at once
// and returns as soon as any one of them delivers an ack. Mesh delivery
// has asymmetric RSSI, so two simultaneous relays sharply cut lost
// commands; a single ack suffices and duplicates die in the ack table.
// Returns the bridge that acked first, or the last failure once every
// target has failed.
func (d *Dispatcher) fanOut(ctx context.Context, targets []int, target protocol.TargetKind, targetID uint32, kind protocol.ControlKind, value []byte) (ackedBridge int, err error) {
	type outcome struct {
		bridgeID int
		latency  time.Duration
		err      error
	}
	// Buffered to len(targets) so stragglers never block after the
	// first ack has already won.
	results := make(chan outcome, len(targets))
	for _, bridgeID := range targets {
		go func(bridgeID int) {
			latency, sendErr := d.sendToBridge(ctx, bridgeID, target, targetID, kind, value)
			results <- outcome{bridgeID: bridgeID, latency: latency, err: sendErr}
		}(bridgeID)
	}

	var lastErr error
	for remaining := len(targets); remaining > 0; remaining-- {
		res := <-results
		d.ranker.Observe(res.bridgeID, res.latency, res.err == nil)
		if res.err != nil {
			lastErr = res.err
			continue
		}
		// Keep draining so the losers' latencies still feed the
		// ranker.
		if left := remaining - 1; left > 0 {
			go func() {
				for i := 0; i < left; i++ {
					late := <-results
					d.ranker.Observe(late.bridgeID, late.latency, late.err == nil)
				}
			}()
		}
		return res.bridgeID, nil
	}
	if lastErr == nil {
		lastErr = ErrAllTargetsFailed
	}
	return 0, lastErr
}

// sendToBridge encodes and sends one control frame through bridgeID and
// waits (bounded by ctx and ackWindow) for its correlated ack. It returns
// the observed round-trip latency regardless of outcome, for ranking.
func (d *Dispatcher) sendToBridge(ctx context.Context, bridgeID int, target protocol.TargetKind, targetID uint32, kind protocol.ControlKind, value []byte) (time.Duration, error) {
	start := time.Now()
	msgID := d.sender.NextMsgID()

	control := protocol.Control{Target: target, TargetID: targetID, MsgID: msgID, Kind: kind, Value: value}
	body, err := protocol.EncodeControl(control)
	if err != nil {
		return 0, err
	}
	frame := protocol.Encode(protocol.TypeControl, msgID, body)

	ackCh := d.sender.AwaitAck(targetID, msgID)
	if err := d.sender.Send(bridgeID, frame); err != nil {
		d.observeAckLatency("send_error", time.Since(start))
		return time.Since(start), err
	}

	select {
	case res := <-ackCh:
		if res.Err != nil {
			d.observeAckLatency("error", time.Since(start))
			return time.Since(start), res.Err
		}
		if res.Ack.Status != protocol.AckOK {
			d.observeAckLatency("rejected", time.Since(start))
			return time.Since(start), fmt.Errorf("device rejected command (status %d)", res.Ack.Status)
		}
		d.observeAckLatency("ok", time.Since(start))
		return time.Since(start), nil
	case <-ctx.Done():
		d.observeAckLatency("cancelled", time.Since(start))
		return time.Since(start), ctx.Err()
	case <-time.After(d.ackWindow):
		d.observeAckLatency("timeout", time.Since(start))
		return time.Since(start), transport.ErrAckTimeout
	}
}

func (d *Dispatcher) observeAckLatency(outcome string, elapsed time.Duration) {
	metrics.CommandAckLatency.WithLabelValues(outcome).Observe(elapsed.Seconds())
	if d.slowOpThreshold > 0 && elapsed > d.slowOpThreshold {
		d.logger.Warn("slow command round trip", "outcome", outcome, "elapsed_ms", elapsed.Milliseconds())
	}
}
