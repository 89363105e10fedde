package mesh

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/cync-bridge/internal/metrics"
	"github.com/nerrad567/cync-bridge/internal/protocol"
)

// defaultInterval is how often the periodic loop asks the next bridge
// in rotation for a fresh mesh_info snapshot.
const defaultInterval = 5 * time.Second

// Sender is the subset of transport.Server the refresher needs.
type Sender interface {
	Send(bridgeDeviceID int, frame []byte) error
	ConnectedBridges() []int
	NextMsgID() uint16
}

// Refresher periodically asks one bridge at a time for mesh_info,
// rotating through the live bridge pool, and also exposes RequestNow
// for event-driven refreshes after a command ack.
type Refresher struct {
	sender   Sender
	logger   *logging.Logger
	interval time.Duration

	mu       sync.Mutex
	rotation int

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New builds a Refresher. A zero interval selects the default.
func New(sender Sender, logger *logging.Logger, interval time.Duration) *Refresher {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Refresher{
		sender:   sender,
		logger:   logger,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start begins the periodic rotation. Must be followed by Stop.
func (r *Refresher) Start(ctx context.Context) {
	r.wg.Add(1)
	go r.loop(ctx)
}

// Stop ends the periodic rotation; safe to call multiple times.
func (r *Refresher) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
		r.wg.Wait()
	})
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-ticker.C:
			r.tick()
		}
	}
}

// tick asks the next bridge in rotation for mesh_info. It is a no-op
// when no bridge is currently connected, rather than an error: an
// empty pool is a transient, expected state during startup.
func (r *Refresher) tick() {
	bridges := r.sender.ConnectedBridges()
	if len(bridges) == 0 {
		return
	}

	r.mu.Lock()
	idx := r.rotation % len(bridges)
	r.rotation++
	r.mu.Unlock()

	bridgeID := bridges[idx]
	if err := r.requestWithTrigger(bridgeID, "periodic"); err != nil {
		r.logger.Warn("mesh_info refresh failed", "bridge_id", bridgeID, "error", err)
	}
}

// RequestNow sends an immediate, out-of-rotation mesh_info request to
// bridgeID. The command dispatcher calls it after a command ack, so the
// new state is confirmed promptly.
func (r *Refresher) RequestNow(bridgeID int) error {
	return r.requestWithTrigger(bridgeID, "event")
}

func (r *Refresher) requestWithTrigger(bridgeID int, trigger string) error {
	msgID := r.sender.NextMsgID()
	idBytes := protocol.EncodeID(uint32(bridgeID))
	frame := protocol.Encode(protocol.TypeMeshInfoRequest, msgID, idBytes[:])
	metrics.MeshRefreshesRequested.WithLabelValues(trigger).Inc()
	return r.sender.Send(bridgeID, frame)
}
