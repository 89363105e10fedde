package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/config"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/cync-bridge/internal/meshmodel"
	"github.com/nerrad567/cync-bridge/internal/metrics"
	"github.com/nerrad567/cync-bridge/internal/protocol"
	"github.com/nerrad567/cync-bridge/internal/relay"
)

// sweepInterval is how often the ack table is checked for expired
// waiters; short enough that ack timeouts fire promptly without
// meaningfully busy-looping.
const sweepInterval = time.Second

// Server terminates every device's TLS connection and owns the shared
// ack-correlation table and bridge dispatch. It has no knowledge of
// command semantics or mesh state beyond what the registry already
// tracks; its job ends at decoded frames in, encoded frames out.
type Server struct {
	cfg      *config.Config
	registry *meshmodel.Registry
	logger   *logging.Logger
	acks     *ackTable
	relay    *relay.Relay

	onConnect    func(deviceID int, isBridge bool)
	onDisconnect func(deviceID int)
	onMeshInfo   func(bridgeDeviceID int, info protocol.MeshInfo)

	mu          sync.RWMutex
	connections map[int]*Connection

	listener net.Listener

	closeOnce sync.Once
	closed    chan struct{}
}

// Options configures the callbacks higher layers (the dispatcher, mesh refresher, and MQTT bridge) hook into
// the connection lifecycle. All fields are optional; a nil callback is
// simply skipped.
type Options struct {
	// OnConnect fires once a device reaches READY.
	OnConnect func(deviceID int, isBridge bool)
	// OnDisconnect fires once a connection's loops have all exited.
	OnDisconnect func(deviceID int)
	// OnMeshInfo fires whenever a bridge reports a mesh_info packet,
	// after the registry has been updated from it.
	OnMeshInfo func(bridgeDeviceID int, info protocol.MeshInfo)
}

// NewServer builds a Server bound to registry but does not yet listen.
func NewServer(cfg *config.Config, registry *meshmodel.Registry, logger *logging.Logger, opts Options) *Server {
	s := &Server{
		cfg:         cfg,
		registry:    registry,
		logger:      logger,
		acks:        newAckTable(),
		relay:       relay.New(cfg.CloudRelay, logger),
		connections: make(map[int]*Connection),
		closed:      make(chan struct{}),
	}
	s.onConnect = noopConnect
	s.onDisconnect = noopDisconnect
	s.onMeshInfo = noopMeshInfo
	if opts.OnConnect != nil {
		s.onConnect = opts.OnConnect
	}
	if opts.OnDisconnect != nil {
		s.onDisconnect = opts.OnDisconnect
	}
	if opts.OnMeshInfo != nil {
		s.onMeshInfo = opts.OnMeshInfo
	}
	return s
}

func noopConnect(int, bool) {}
func noopDisconnect(int)    {}
func noopMeshInfo(int, protocol.MeshInfo) {}

// ListenAndServe loads the configured certificate, starts the TLS
// listener, and accepts connections until ctx is cancelled or Shutdown
// is called. It blocks until the listener stops.
func (s *Server) ListenAndServe(ctx context.Context) error {
	cert, err := tls.LoadX509KeyPair(s.cfg.Server.CertFile, s.cfg.Server.KeyFile)
	if err != nil {
		return fmt.Errorf("loading device TLS certificate: %w", err)
	}
	tlsCfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	ln, err := tls.Listen("tcp", s.cfg.Server.ListenAddr, tlsCfg)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Server.ListenAddr, err)
	}
	s.listener = ln

	go s.sweepLoop(ctx)

	s.logger.Info("device listener started", "addr", s.cfg.Server.ListenAddr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			s.logger.Warn("accept error", "error", err)
			continue
		}
		go s.serve(ctx, conn)
	}
}

// sweepLoop periodically expires stale ack waiters so AwaitAck callers
// are never blocked past the ack deadline even if no ack ever arrives, and uses
// the same tick to refresh the gauges that change outside any single
// request (pool occupancy, ready device count, pending ack count).
func (s *Server) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.closed:
			return
		case now := <-ticker.C:
			if n := s.acks.sweep(now); n > 0 {
				s.logger.Debug("ack sweep expired waiters", "count", n)
			}
			s.reportGauges()
		}
	}
}

// reportGauges refreshes the Prometheus gauges that reflect current
// connection/pool state rather than a discrete event.
func (s *Server) reportGauges() {
	metrics.BridgePoolSize.Set(float64(len(s.registry.BridgePool())))
	metrics.PendingAckTableSize.Set(float64(s.acks.pendingCount()))

	s.mu.RLock()
	ready := len(s.connections)
	s.mu.RUnlock()
	metrics.ReadyDevices.Set(float64(ready))
}

// registerConnection publishes a newly authenticated connection so
// Send can find it. Replaces any prior live connection for the same
// device id, which can legitimately happen if the old socket hadn't
// finished tearing down yet.
func (s *Server) registerConnection(c *Connection) {
	s.mu.Lock()
	s.connections[int(c.deviceID)] = c
	s.mu.Unlock()
}

func (s *Server) unregisterConnection(c *Connection) {
	s.mu.Lock()
	if existing, ok := s.connections[int(c.deviceID)]; ok && existing == c {
		delete(s.connections, int(c.deviceID))
	}
	s.mu.Unlock()
}

// handleMeshInfo applies a bridge-reported mesh_info packet to the
// registry (wire-unit conversion, availability transitions, pending
// latch release) and forwards the raw packet to the registered
// observer so upper layers can react without re-decoding it
// themselves.
func (s *Server) handleMeshInfo(bridgeDeviceID int, info protocol.MeshInfo) {
	for _, entry := range info.Entries {
		power := meshmodel.PowerOff
		if entry.Power {
			power = meshmodel.PowerOn
		}
		ws := meshmodel.WireStatus{
			ConnectedToMesh: entry.ConnectedToMesh,
			HasPower:        true,
			Power:           power,
			HasBrightness:   true,
			BrightnessWire:  entry.BrightnessWire,
			HasColorTemp:    true,
			ColorTempWire:   entry.ColorTempWire,
			HasRGB:          true,
			RGB:             meshmodel.RGB{R: entry.R, G: entry.G, B: entry.B},
		}
		deviceID := int(entry.DeviceID)
		if _, _, err := s.registry.ApplyWireStatus(deviceID, ws); err != nil {
			s.logger.Debug("mesh_info for unknown device", "device_id", deviceID, "error", err)
		}
	}
	s.onMeshInfo(bridgeDeviceID, info)
}

// Send encodes and enqueues a pre-built frame on the named bridge's
// connection. Callers needing delivery confirmation should call
// NextMsgID/AwaitAck before Send and correlate on the returned msg_id.
func (s *Server) Send(bridgeDeviceID int, frame []byte) error {
	s.mu.RLock()
	c, ok := s.connections[bridgeDeviceID]
	s.mu.RUnlock()
	if !ok {
		return ErrBridgeNotConnected
	}
	return c.enqueue(frame)
}

// ConnectedBridges returns the device ids of every bridge with a live,
// registered connection right now (a subset of registry.BridgePool,
// which can briefly lag during teardown).
func (s *Server) ConnectedBridges() []int {
	pool := s.registry.BridgePool()
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(pool))
	for _, id := range pool {
		if _, ok := s.connections[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// NextMsgID returns a fresh correlation id for a new outbound command.
func (s *Server) NextMsgID() uint16 {
	return s.acks.nextMsgID()
}

// AwaitAck registers a waiter for (targetID, msgID) with the configured
// ack deadline and returns the channel the result will be delivered on.
func (s *Server) AwaitAck(targetID uint32, msgID uint16) <-chan AckResult {
	return s.acks.await(targetID, msgID, s.cfg.AckTimeout())
}

// PendingAckCount reports the ack table's current size, for metrics.
func (s *Server) PendingAckCount() int {
	return s.acks.pendingCount()
}

// Shutdown stops accepting new connections, closes every live
// connection, and releases every pending ack waiter with
// ErrServerClosed.
func (s *Server) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() {
		close(s.closed)
		if s.listener != nil {
			s.listener.Close()
		}
	})

	s.mu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for _, c := range s.connections {
		conns = append(conns, c)
	}
	s.mu.RUnlock()

	for _, c := range conns {
		c.closeConn()
	}
	s.acks.closeAll()
	return nil
}
