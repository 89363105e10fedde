package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nerrad567/cync-bridge/internal/meshmodel"
	"github.com/nerrad567/cync-bridge/internal/metrics"
	"github.com/nerrad567/cync-bridge/internal/protocol"
	"github.com/nerrad567/cync-bridge/internal/relay"
)

// connState is the per-connection state machine position.
type connState int

const (
	stateAccepted connState = iota
	stateHandshakeIn
	stateHandshakeOut
	stateAuthenticated
	stateReady
)

// readBufSize is the initial read chunk size; DecodeStream grows the
// backing buffer as partial frames accumulate.
const readBufSize = 4096

// writeQueueDepth bounds the per-connection outbound queue (heartbeats
// and commands share it); a full queue means the peer isn't draining
// fast enough and is treated as backpressure, not a fatal error.
const writeQueueDepth = 32

// writeDeadline bounds a single socket write to a device. Devices are
// local mesh hardware, not the API's HTTP clients, so this is its own
// constant rather than borrowing config.APITimeouts.
const writeDeadline = 5 * time.Second

// Connection is one device's TLS socket and its state machine.
//
// Read and write are always serialized per connection (one reader
// goroutine, one writer goroutine); the only cross-goroutine shared
// state is the write queue and the idle watchdog timestamp, both safe
// for concurrent use.
type Connection struct {
	conn   net.Conn
	server *Server

	deviceID uint32
	isBridge bool

	state   connState
	stateMu sync.Mutex

	writeCh chan []byte
	done    chan struct{}

	closeOnce sync.Once

	lastActivity atomic.Int64 // UnixNano, written by readLoop, read by readLoop's own watchdog check
	seq          atomic.Uint32

	// pendingFrames holds any bytes read past our handshake ack but
	// before the device's confirming reply; replayed through the normal
	// dispatch path once readLoop starts, queued rather than parsed
	// against READY-state expectations.
	pendingFrames []byte

	// relaySession is the optional cloud-MITM tee for this device
	// connection. It is never nil: a disabled or observe-only relay
	// configuration still returns a Session, just one that never dials.
	relaySession *relay.Session
}

// serve runs the full connection lifecycle: handshake, then the
// concurrent ready-state loops, until disconnect. It never returns an
// error to the caller; all failures are logged and the connection is
// closed and unregistered.
func (s *Server) serve(parent context.Context, raw net.Conn) {
	c := &Connection{
		conn:    raw,
		server:  s,
		writeCh: make(chan []byte, writeQueueDepth),
		done:    make(chan struct{}),
	}
	c.lastActivity.Store(time.Now().UnixNano())

	if err := c.handshake(); err != nil {
		s.logger.Warn("handshake failed", "remote", raw.RemoteAddr(), "error", err)
		raw.Close()
		return
	}

	s.registerConnection(c)
	defer s.unregisterConnection(c)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	c.relaySession = s.relay.NewSession(ctx, c.deviceID, func(raw []byte) {
		if err := c.enqueue(raw); err != nil {
			s.logger.Debug("relay frame dropped, write queue full", "device_id", c.deviceID)
		}
	})
	defer c.relaySession.Close()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); c.readLoop(ctx) }()
	go func() { defer wg.Done(); c.writeLoop(ctx) }()
	go func() { defer wg.Done(); c.heartbeatLoop(ctx) }()
	wg.Wait()

	s.logger.Info("device disconnected", "device_id", c.deviceID)
}

// handshake drives ACCEPTED→HANDSHAKE_IN→HANDSHAKE_OUT→AUTHENTICATED
// synchronously, before any of the ready-state goroutines start.
func (c *Connection) handshake() error {
	c.setState(stateHandshakeIn)

	deadline := time.Now().Add(c.server.cfg.HandshakeTimeout())
	if err := c.conn.SetReadDeadline(deadline); err != nil {
		return fmt.Errorf("set handshake deadline: %w", err)
	}

	buf := make([]byte, 0, readBufSize)
	frame, rest, err := c.readOneFrame(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return ErrHandshakeTimeout
		}
		return err
	}
	if frame.Type != protocol.TypeHandshake {
		return fmt.Errorf("expected handshake frame, got type 0x%02X", frame.Type)
	}
	hsBody, err := protocol.ParseBody(frame.Type, frame.Body)
	if err != nil {
		return err
	}
	handshake := hsBody.(protocol.Handshake)
	c.deviceID = handshake.DeviceID

	snap, err := c.server.registry.Device(int(handshake.DeviceID))
	if err != nil {
		return fmt.Errorf("unknown device %d: %w", handshake.DeviceID, err)
	}
	c.isBridge = snap.IsBridge
	if handshake.IsBridge != snap.IsBridge {
		c.server.logger.Warn("handshake bridge flag disagrees with configuration",
			"device_id", c.deviceID, "wire_flag", handshake.IsBridge, "configured", snap.IsBridge)
	}

	c.setState(stateHandshakeOut)
	ack := protocol.Encode(protocol.TypeHandshakeAck, c.nextSeq(), encodeID(c.deviceID))
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
		return fmt.Errorf("set ack deadline: %w", err)
	}
	if _, err := c.conn.Write(ack); err != nil {
		return fmt.Errorf("write handshake ack: %w", err)
	}

	queued, err := c.awaitHandshakeConfirm(rest)
	if err != nil {
		return err
	}

	c.setState(stateAuthenticated)
	if err := c.server.registry.MarkReady(int(c.deviceID), c.isBridge); err != nil {
		if !errors.Is(err, meshmodel.ErrBridgePoolFull) {
			return err
		}
		c.server.logger.Warn("bridge pool full, device ready but not relay-capable", "device_id", c.deviceID)
	}
	c.server.onConnect(int(c.deviceID), c.isBridge)

	c.setState(stateReady)
	req := protocol.Encode(protocol.TypeMeshInfoRequest, c.nextSeq(), encodeID(c.deviceID))
	select {
	case c.writeCh <- req:
	default:
	}

	c.pendingFrames = queued
	return nil
}

// awaitHandshakeConfirm reads frames until it sees a HandshakeAck echoed
// back by the device (AUTHENTICATED) or the handshake deadline expires.
// Any non-matching frame read along the way is re-encoded into queued
// for replay once streaming reads resume in readLoop.
func (c *Connection) awaitHandshakeConfirm(rest []byte) (queued []byte, err error) {
	buf := rest
	for {
		frames, consumed, _, derr := protocol.DecodeStream(buf)
		buf = buf[consumed:]
		for _, f := range frames {
			if f.Type == protocol.TypeHandshakeAck {
				return buf, nil
			}
			queued = append(queued, protocol.Encode(f.Type, f.Seq, f.Body)...)
		}
		if derr != nil {
			return nil, derr
		}

		chunk := make([]byte, readBufSize)
		n, rerr := c.conn.Read(chunk)
		if rerr != nil {
			var netErr net.Error
			if errors.As(rerr, &netErr) && netErr.Timeout() {
				return nil, ErrHandshakeTimeout
			}
			return nil, rerr
		}
		buf = append(buf, chunk[:n]...)
	}
}

// readOneFrame blocks until a single complete frame is available,
// returning it along with any bytes read past its end.
func (c *Connection) readOneFrame(buf []byte) (protocol.Frame, []byte, error) {
	for {
		frames, consumed, _, err := protocol.DecodeStream(buf)
		if len(frames) > 0 {
			return frames[0], buf[consumed:], nil
		}
		if err != nil {
			return protocol.Frame{}, nil, err
		}
		chunk := make([]byte, readBufSize)
		n, rerr := c.conn.Read(chunk)
		if rerr != nil {
			return protocol.Frame{}, nil, rerr
		}
		buf = append(buf, chunk[:n]...)
	}
}

func (c *Connection) setState(s connState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Connection) nextSeq() uint16 {
	return uint16(c.seq.Add(1))
}

// encodeID is the thin convenience wrapper used when building handshake
// ack/request bodies that are just a bare id field.
func encodeID(id uint32) []byte {
	b := protocol.EncodeID(id)
	return b[:]
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

func (c *Connection) idleSince() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

// readLoop decodes frames in arrival order and dispatches each by type;
// within one connection, frames always process in arrival order.
func (c *Connection) readLoop(ctx context.Context) {
	defer c.closeConn()

	buf := make([]byte, 0, readBufSize)
	if len(c.pendingFrames) > 0 {
		buf = append(buf, c.pendingFrames...)
		c.pendingFrames = nil
	}
	chunk := make([]byte, readBufSize)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		default:
		}

		frames, consumed, dropped, err := protocol.DecodeStream(buf)
		buf = buf[consumed:]
		if dropped > 0 {
			metrics.MalformedPackets.Add(float64(dropped))
			c.server.logger.Warn("dropped malformed packet, keeping connection open", "device_id", c.deviceID, "count", dropped)
		}
		for _, f := range frames {
			c.touch()
			metrics.FramesDecoded.WithLabelValues(frameTypeLabel(f.Type)).Inc()
			c.relaySession.Forward(protocol.Encode(f.Type, f.Seq, f.Body))
			c.dispatch(f)
		}
		if err != nil {
			c.server.logger.Warn("framing error, closing connection", "device_id", c.deviceID, "error", err)
			return
		}

		if err := c.conn.SetReadDeadline(time.Now().Add(c.server.cfg.IdleTimeout())); err != nil {
			return
		}
		n, rerr := c.conn.Read(chunk)
		if rerr != nil {
			var netErr net.Error
			if errors.As(rerr, &netErr) && netErr.Timeout() {
				if c.idleSince() >= c.server.cfg.IdleTimeout() {
					c.server.logger.Info("idle watchdog closing connection", "device_id", c.deviceID)
					return
				}
				continue
			}
			if !errors.Is(rerr, io.EOF) {
				c.server.logger.Debug("read error", "device_id", c.deviceID, "error", rerr)
			}
			return
		}
		buf = append(buf, chunk[:n]...)
	}
}

// frameTypeLabel maps a wire frame type byte to the Prometheus label
// used by metrics.FramesDecoded, falling back to a hex literal for any
// type this build doesn't recognise (ParseBody still decodes those as
// Unknown rather than dropping them).
func frameTypeLabel(t byte) string {
	switch t {
	case protocol.TypeHandshake:
		return "handshake"
	case protocol.TypeHandshakeAck:
		return "handshake_ack"
	case protocol.TypeHeartbeatDevice:
		return "heartbeat_device"
	case protocol.TypeHeartbeatCloud:
		return "heartbeat_cloud"
	case protocol.TypeControl:
		return "control"
	case protocol.TypeAck:
		return "ack"
	case protocol.TypeMeshInfoRequest:
		return "mesh_info_request"
	case protocol.TypeMeshInfo:
		return "mesh_info"
	default:
		return fmt.Sprintf("0x%02x", t)
	}
}

// dispatch routes one decoded frame by type. Malformed packets never
// reach here (DecodeStream already validated the checksum); parse
// errors below are structural (short body) and are dropped with a
// warning per checksum validation before trust, without closing the connection.
func (c *Connection) dispatch(f protocol.Frame) {
	body, err := protocol.ParseBody(f.Type, f.Body)
	if err != nil {
		c.server.logger.Warn("malformed packet dropped", "device_id", c.deviceID, "type", f.Type, "error", err)
		return
	}

	switch v := body.(type) {
	case protocol.HeartbeatDevice:
		// touch() above already recorded arrival; nothing else to do.
	case protocol.Ack:
		c.server.acks.deliver(v)
	case protocol.MeshInfo:
		c.server.handleMeshInfo(int(c.deviceID), v)
	case protocol.Unknown:
		c.server.logger.Debug("unknown frame type", "device_id", c.deviceID, "type", v.Type)
	default:
		c.server.logger.Debug("unhandled frame type", "device_id", c.deviceID, "type", f.Type)
	}
}

// writeLoop is the single writer for this connection; every outbound
// frame (heartbeats and commands alike) flows through writeCh.
func (c *Connection) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case frame := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				c.closeConn()
				return
			}
			if _, err := c.conn.Write(frame); err != nil {
				c.server.logger.Warn("write failed, closing connection", "device_id", c.deviceID, "error", err)
				c.closeConn()
				return
			}
		}
	}
}

// heartbeatLoop emits heartbeat-cloud on the configured interval. The idle
// watchdog itself is enforced in readLoop against the same touch()
// timestamp this loop's incoming heartbeat-dev frames update.
func (c *Connection) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(c.server.cfg.HeartbeatInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			frame := protocol.Encode(protocol.TypeHeartbeatCloud, c.nextSeq(), nil)
			select {
			case c.writeCh <- frame:
			default:
				c.server.logger.Warn("write queue full, dropping heartbeat", "device_id", c.deviceID)
			}
		}
	}
}

// enqueue writes a pre-built frame to this connection's writer queue,
// returning ErrWriteQueueFull under backpressure rather than blocking.
func (c *Connection) enqueue(frame []byte) error {
	select {
	case c.writeCh <- frame:
		return nil
	default:
		return ErrWriteQueueFull
	}
}

func (c *Connection) closeConn() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
		c.server.registry.RemoveFromBridgePool(int(c.deviceID))
		c.server.onDisconnect(int(c.deviceID))
	})
}
