package relay

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/nerrad567/cync-bridge/internal/infrastructure/config"
	"github.com/nerrad567/cync-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/cync-bridge/internal/protocol"
)

const (
	dialTimeout      = 10 * time.Second
	cloudWriteDeadline = 5 * time.Second
	cloudReadDeadline  = 30 * time.Second
	readBufSize      = 4096
)

// Relay constructs one Session per device connection, sharing the
// static cloud-relay configuration.
type Relay struct {
	cfg    config.CloudRelayConfig
	logger *logging.Logger
}

// New returns a Relay. A disabled configuration is cheap to hold onto:
// NewSession becomes a no-op factory rather than requiring callers to
// branch on cfg.Enabled themselves.
func New(cfg config.CloudRelayConfig, logger *logging.Logger) *Relay {
	return &Relay{cfg: cfg, logger: logger}
}

// Enabled reports whether the cloud relay should be wired into the device listener.
func (r *Relay) Enabled() bool { return r.cfg.Enabled }

// Session is one device connection's relay leg. It is safe to call
// Forward and Close concurrently; onCloudFrame is invoked from a single
// dedicated goroutine per session.
type Session struct {
	cfg      config.CloudRelayConfig
	logger   *logging.Logger
	deviceID uint32

	onCloudFrame func([]byte)

	mu     sync.Mutex
	cloud  net.Conn
	closed bool
}

// NewSession opens the cloud leg for one newly handshaked device
// connection, if forward_to_cloud is set. onCloudFrame is called, from
// a dedicated goroutine, with the raw encoded bytes of each frame the
// cloud sends back; the caller queues those onto the device's own
// write path exactly like any other outbound frame.
//
// A dial failure never fails the caller: the session simply starts
// degraded (observe-only).
func (r *Relay) NewSession(ctx context.Context, deviceID uint32, onCloudFrame func([]byte)) *Session {
	s := &Session{cfg: r.cfg, logger: r.logger, deviceID: deviceID, onCloudFrame: onCloudFrame}
	if !r.cfg.Enabled || !r.cfg.ForwardToCloud {
		return s
	}

	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	if r.cfg.DisableSSLVerification {
		r.logger.Warn("cloud relay TLS verification disabled", "device_id", deviceID)
	}
	dialer := tls.Dialer{Config: &tls.Config{InsecureSkipVerify: r.cfg.DisableSSLVerification}}

	conn, err := dialer.DialContext(dialCtx, "tcp", r.cfg.CloudHost)
	if err != nil {
		r.logger.Warn("cloud relay dial failed, degrading to observe-only",
			"device_id", deviceID, "cloud_host", r.cfg.CloudHost, "error", err)
		return s
	}

	s.cloud = conn
	go s.readCloudLoop()
	return s
}

// Forward sends one device-originated frame on to the cloud leg, if
// still connected. A write failure degrades the session to observe-only
// and logs a warning; the device leg is never affected.
func (s *Session) Forward(raw []byte) {
	s.mu.Lock()
	conn := s.cloud
	s.mu.Unlock()

	if s.cfg.DebugPacketLogging {
		s.logDecoded("device->cloud", raw)
	}
	if conn == nil {
		return
	}
	if err := conn.SetWriteDeadline(time.Now().Add(cloudWriteDeadline)); err != nil {
		s.degrade("cloud leg deadline failed", err)
		return
	}
	if _, err := conn.Write(raw); err != nil {
		s.degrade("cloud leg write failed", err)
	}
}

// readCloudLoop decodes frames arriving from the cloud and hands each
// to onCloudFrame. It exits once the cloud leg is closed or degraded.
func (s *Session) readCloudLoop() {
	buf := make([]byte, 0, readBufSize)
	chunk := make([]byte, readBufSize)
	for {
		s.mu.Lock()
		conn := s.cloud
		s.mu.Unlock()
		if conn == nil {
			return
		}

		frames, consumed, dropped, err := protocol.DecodeStream(buf)
		buf = buf[consumed:]
		if dropped > 0 {
			s.logger.Debug("dropped malformed cloud frame", "device_id", s.deviceID, "count", dropped)
		}
		for _, f := range frames {
			raw := protocol.Encode(f.Type, f.Seq, f.Body)
			if s.cfg.DebugPacketLogging {
				s.logDecoded("cloud->device", raw)
			}
			s.onCloudFrame(raw)
		}
		if err != nil {
			s.degrade("cloud leg framing error", err)
			return
		}

		if derr := conn.SetReadDeadline(time.Now().Add(cloudReadDeadline)); derr != nil {
			return
		}
		n, rerr := conn.Read(chunk)
		if rerr != nil {
			s.degrade("cloud leg read failed", rerr)
			return
		}
		buf = append(buf, chunk[:n]...)
	}
}

// logDecoded logs every frame found in raw at debug level, falling back
// to a byte count if the bytes don't decode cleanly (debug_packet_logging
// is best-effort; a partial or malformed chunk is still worth a line).
func (s *Session) logDecoded(direction string, raw []byte) {
	frames, _, _, err := protocol.DecodeStream(raw)
	if err != nil || len(frames) == 0 {
		s.logger.Debug("relay frame", "direction", direction, "device_id", s.deviceID, "bytes", len(raw))
		return
	}
	for _, f := range frames {
		s.logger.Debug("relay frame", "direction", direction, "device_id", s.deviceID, "type", f.Type, "seq", f.Seq)
	}
}

func (s *Session) degrade(msg string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.cloud == nil {
		return
	}
	s.logger.Warn(msg+", degrading to observe-only", "device_id", s.deviceID, "error", err)
	s.cloud.Close()
	s.cloud = nil
}

// Close tears down the cloud leg, if any. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	if s.cloud != nil {
		s.cloud.Close()
		s.cloud = nil
	}
}
