// Package transport is the device-facing TLS/TCP connection engine.
//
// It terminates one TLS connection per device, drives the per-connection
// handshake → authenticated → ready state machine, and hands decoded
// frames to the rest of the system. Bridge-capable devices are tracked
// through meshmodel's bridge pool; mesh-only devices never hold a
// connection of their own and are only ever addressed through one.
//
// # Connection lifecycle
//
// Accept blocks in a synchronous handshake read (bounded by
// HandshakeTimeout) before any goroutines are started for a connection.
// Once the device has replied to our handshake ack, the connection
// enters its concurrent phase: one reader goroutine decoding frames, one
// writer goroutine serializing outbound frames (heartbeats and
// commands share its queue), and a heartbeat goroutine driving the
// periodic cloud heartbeat. The idle watchdog runs in the reader.
//
// # Ack correlation
//
// Server owns the pending-ack table and the monotonic msg_id counter
// shared by every bridge connection (see ack.go). The command
// dispatcher calls NextMsgID/AwaitAck/Send; the connection reader feeds
// incoming Ack frames back into the same table.
package transport
