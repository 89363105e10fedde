// Package relay is the optional cloud-MITM relay pipeline: when enabled,
// each device connection gets a second, independent outbound TLS leg to
// the real vendor cloud, and frames are tee'd between the two
// directions purely as a parallel observer.
//
// It never gates the device connection's own state machine: a session
// that fails to dial, or whose cloud leg later breaks, degrades to
// observe-only and logs a warning rather than disturbing the device
// connection.
package relay
