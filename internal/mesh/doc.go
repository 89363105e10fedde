// Package mesh drives periodic and event-driven mesh_info refresh. A
// background loop rotates a mesh_info request across the current
// bridge pool on a fixed interval; command dispatch and the connection
// handshake can also trigger an immediate, out-of-cycle refresh on a
// specific bridge.
package mesh
