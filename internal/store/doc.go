// Package store is the local command/availability audit trail: a thin
// SQLite-backed log of every command the bridge accepted and every
// availability transition it observed, kept independent of the
// in-memory registry so history survives a restart.
package store
