// Package database owns the bridge's local SQLite connection: WAL-mode
// open, embedded schema migrations, and a thin exec/query wrapper the
// audit store builds on.
//
// Migrations are additive-only: new columns arrive NULLABLE or with a
// DEFAULT, and nothing is dropped or renamed, so a rolled-back binary
// can still read a newer file. Each migration ships as an .up.sql /
// .down.sql pair embedded via the migrations package.
//
// The file is opened 0600 and every query uses parameterised
// statements.
package database
