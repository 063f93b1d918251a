// Package storage persists the campaign snapshot, the operator audit log and
// notifier dedup windows.
//
// Drivers:
//   - file: JSON snapshot written by rename, JSON Lines audit, dedup journal
//   - sqlite: single database file (modernc.org/sqlite, no cgo)
//   - postgres: pgx connection pool
//   - redis: snapshot document plus a capped audit list
//   - memory: nothing survives a restart; tests and dry runs
//
// Every driver saves a snapshot all or nothing.
package storage
