// Package store is the durable reminder record store.
//
// The lifecycle manager treats it as an external, possibly remote
// collaborator: every call can fail transiently, and every call except
// ListArmed is scoped by owner. Drivers:
//   - "memory": in-process map (tests, dry runs)
//   - "file":   the memory map plus a JSON snapshot and an append-only journal
//   - "sqlite": SQLite database file (modernc.org/sqlite, no cgo)
//   - "mongo":  MongoDB collection (hosted backends)
package store
