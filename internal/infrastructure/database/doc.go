// Package database provides the SQLite connection layer for Brolly Core.
//
// It wraps database/sql with WAL-mode configuration, a single-writer
// connection pool, embedded schema migrations, and health checks.
//
// SQLite offers no multi-statement transaction coordination across
// goroutines beyond its single-writer lock; the rental package layers its
// own conditional-update serialization on top of plain get/insert/update
// operations rather than relying on storage-level transactions.
//
// Usage:
//
//	db, err := database.Open(database.Config{Path: "./data/brolly.db", WALMode: true, BusyTimeout: 5})
//	if err != nil { ... }
//	defer db.Close()
//	if err := db.Migrate(ctx); err != nil { ... }
package database
