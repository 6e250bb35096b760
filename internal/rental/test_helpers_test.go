package rental

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a file-backed SQLite database with the rental
// schema. File-backed rather than :memory: so the concurrency tests
// exercise the same single-writer serialisation as production.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on",
		filepath.Join(t.TempDir(), "rental_test.db"))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
		CREATE TABLE slots (
			id TEXT PRIMARY KEY,
			device_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'available'
				CHECK (status IN ('available', 'active')),
			updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;

		CREATE TABLE rental_sessions (
			session_key TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			slot_id TEXT NOT NULL,
			device_id TEXT NOT NULL,
			start_ts INTEGER NOT NULL,
			return_ts INTEGER,
			overdue INTEGER NOT NULL DEFAULT 0,
			returned INTEGER NOT NULL DEFAULT 0
		) STRICT;
		CREATE INDEX idx_rental_sessions_returned ON rental_sessions(returned);

		CREATE TABLE used_nonces (
			nonce TEXT PRIMARY KEY,
			used_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		) STRICT;
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		t.Fatalf("failed to create test schema: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// seedSlot inserts a slot row directly.
func seedSlot(t *testing.T, db *sql.DB, id, deviceID string, status SlotStatus) {
	t.Helper()

	_, err := db.Exec(
		"INSERT INTO slots (id, device_id, status) VALUES (?, ?, ?)",
		id, deviceID, status,
	)
	if err != nil {
		t.Fatalf("failed to seed slot %s: %v", id, err)
	}
}

// slotStatus reads a slot's current status directly.
func slotStatus(t *testing.T, db *sql.DB, id string) SlotStatus {
	t.Helper()

	var status string
	if err := db.QueryRow("SELECT status FROM slots WHERE id = ?", id).Scan(&status); err != nil {
		t.Fatalf("failed to read slot %s: %v", id, err)
	}
	return SlotStatus(status)
}

func testCtx() context.Context {
	return context.Background()
}
