package rental

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// NonceLedger records one-time QR nonces and rejects replays.
type NonceLedger interface {
	// Consume durably records the nonce as used. Returns ErrNonceUsed if it
	// was ever consumed before. Checking and recording are a single atomic
	// step: of N concurrent calls with the same nonce, exactly one succeeds.
	Consume(ctx context.Context, nonce string) error
}

// SQLiteNonceLedger implements NonceLedger using the used_nonces table.
//
// The primary-key constraint on the nonce column is the atomicity
// mechanism: a plain INSERT either commits the replay record or fails with
// a uniqueness violation, with no window between check and record. Rows
// are never purged — the anti-replay guarantee has no expiry, and the
// unbounded table is an accepted cost.
type SQLiteNonceLedger struct {
	db *sql.DB
}

// NewNonceLedger creates a new SQLite-backed nonce ledger.
func NewNonceLedger(db *sql.DB) *SQLiteNonceLedger {
	return &SQLiteNonceLedger{db: db}
}

// Consume implements NonceLedger.
func (l *SQLiteNonceLedger) Consume(ctx context.Context, nonce string) error {
	_, err := l.db.ExecContext(ctx,
		"INSERT INTO used_nonces (nonce, used_at) VALUES (?, ?)",
		nonce, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return ErrNonceUsed
		}
		return fmt.Errorf("recording nonce: %w", err)
	}
	return nil
}
