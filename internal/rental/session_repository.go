package rental

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionRepository defines the interface for rental session persistence.
//
// FinalizeReturn and DeleteIfActive are the two halves of the
// finalization race: both are conditional writes guarded by returned=0,
// so for any session exactly one caller across both operations ever
// observes finalized=true. That caller — and only that caller — owns the
// follow-up slot release.
type SessionRepository interface {
	Create(ctx context.Context, s *Session) error
	GetByKey(ctx context.Context, key string) (*Session, error)

	// ListActive returns all sessions with returned=0, oldest first.
	// Used on startup to re-arm expiry deadlines.
	ListActive(ctx context.Context) ([]Session, error)

	// FinalizeReturn marks the session returned with the given timestamp
	// and overdue flag, only if it has not been finalized already.
	FinalizeReturn(ctx context.Context, key string, returnTS time.Time, overdue bool) (finalized bool, err error)

	// DeleteIfActive removes the session record, only if it has not been
	// returned. This is the expiry path: no return/overdue values are
	// recorded, the record simply ceases to exist.
	DeleteIfActive(ctx context.Context, key string) (finalized bool, err error)
}

// SQLiteSessionRepository implements SessionRepository using SQLite.
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSessionRepository creates a new SQLite-backed session repository.
func NewSessionRepository(db *sql.DB) *SQLiteSessionRepository {
	return &SQLiteSessionRepository{db: db}
}

// Create inserts a new session record.
func (r *SQLiteSessionRepository) Create(ctx context.Context, s *Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO rental_sessions (session_key, user_id, slot_id, device_id, start_ts, returned, overdue)
		 VALUES (?, ?, ?, ?, ?, 0, 0)`,
		s.Key, s.UserID, s.SlotID, s.DeviceID, s.StartTS.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

// GetByKey retrieves a session by its key.
func (r *SQLiteSessionRepository) GetByKey(ctx context.Context, key string) (*Session, error) {
	var s Session
	var startTS int64
	var returnTS sql.NullInt64
	var overdue, returned int

	err := r.db.QueryRowContext(ctx,
		`SELECT session_key, user_id, slot_id, device_id, start_ts, return_ts, overdue, returned
		 FROM rental_sessions WHERE session_key = ?`, key,
	).Scan(&s.Key, &s.UserID, &s.SlotID, &s.DeviceID, &startTS, &returnTS, &overdue, &returned)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("getting session: %w", err)
	}

	s.StartTS = time.UnixMilli(startTS)
	if returnTS.Valid {
		s.ReturnTS = time.UnixMilli(returnTS.Int64)
	}
	s.Overdue = overdue != 0
	s.Returned = returned != 0

	return &s, nil
}

// ListActive implements SessionRepository.
func (r *SQLiteSessionRepository) ListActive(ctx context.Context) ([]Session, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_key, user_id, slot_id, device_id, start_ts
		 FROM rental_sessions WHERE returned = 0 ORDER BY start_ts`)
	if err != nil {
		return nil, fmt.Errorf("listing active sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var startTS int64
		if err := rows.Scan(&s.Key, &s.UserID, &s.SlotID, &s.DeviceID, &startTS); err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		s.StartTS = time.UnixMilli(startTS)
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sessions: %w", err)
	}

	return sessions, nil
}

// FinalizeReturn implements SessionRepository.
func (r *SQLiteSessionRepository) FinalizeReturn(ctx context.Context, key string, returnTS time.Time, overdue bool) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE rental_sessions SET returned = 1, return_ts = ?, overdue = ?
		 WHERE session_key = ? AND returned = 0`,
		returnTS.UnixMilli(), boolToInt(overdue), key,
	)
	if err != nil {
		return false, fmt.Errorf("finalizing return: %w", err)
	}

	affected, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return affected == 1, nil
}

// DeleteIfActive implements SessionRepository.
func (r *SQLiteSessionRepository) DeleteIfActive(ctx context.Context, key string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM rental_sessions WHERE session_key = ? AND returned = 0", key)
	if err != nil {
		return false, fmt.Errorf("deleting expired session: %w", err)
	}

	affected, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return affected == 1, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
