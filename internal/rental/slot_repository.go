package rental

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SlotRepository defines the interface for slot persistence.
type SlotRepository interface {
	GetByID(ctx context.Context, id string) (*Slot, error)
	List(ctx context.Context) ([]Slot, error)

	// Reserve transitions the slot from available to active and returns its
	// device ID. The availability check and the transition are one atomic
	// step: of N concurrent calls for an available slot, exactly one
	// succeeds; the rest observe ErrSlotUnavailable. Unknown slots return
	// ErrSlotNotFound.
	Reserve(ctx context.Context, id string) (deviceID string, err error)

	// Release transitions the slot back to available. Idempotent: releasing
	// an already-available slot is a no-op, not an error.
	Release(ctx context.Context, id string) error

	// Upsert creates or re-provisions a slot. New and re-provisioned slots
	// start available. Used by provisioning tooling, not by the lease path.
	Upsert(ctx context.Context, id, deviceID string) error
}

// SQLiteSlotRepository implements SlotRepository using SQLite.
//
// Reserve's linearization point is a conditional UPDATE guarded by
// status='available': SQLite's single-writer lock serialises the
// statement, and RowsAffected tells each caller whether it won.
type SQLiteSlotRepository struct {
	db *sql.DB
}

// NewSlotRepository creates a new SQLite-backed slot repository.
func NewSlotRepository(db *sql.DB) *SQLiteSlotRepository {
	return &SQLiteSlotRepository{db: db}
}

// GetByID retrieves a slot by ID.
func (r *SQLiteSlotRepository) GetByID(ctx context.Context, id string) (*Slot, error) {
	var s Slot
	var status, updatedAt string

	err := r.db.QueryRowContext(ctx,
		"SELECT id, device_id, status, updated_at FROM slots WHERE id = ?", id,
	).Scan(&s.ID, &s.DeviceID, &status, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, fmt.Errorf("getting slot: %w", err)
	}

	s.Status = SlotStatus(status)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled

	return &s, nil
}

// List retrieves all slots ordered by ID.
func (r *SQLiteSlotRepository) List(ctx context.Context) ([]Slot, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, device_id, status, updated_at FROM slots ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("listing slots: %w", err)
	}
	defer rows.Close()

	slots := []Slot{}
	for rows.Next() {
		var s Slot
		var status, updatedAt string
		if err := rows.Scan(&s.ID, &s.DeviceID, &status, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning slot: %w", err)
		}
		s.Status = SlotStatus(status)
		s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // format is controlled
		slots = append(slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating slots: %w", err)
	}

	return slots, nil
}

// Reserve implements SlotRepository.
func (r *SQLiteSlotRepository) Reserve(ctx context.Context, id string) (string, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	result, err := r.db.ExecContext(ctx,
		"UPDATE slots SET status = ?, updated_at = ? WHERE id = ? AND status = ?",
		SlotActive, now, id, SlotAvailable,
	)
	if err != nil {
		return "", fmt.Errorf("reserving slot: %w", err)
	}

	affected, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if affected == 0 {
		// Either the slot doesn't exist or another caller holds it.
		if _, err := r.GetByID(ctx, id); err != nil {
			return "", err
		}
		return "", ErrSlotUnavailable
	}

	slot, err := r.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	return slot.DeviceID, nil
}

// Release implements SlotRepository.
func (r *SQLiteSlotRepository) Release(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		"UPDATE slots SET status = ?, updated_at = ? WHERE id = ?",
		SlotAvailable, now, id,
	)
	if err != nil {
		return fmt.Errorf("releasing slot: %w", err)
	}
	return nil
}

// Upsert implements SlotRepository.
func (r *SQLiteSlotRepository) Upsert(ctx context.Context, id, deviceID string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO slots (id, device_id, status, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET device_id = excluded.device_id,
		                               status = excluded.status,
		                               updated_at = excluded.updated_at`,
		id, deviceID, SlotAvailable, now,
	)
	if err != nil {
		return fmt.Errorf("upserting slot: %w", err)
	}
	return nil
}
