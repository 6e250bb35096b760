package rental

import (
	"errors"
	"time"
)

// SessionTTL is the fixed lease duration. Every session expires exactly
// this long after issuance unless returned first.
const SessionTTL = 48 * time.Hour

// SlotStatus is the occupancy state of a lockable slot.
type SlotStatus string

const (
	// SlotAvailable means the slot holds a lock that any rider may claim.
	SlotAvailable SlotStatus = "available"

	// SlotActive means exactly one rental session currently owns the slot.
	SlotActive SlotStatus = "active"
)

// Slot identifies a physical lockable umbrella holder.
//
// DeviceID is the addressable lock actuator bound to the slot. The binding
// may be re-provisioned, which is why sessions carry their own copy.
type Slot struct {
	ID        string     `json:"id"`
	DeviceID  string     `json:"device_id"`
	Status    SlotStatus `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Session is the lease record granting one rider exclusive custody of a
// slot's umbrella until return or expiry.
//
// Key is the sole bearer credential for authorize and return calls: 128
// bits of cryptographically random data, base64-encoded. Overdue and
// ReturnTS are meaningful only once Returned is true.
type Session struct {
	Key      string    `json:"session_key"`
	UserID   string    `json:"user_id"`
	SlotID   string    `json:"slot_id"`
	DeviceID string    `json:"device_id"`
	StartTS  time.Time `json:"start_ts"`
	ReturnTS time.Time `json:"return_ts,omitzero"`
	Overdue  bool      `json:"overdue"`
	Returned bool      `json:"returned"`
}

// Deadline returns the instant at which the session expires if unreturned.
func (s *Session) Deadline() time.Time {
	return s.StartTS.Add(SessionTTL)
}

// ReturnResult reports the outcome of a successful return.
type ReturnResult struct {
	Returned bool `json:"returned"`
	Overdue  bool `json:"overdue"`
}

// Sentinel errors for rental operations. These are terminal, client-facing
// conditions; storage failures are wrapped separately and surface as
// internal errors.
var (
	ErrNonceUsed       = errors.New("nonce already used")
	ErrSlotNotFound    = errors.New("slot not found")
	ErrSlotUnavailable = errors.New("slot not available")
	ErrSessionNotFound = errors.New("session not found")
	ErrAlreadyReturned = errors.New("session already returned")
)
