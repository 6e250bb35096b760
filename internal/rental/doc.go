// Package rental implements the umbrella rental-session lease protocol
// for Brolly Core.
//
// A rider scans a QR label (slot id + one-time nonce), the Manager
// reserves the slot and issues a bearer session key, the station lock
// authorizes BLE unlock attempts against that key, and a return (or a
// two-day expiry) finalizes the lease and frees the slot.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                            Manager                               │
//	│                          (manager.go)                            │
//	│                                                                  │
//	│  • Acquire: nonce → slot reservation → key issuance              │
//	│  • Authorize: pure read of session liveness                      │
//	│  • Return / expiry: single-winner finalization, slot release     │
//	│  • Expiry timers re-armed from persisted deadlines on startup    │
//	└───────┬──────────────────┬───────────────────────┬───────────────┘
//	        │                  │                       │
//	        ▼                  ▼                       ▼
//	┌───────────────┐  ┌────────────────┐  ┌────────────────────┐
//	│  NonceLedger  │  │ SlotRepository │  │ SessionRepository  │
//	│ (used_nonces) │  │    (slots)     │  │ (rental_sessions)  │
//	└───────────────┘  └────────────────┘  └────────────────────┘
//
// Every contended transition is a conditional write in SQLite rather
// than an in-process lock: nonce consumption rides the used_nonces
// primary key, slot reservation is an UPDATE guarded by
// status='available', and return-vs-expiry both hinge on returned=0.
// Whichever path wins the conditional write owns the follow-up work;
// the loser observes zero rows affected and reports the appropriate
// conflict.
package rental
