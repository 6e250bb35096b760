package audit

import (
	"context"
	"time"

	"github.com/brollyhq/brolly-core/internal/rental"
)

// Logger is the minimal logging surface the recorder needs.
type Logger interface {
	Error(msg string, args ...any)
}

// SessionRecorder writes lease lifecycle events to the audit trail. It
// implements rental.Listener; a failed write is logged and dropped so the
// audit trail never blocks or fails a lease transition.
type SessionRecorder struct {
	repo   Repository
	logger Logger
}

// NewSessionRecorder creates a recorder writing to repo.
func NewSessionRecorder(repo Repository, logger Logger) *SessionRecorder {
	return &SessionRecorder{repo: repo, logger: logger}
}

const recordTimeout = 5 * time.Second

// SessionIssued implements rental.Listener.
func (r *SessionRecorder) SessionIssued(s *rental.Session) {
	r.record(&Entry{
		Action:     ActionSessionIssue,
		EntityType: EntitySession,
		EntityID:   s.SlotID,
		UserID:     s.UserID,
		Details: map[string]any{
			"slot_id":   s.SlotID,
			"device_id": s.DeviceID,
		},
	})
}

// SessionReturned implements rental.Listener. The rider-reported location
// is an opaque observation; it is stored verbatim in the entry details.
func (r *SessionRecorder) SessionReturned(s *rental.Session, overdue bool, location string) {
	details := map[string]any{
		"slot_id": s.SlotID,
		"overdue": overdue,
	}
	if location != "" {
		details["location"] = location
	}
	r.record(&Entry{
		Action:     ActionSessionReturn,
		EntityType: EntitySession,
		EntityID:   s.SlotID,
		UserID:     s.UserID,
		Details:    details,
	})
}

// SessionExpired implements rental.Listener.
func (r *SessionRecorder) SessionExpired(s *rental.Session) {
	r.record(&Entry{
		Action:     ActionSessionExpire,
		EntityType: EntitySession,
		EntityID:   s.SlotID,
		UserID:     s.UserID,
		Details: map[string]any{
			"slot_id":  s.SlotID,
			"start_ts": s.StartTS.UnixMilli(),
		},
	})
}

func (r *SessionRecorder) record(e *Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, e); err != nil && r.logger != nil {
		r.logger.Error("writing audit entry", "action", e.Action, "error", err)
	}
}
