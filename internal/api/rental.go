package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/brollyhq/brolly-core/internal/rental"
)

// issueSessionRequest is the request body for POST /api/session.
type issueSessionRequest struct {
	SlotID string `json:"slotId"`
	Nonce  string `json:"nonce"`
}

// issueSessionResponse is the response body for POST /api/session.
type issueSessionResponse struct {
	DeviceID   string `json:"deviceId"`
	SessionKey string `json:"sessionKey"`
}

// handleIssueSession acquires a slot for the authenticated rider and
// issues a session key. The QR nonce is consumed whether or not the
// acquisition succeeds past that point.
func (s *Server) handleIssueSession(w http.ResponseWriter, r *http.Request) {
	var req issueSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SlotID == "" || req.Nonce == "" {
		writeBadRequest(w, "slotId and nonce are required")
		return
	}

	userID := userIDFromContext(r.Context())

	sess, err := s.manager.Acquire(r.Context(), userID, req.SlotID, req.Nonce)
	if err != nil {
		switch {
		case errors.Is(err, rental.ErrNonceUsed):
			writeConflict(w, "nonce already used")
		case errors.Is(err, rental.ErrSlotNotFound):
			writeNotFound(w, "slot not found")
		case errors.Is(err, rental.ErrSlotUnavailable):
			writeConflict(w, "slot not available")
		default:
			s.logger.Error("issuing session", "slot_id", req.SlotID, "error", err)
			writeInternalError(w, "failed to issue session")
		}
		return
	}

	writeJSON(w, http.StatusOK, issueSessionResponse{
		DeviceID:   sess.DeviceID,
		SessionKey: sess.Key,
	})
}

// bleAuthorizeRequest is the request body for POST /api/ble/authorize.
type bleAuthorizeRequest struct {
	SessionKey string `json:"sessionKey"`
}

// handleBLEAuthorize answers whether the presented session key currently
// entitles its holder to command the lock.
func (s *Server) handleBLEAuthorize(w http.ResponseWriter, r *http.Request) {
	var req bleAuthorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SessionKey == "" {
		writeBadRequest(w, "sessionKey is required")
		return
	}

	granted, err := s.manager.Authorize(r.Context(), req.SessionKey)
	if err != nil {
		s.logger.Error("authorizing session", "error", err)
		writeInternalError(w, "failed to authorize session")
		return
	}
	if !granted {
		writeForbidden(w, "invalid or expired session")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"authorized": true})
}

// returnRequest is the request body for POST /api/return.
type returnRequest struct {
	SessionKey string `json:"sessionKey"`
	Location   string `json:"location"`
}

// handleReturn finalizes the session: cancels expiry, computes overdue
// status, and frees the slot.
func (s *Server) handleReturn(w http.ResponseWriter, r *http.Request) {
	var req returnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.SessionKey == "" {
		writeBadRequest(w, "sessionKey is required")
		return
	}

	result, err := s.manager.Return(r.Context(), req.SessionKey, req.Location)
	if err != nil {
		switch {
		case errors.Is(err, rental.ErrSessionNotFound):
			writeNotFound(w, "session not found")
		case errors.Is(err, rental.ErrAlreadyReturned):
			writeConflict(w, "session already returned")
		default:
			s.logger.Error("returning session", "error", err)
			writeInternalError(w, "failed to return session")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"returned": result.Returned,
		"overdue":  result.Overdue,
	})
}
