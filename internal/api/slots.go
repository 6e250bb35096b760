package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/brollyhq/brolly-core/internal/rental"
)

// handleListSlots returns the fleet's slots with their occupancy status.
func (s *Server) handleListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := s.slots.List(r.Context())
	if err != nil {
		s.logger.Error("listing slots", "error", err)
		writeInternalError(w, "failed to list slots")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"slots": slots,
		"count": len(slots),
	})
}

// handleGetSlot returns a single slot.
func (s *Server) handleGetSlot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	slot, err := s.slots.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, rental.ErrSlotNotFound) {
			writeNotFound(w, "slot not found")
			return
		}
		s.logger.Error("getting slot", "slot_id", id, "error", err)
		writeInternalError(w, "failed to get slot")
		return
	}

	writeJSON(w, http.StatusOK, slot)
}
