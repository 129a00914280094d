package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
)

type waitlistOfferResponse struct {
	EntryID string `json:"entry_id"`
}

type moveOfferResponse struct {
	AppointmentID string `json:"appointment_id"`
}

// WaitlistAccept handles POST /api/v1/waitlist/offers/accept. An expired or
// already-consumed offer reports 410.
func (h *SchedulingHandler) WaitlistAccept(w http.ResponseWriter, r *http.Request) {
	entryID, ok := h.offerID(w, r)
	if !ok {
		return
	}
	appt, err := h.engine.AcceptWaitlistOffer(r.Context(), entryID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentToItem(appt))
}

// WaitlistDecline handles POST /api/v1/waitlist/offers/decline. Declining
// re-runs a cascade pass for the gap so the next candidates are reached.
func (h *SchedulingHandler) WaitlistDecline(w http.ResponseWriter, r *http.Request) {
	entryID, ok := h.offerID(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeclineWaitlistOffer(r.Context(), entryID); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"declined": true})
}

// MoveAccept handles POST /api/v1/moves/offers/accept.
func (h *SchedulingHandler) MoveAccept(w http.ResponseWriter, r *http.Request) {
	apptID, ok := h.moveOfferID(w, r)
	if !ok {
		return
	}
	appt, err := h.engine.AcceptEarlierMove(r.Context(), apptID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentToItem(appt))
}

// MoveDecline handles POST /api/v1/moves/offers/decline.
func (h *SchedulingHandler) MoveDecline(w http.ResponseWriter, r *http.Request) {
	apptID, ok := h.moveOfferID(w, r)
	if !ok {
		return
	}
	if err := h.engine.DeclineEarlierMove(r.Context(), apptID); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"declined": true})
}

func (h *SchedulingHandler) offerID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	var req waitlistOfferResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return "", false
	}
	id := strings.TrimSpace(req.EntryID)
	if id == "" {
		http.Error(w, "entry_id required", http.StatusBadRequest)
		return "", false
	}
	return id, true
}

func (h *SchedulingHandler) moveOfferID(w http.ResponseWriter, r *http.Request) (string, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return "", false
	}
	var req moveOfferResponse
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return "", false
	}
	id := strings.TrimSpace(req.AppointmentID)
	if id == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return "", false
	}
	return id, true
}
