package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/waitlist"
)

type waitlistJoinRequest struct {
	OwnerID     string `json:"owner_id"`
	ClientID    string `json:"client_id"`
	ServiceID   string `json:"service_id"`
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	Priority    int    `json:"priority"`
}

type waitlistEntryItem struct {
	EntryID     string `json:"entry_id"`
	OwnerID     string `json:"owner_id"`
	ClientID    string `json:"client_id"`
	ServiceID   string `json:"service_id"`
	WindowStart string `json:"window_start"`
	WindowEnd   string `json:"window_end"`
	Priority    int    `json:"priority"`
	NotifyCount int    `json:"notify_count"`
}

func entryToItem(e model.WaitlistEntry) waitlistEntryItem {
	return waitlistEntryItem{
		EntryID:     e.ID,
		OwnerID:     e.OwnerID,
		ClientID:    e.ClientID,
		ServiceID:   e.ServiceID,
		WindowStart: e.WindowStart.UTC().Format(time.RFC3339),
		WindowEnd:   e.WindowEnd.UTC().Format(time.RFC3339),
		Priority:    e.Priority,
		NotifyCount: e.NotifyCount,
	}
}

// WaitlistJoin handles POST /api/v1/waitlist. A repeat signup for the same
// client/service merges: the window widens and the higher priority wins.
func (h *SchedulingHandler) WaitlistJoin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req waitlistJoinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.OwnerID == "" || req.ClientID == "" || req.ServiceID == "" {
		http.Error(w, "owner_id, client_id and service_id required", http.StatusBadRequest)
		return
	}
	winStart, err := time.Parse(time.RFC3339, strings.TrimSpace(req.WindowStart))
	if err != nil {
		http.Error(w, "invalid window_start", http.StatusBadRequest)
		return
	}
	winEnd, err := time.Parse(time.RFC3339, strings.TrimSpace(req.WindowEnd))
	if err != nil {
		http.Error(w, "invalid window_end", http.StatusBadRequest)
		return
	}
	if req.Priority < 0 {
		http.Error(w, "priority must be non-negative", http.StatusBadRequest)
		return
	}

	entry, err := h.waitlist.Join(r.Context(), waitlist.JoinRequest{
		OwnerID:     req.OwnerID,
		ClientID:    req.ClientID,
		ServiceID:   req.ServiceID,
		WindowStart: winStart,
		WindowEnd:   winEnd,
		Priority:    req.Priority,
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entryToItem(entry))
}

type waitlistLeaveRequest struct {
	OwnerID string `json:"owner_id"`
	EntryID string `json:"entry_id"`
}

// WaitlistLeave handles POST /api/v1/waitlist/leave.
func (h *SchedulingHandler) WaitlistLeave(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req waitlistLeaveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.EntryID = strings.TrimSpace(req.EntryID)
	if req.OwnerID == "" || req.EntryID == "" {
		http.Error(w, "owner_id and entry_id required", http.StatusBadRequest)
		return
	}
	if err := h.waitlist.Leave(r.Context(), req.OwnerID, req.EntryID); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": true})
}

// WaitlistEntries handles GET /api/v1/waitlist?owner_id=.
func (h *SchedulingHandler) WaitlistEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		http.Error(w, "owner_id required", http.StatusBadRequest)
		return
	}
	entries, err := h.waitlist.Entries(r.Context(), ownerID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	items := make([]waitlistEntryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, entryToItem(e))
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": items})
}
