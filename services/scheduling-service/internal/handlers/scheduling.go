// Package handlers exposes the engine over HTTP: slot discovery, booking
// mutations, waitlist signup, and the offer response entry points. Plain data
// in and out; all business rules live below this layer.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/optimizer"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/policy"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/scheduler"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/slots"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/waitlist"
)

// Directory is the read surface for the lookups the HTTP layer itself needs.
type Directory interface {
	OwnerByID(ctx context.Context, id string) (model.Owner, error)
	ServiceByID(ctx context.Context, id string) (model.Service, error)
}

type SchedulingHandler struct {
	dir      Directory
	finder   *slots.Finder
	sched    *scheduler.Scheduler
	waitlist *waitlist.Manager
	engine   *optimizer.Engine
	logger   *slog.Logger
}

func NewSchedulingHandler(dir Directory, finder *slots.Finder, sched *scheduler.Scheduler, wl *waitlist.Manager, engine *optimizer.Engine, logger *slog.Logger) *SchedulingHandler {
	return &SchedulingHandler{
		dir:      dir,
		finder:   finder,
		sched:    sched,
		waitlist: wl,
		engine:   engine,
		logger:   logger,
	}
}

type slotItem struct {
	Start      string `json:"start"`
	End        string `json:"end"`
	ServiceID  string `json:"service_id"`
	PriceCents int    `json:"price_cents"`
}

type appointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	OwnerID       string `json:"owner_id"`
	ClientID      string `json:"client_id"`
	ServiceID     string `json:"service_id"`
	Start         string `json:"start"`
	End           string `json:"end"`
	Status        string `json:"status"`
	Notes         string `json:"notes,omitempty"`
}

func appointmentToItem(a model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID: a.ID,
		OwnerID:       a.OwnerID,
		ClientID:      a.ClientID,
		ServiceID:     a.ServiceID,
		Start:         a.StartAt.UTC().Format(time.RFC3339),
		End:           a.EndAt.UTC().Format(time.RFC3339),
		Status:        string(a.Status),
		Notes:         a.Notes,
	}
}

// Slots handles GET /api/v1/slots?owner_id=&service_id=&from=&to=&max=&mode=.
func (h *SchedulingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	ownerID := strings.TrimSpace(q.Get("owner_id"))
	serviceID := strings.TrimSpace(q.Get("service_id"))
	if ownerID == "" || serviceID == "" {
		http.Error(w, "owner_id and service_id required", http.StatusBadRequest)
		return
	}
	from, err := model.ParseDate(strings.TrimSpace(q.Get("from")))
	if err != nil {
		http.Error(w, "invalid from date", http.StatusBadRequest)
		return
	}
	to, err := model.ParseDate(strings.TrimSpace(q.Get("to")))
	if err != nil {
		http.Error(w, "invalid to date", http.StatusBadRequest)
		return
	}
	maxSlots := 10
	if raw := strings.TrimSpace(q.Get("max")); raw != "" {
		maxSlots, err = strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid max", http.StatusBadRequest)
			return
		}
	}

	ctx := r.Context()
	owner, err := h.dir.OwnerByID(ctx, ownerID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	svc, err := h.dir.ServiceByID(ctx, serviceID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	if mode := strings.TrimSpace(q.Get("mode")); mode != "" {
		owner.DefaultIntent = model.IntentMode(mode)
	}

	found, err := h.finder.Find(ctx, owner, svc, from, to, maxSlots)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	items := make([]slotItem, 0, len(found))
	for _, s := range found {
		items = append(items, slotItem{
			Start:      s.Start.UTC().Format(time.RFC3339),
			End:        s.End.UTC().Format(time.RFC3339),
			ServiceID:  s.ServiceID,
			PriceCents: s.PriceCents,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"slots": items})
}

type bookRequest struct {
	OwnerID   string `json:"owner_id"`
	ClientID  string `json:"client_id"`
	ServiceID string `json:"service_id"`
	Start     string `json:"start"`
	Notes     string `json:"notes"`
}

// Book handles POST /api/v1/appointments.
func (h *SchedulingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req bookRequest
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
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.Start))
	if err != nil {
		http.Error(w, "invalid start", http.StatusBadRequest)
		return
	}

	appt, err := h.sched.Book(r.Context(), scheduler.BookRequest{
		OwnerID:   req.OwnerID,
		ClientID:  req.ClientID,
		ServiceID: req.ServiceID,
		Start:     start,
		Notes:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, appointmentToItem(appt))
}

type rescheduleRequest struct {
	AppointmentID string `json:"appointment_id"`
	NewStart      string `json:"new_start"`
}

// Reschedule handles POST /api/v1/appointments/reschedule.
func (h *SchedulingHandler) Reschedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req rescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	newStart, err := time.Parse(time.RFC3339, strings.TrimSpace(req.NewStart))
	if err != nil {
		http.Error(w, "invalid new_start", http.StatusBadRequest)
		return
	}

	appt, err := h.sched.Reschedule(r.Context(), req.AppointmentID, newStart)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, appointmentToItem(appt))
}

type cancelRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
	Actor         string `json:"actor"`
}

// Cancel handles POST /api/v1/appointments/cancel. Cancelling an
// already-cancelled appointment reports 200 with idempotent=true and does not
// re-run the gap-fill cascade.
func (h *SchedulingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		http.Error(w, "appointment_id required", http.StatusBadRequest)
		return
	}
	actor := model.ActorClient
	switch strings.TrimSpace(req.Actor) {
	case "", string(model.ActorClient):
	case string(model.ActorOwner):
		actor = model.ActorOwner
	case string(model.ActorSystem):
		actor = model.ActorSystem
	default:
		http.Error(w, "invalid actor", http.StatusBadRequest)
		return
	}

	appt, err := h.sched.Cancel(r.Context(), req.AppointmentID, strings.TrimSpace(req.Reason), actor)
	if errors.Is(err, model.ErrAlreadyCancelled) {
		writeJSON(w, http.StatusOK, map[string]any{
			"appointment": appointmentToItem(appt),
			"idempotent":  true,
		})
		return
	}
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointment": appointmentToItem(appt)})
}

// Schedule handles GET /api/v1/schedule?owner_id=&date=.
func (h *SchedulingHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	ownerID := strings.TrimSpace(q.Get("owner_id"))
	if ownerID == "" {
		http.Error(w, "owner_id required", http.StatusBadRequest)
		return
	}
	day, err := model.ParseDate(strings.TrimSpace(q.Get("date")))
	if err != nil {
		http.Error(w, "invalid date", http.StatusBadRequest)
		return
	}

	appts, err := h.sched.DailySchedule(r.Context(), ownerID, day)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, appointmentToItem(a))
	}
	writeJSON(w, http.StatusOK, map[string]any{"appointments": items})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeEngineError maps engine errors to HTTP statuses. Policy violations
// carry the rule name so the dialogue layer can build its message.
func (h *SchedulingHandler) writeEngineError(w http.ResponseWriter, err error) {
	if v, ok := policy.AsViolation(err); ok {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "policy_violation",
			"rule":   string(v.Rule),
			"detail": v.Detail,
		})
		return
	}
	switch {
	case errors.Is(err, model.ErrConflict):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "conflict"})
	case errors.Is(err, model.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "not_found"})
	case errors.Is(err, model.ErrOfferExpired):
		writeJSON(w, http.StatusGone, map[string]any{"error": "offer_expired"})
	case errors.Is(err, model.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_input"})
	default:
		h.logger.Error("request failed", "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal"})
	}
}
