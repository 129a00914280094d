// Package notify emits outbound commands for the external collaborators:
// appointment lifecycle events, reminder-scheduling triggers, and offer
// notifications. Everything goes through the outbox; payloads carry
// structured slot data plus the client's phone, never user-facing text —
// message formatting belongs to the messaging layer.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/offers"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/outbox"
)

const (
	topicBooked        = "scheduling.appointment.booked.v1"
	topicRescheduled   = "scheduling.appointment.rescheduled.v1"
	topicCancelled     = "scheduling.appointment.cancelled.v1"
	topicReminders     = "scheduling.reminders.requested.v1"
	topicWaitlistOffer = "notify.waitlist.offer.v1"
	topicMoveOffer     = "notify.move.offer.v1"
)

type Emitter struct {
	outbox *outbox.Repository
}

func NewEmitter(outboxRepo *outbox.Repository) *Emitter {
	return &Emitter{outbox: outboxRepo}
}

func (e *Emitter) AppointmentBooked(ctx context.Context, appt model.Appointment) error {
	return e.emit(ctx, "appointment", appt.ID, topicBooked, map[string]any{
		"appointment_id": appt.ID,
		"owner_id":       appt.OwnerID,
		"client_id":      appt.ClientID,
		"service_id":     appt.ServiceID,
		"start_at":       appt.StartAt.UTC().Format(time.RFC3339),
		"end_at":         appt.EndAt.UTC().Format(time.RFC3339),
		"status":         string(appt.Status),
	})
}

func (e *Emitter) AppointmentRescheduled(ctx context.Context, appt model.Appointment, oldStart, oldEnd time.Time) error {
	return e.emit(ctx, "appointment", appt.ID, topicRescheduled, map[string]any{
		"appointment_id": appt.ID,
		"owner_id":       appt.OwnerID,
		"client_id":      appt.ClientID,
		"old_start_at":   oldStart.UTC().Format(time.RFC3339),
		"old_end_at":     oldEnd.UTC().Format(time.RFC3339),
		"new_start_at":   appt.StartAt.UTC().Format(time.RFC3339),
		"new_end_at":     appt.EndAt.UTC().Format(time.RFC3339),
	})
}

func (e *Emitter) AppointmentCancelled(ctx context.Context, appt model.Appointment, reason string) error {
	return e.emit(ctx, "appointment", appt.ID, topicCancelled, map[string]any{
		"appointment_id": appt.ID,
		"owner_id":       appt.OwnerID,
		"client_id":      appt.ClientID,
		"start_at":       appt.StartAt.UTC().Format(time.RFC3339),
		"end_at":         appt.EndAt.UTC().Format(time.RFC3339),
		"reason":         reason,
	})
}

// RemindersRequested triggers the external reminder scheduler once per
// successful booking. The offsets travel with the request so the collaborator
// needs no settings lookup.
func (e *Emitter) RemindersRequested(ctx context.Context, appt model.Appointment, offsetsMin []int) error {
	return e.emit(ctx, "appointment", appt.ID, topicReminders, map[string]any{
		"appointment_id": appt.ID,
		"owner_id":       appt.OwnerID,
		"start_at":       appt.StartAt.UTC().Format(time.RFC3339),
		"offsets_min":    offsetsMin,
	})
}

func (e *Emitter) WaitlistOffer(ctx context.Context, client model.Client, offer offers.WaitlistOffer) error {
	return e.emit(ctx, "waitlist_entry", offer.EntryID, topicWaitlistOffer, map[string]any{
		"entry_id":   offer.EntryID,
		"owner_id":   offer.OwnerID,
		"client_id":  client.ID,
		"phone":      client.Phone,
		"service_id": offer.ServiceID,
		"slot_start": offer.SlotStart.UTC().Format(time.RFC3339),
		"slot_end":   offer.SlotEnd.UTC().Format(time.RFC3339),
	})
}

func (e *Emitter) MoveOffer(ctx context.Context, client model.Client, offer offers.MoveOffer) error {
	return e.emit(ctx, "appointment", offer.AppointmentID, topicMoveOffer, map[string]any{
		"appointment_id": offer.AppointmentID,
		"owner_id":       offer.OwnerID,
		"client_id":      client.ID,
		"phone":          client.Phone,
		"service_id":     offer.ServiceID,
		"new_start":      offer.NewStart.UTC().Format(time.RFC3339),
		"orig_start":     offer.OrigStart.UTC().Format(time.RFC3339),
	})
}

func (e *Emitter) emit(ctx context.Context, aggregateType, aggregateID, topic string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return e.outbox.InsertOne(ctx, outbox.Event{
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     topic,
		Payload:       raw,
	})
}
