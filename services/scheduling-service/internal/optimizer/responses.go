package optimizer

import (
	"context"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/scheduler"
)

// AcceptWaitlistOffer converts an in-flight waitlist offer into a confirmed
// appointment and removes the waitlist entry. The offer is consumed
// atomically, so the first of two racing responders wins and the other sees
// model.ErrOfferExpired. A booking conflict (someone booked the slot through
// the normal path meanwhile) surfaces as model.ErrConflict.
func (e *Engine) AcceptWaitlistOffer(ctx context.Context, entryID string) (model.Appointment, error) {
	offer, err := e.offers.TakeWaitlistOffer(ctx, entryID)
	if err != nil {
		return model.Appointment{}, err
	}

	appt, err := e.booker.Book(ctx, scheduler.BookRequest{
		OwnerID:   offer.OwnerID,
		ClientID:  offer.ClientID,
		ServiceID: offer.ServiceID,
		Start:     offer.SlotStart,
		Confirmed: true,
	})
	if err != nil {
		return model.Appointment{}, err
	}

	if err := e.store.DeleteEntry(ctx, offer.OwnerID, offer.EntryID); err != nil {
		e.log.Error("waitlist entry cleanup failed", "entry_id", offer.EntryID, "err", err)
	}
	e.recordAudit(ctx, offer.OwnerID, "waitlist_offer_accepted", map[string]any{
		"entry_id":       offer.EntryID,
		"appointment_id": appt.ID,
		"slot_start":     offer.SlotStart,
	})
	return appt, nil
}

// DeclineWaitlistOffer consumes the offer and re-runs a cascade pass for the
// same gap so the next-ranked candidates get their turn. The decliner's
// notify cooldown keeps them out of the re-run.
func (e *Engine) DeclineWaitlistOffer(ctx context.Context, entryID string) error {
	offer, err := e.offers.TakeWaitlistOffer(ctx, entryID)
	if err != nil {
		return err
	}
	e.recordAudit(ctx, offer.OwnerID, "waitlist_offer_declined", map[string]any{
		"entry_id":   offer.EntryID,
		"slot_start": offer.SlotStart,
	})

	gap := model.Gap{OwnerID: offer.OwnerID, ServiceID: offer.ServiceID, Start: offer.SlotStart, End: offer.SlotEnd}
	if _, err := e.pass(ctx, gap, false); err != nil {
		e.log.Error("gap-fill re-run after decline failed", "owner_id", offer.OwnerID, "err", err)
	}
	return nil
}

// AcceptEarlierMove reschedules the offered appointment into the gap. The
// client's original slot is now itself vacated; one backfill pass runs for
// it, and offers produced by that pass never trigger further passes.
func (e *Engine) AcceptEarlierMove(ctx context.Context, appointmentID string) (model.Appointment, error) {
	offer, err := e.offers.TakeMoveOffer(ctx, appointmentID)
	if err != nil {
		return model.Appointment{}, err
	}

	moved, err := e.booker.Reschedule(ctx, offer.AppointmentID, offer.NewStart)
	if err != nil {
		return model.Appointment{}, err
	}
	e.recordAudit(ctx, offer.OwnerID, "move_offer_accepted", map[string]any{
		"appointment_id": offer.AppointmentID,
		"new_start":      offer.NewStart,
		"orig_start":     offer.OrigStart,
	})

	if !offer.Backfill {
		vacated := model.Gap{
			OwnerID:   offer.OwnerID,
			ServiceID: offer.ServiceID,
			Start:     offer.OrigStart,
			End:       offer.OrigEnd,
		}
		if _, err := e.pass(ctx, vacated, true); err != nil {
			e.log.Error("backfill pass failed", "owner_id", offer.OwnerID, "err", err)
		}
	}
	return moved, nil
}

// DeclineEarlierMove consumes the offer; the appointment stays where it is.
func (e *Engine) DeclineEarlierMove(ctx context.Context, appointmentID string) error {
	offer, err := e.offers.TakeMoveOffer(ctx, appointmentID)
	if err != nil {
		return err
	}
	e.recordAudit(ctx, offer.OwnerID, "move_offer_declined", map[string]any{
		"appointment_id": offer.AppointmentID,
		"new_start":      offer.NewStart,
	})
	return nil
}
