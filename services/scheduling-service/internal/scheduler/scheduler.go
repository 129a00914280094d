// Package scheduler mutates appointment state: booking, rescheduling,
// cancellation and daily-schedule reads. All writes are validate-then-commit;
// the store performs the authoritative conflict recheck at commit time.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/policy"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/timeutil"
)

// Store is the persistence surface the scheduler mutates through.
// InsertIfFree and RescheduleIfFree re-run the conflict check under an
// exclusive range read and return model.ErrConflict when the commit loses the
// race; everything validated beforehand can still lose here.
type Store interface {
	OwnerByID(ctx context.Context, id string) (model.Owner, error)
	ServiceByID(ctx context.Context, id string) (model.Service, error)
	ClientByID(ctx context.Context, id string) (model.Client, error)
	AppointmentByID(ctx context.Context, id string) (model.Appointment, error)

	InsertIfFree(ctx context.Context, appt model.Appointment, bufferMin int) error
	RescheduleIfFree(ctx context.Context, apptID string, newStart, newEnd time.Time, bufferMin int) (model.Appointment, error)
	CancelAppointment(ctx context.Context, apptID, reason string) (model.Appointment, error)
	AppointmentsBetween(ctx context.Context, ownerID string, from, to time.Time) ([]model.Appointment, error)
}

// Events receives appointment lifecycle facts. Emission failures are logged
// and never fail the mutation that produced them.
type Events interface {
	AppointmentBooked(ctx context.Context, appt model.Appointment) error
	AppointmentRescheduled(ctx context.Context, appt model.Appointment, oldStart, oldEnd time.Time) error
	AppointmentCancelled(ctx context.Context, appt model.Appointment, reason string) error
	RemindersRequested(ctx context.Context, appt model.Appointment, offsetsMin []int) error
}

// Auditor is the append-only decision trail. Never read back here.
type Auditor interface {
	Record(ctx context.Context, ownerID string, actor model.Actor, action string, payload map[string]any) error
}

// GapFiller receives vacated intervals for the fill cascade. Dispatch must
// not block and must not propagate cascade failures to the canceller.
type GapFiller interface {
	FillGapAsync(gap model.Gap)
}

type Scheduler struct {
	store    Store
	enforcer *policy.Enforcer
	events   Events
	audit    Auditor
	gaps     GapFiller
	log      *slog.Logger
	now      func() time.Time
}

func New(store Store, enforcer *policy.Enforcer, events Events, audit Auditor, log *slog.Logger) *Scheduler {
	return &Scheduler{
		store:    store,
		enforcer: enforcer,
		events:   events,
		audit:    audit,
		log:      log,
		now:      time.Now,
	}
}

// WithGapFiller wires the cascade dispatcher. Bound after construction
// because the optimizer books through this scheduler.
func (s *Scheduler) WithGapFiller(gaps GapFiller) *Scheduler {
	s.gaps = gaps
	return s
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

type BookRequest struct {
	OwnerID   string
	ClientID  string
	ServiceID string
	Start     time.Time
	Notes     string

	// Confirmed books straight to confirmed status. Used by waitlist-offer
	// acceptance; a normal booking starts pending.
	Confirmed bool
}

// Book validates the candidate window and commits it. A concurrent booking of
// an overlapping window surfaces as model.ErrConflict from the store even
// though validation passed.
func (s *Scheduler) Book(ctx context.Context, req BookRequest) (model.Appointment, error) {
	owner, err := s.store.OwnerByID(ctx, req.OwnerID)
	if err != nil {
		return model.Appointment{}, err
	}
	svc, err := s.store.ServiceByID(ctx, req.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}
	if svc.OwnerID != owner.ID {
		return model.Appointment{}, fmt.Errorf("service %s: %w", req.ServiceID, model.ErrNotFound)
	}
	if _, err := s.store.ClientByID(ctx, req.ClientID); err != nil {
		return model.Appointment{}, err
	}

	if err := s.enforcer.Validate(ctx, owner, req.Start, svc.DurationMin, svc.BufferMin, ""); err != nil {
		return model.Appointment{}, err
	}

	status := model.StatusPending
	if req.Confirmed {
		status = model.StatusConfirmed
	}
	appt := model.Appointment{
		ID:        uuid.NewString(),
		OwnerID:   owner.ID,
		ClientID:  req.ClientID,
		ServiceID: svc.ID,
		StartAt:   req.Start.UTC(),
		EndAt:     req.Start.Add(time.Duration(svc.DurationMin) * time.Minute).UTC(),
		Status:    status,
		Notes:     req.Notes,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.InsertIfFree(ctx, appt, svc.BufferMin); err != nil {
		return model.Appointment{}, err
	}

	if err := s.events.AppointmentBooked(ctx, appt); err != nil {
		s.log.Error("booked event emit failed", "appointment_id", appt.ID, "err", err)
	}
	if err := s.events.RemindersRequested(ctx, appt, owner.Settings.ReminderOffsetsMin); err != nil {
		s.log.Error("reminder request failed", "appointment_id", appt.ID, "err", err)
	}
	s.recordAudit(ctx, owner.ID, model.ActorClient, "appointment_booked", map[string]any{
		"appointment_id": appt.ID,
		"service_id":     appt.ServiceID,
		"start_at":       appt.StartAt,
		"status":         string(appt.Status),
	})
	return appt, nil
}

// Reschedule moves an active appointment to newStart. The appointment's own
// row is excluded from conflict search; on any failure the original row is
// untouched.
func (s *Scheduler) Reschedule(ctx context.Context, apptID string, newStart time.Time) (model.Appointment, error) {
	appt, err := s.store.AppointmentByID(ctx, apptID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.StatusCancelled {
		return appt, model.ErrAlreadyCancelled
	}
	if !appt.Active() {
		return model.Appointment{}, fmt.Errorf("%w: appointment %s is %s", model.ErrInvalidInput, apptID, appt.Status)
	}
	owner, err := s.store.OwnerByID(ctx, appt.OwnerID)
	if err != nil {
		return model.Appointment{}, err
	}
	svc, err := s.store.ServiceByID(ctx, appt.ServiceID)
	if err != nil {
		return model.Appointment{}, err
	}

	if err := s.enforcer.Validate(ctx, owner, newStart, svc.DurationMin, svc.BufferMin, appt.ID); err != nil {
		return model.Appointment{}, err
	}

	oldStart, oldEnd := appt.StartAt, appt.EndAt
	newEnd := newStart.Add(time.Duration(svc.DurationMin) * time.Minute)
	updated, err := s.store.RescheduleIfFree(ctx, appt.ID, newStart.UTC(), newEnd.UTC(), svc.BufferMin)
	if err != nil {
		return model.Appointment{}, err
	}

	if err := s.events.AppointmentRescheduled(ctx, updated, oldStart, oldEnd); err != nil {
		s.log.Error("rescheduled event emit failed", "appointment_id", updated.ID, "err", err)
	}
	s.recordAudit(ctx, owner.ID, model.ActorClient, "appointment_rescheduled", map[string]any{
		"appointment_id": updated.ID,
		"old_start_at":   oldStart,
		"new_start_at":   updated.StartAt,
	})
	return updated, nil
}

// Cancel flips the appointment to cancelled and hands the vacated interval to
// the gap filler. Cancelling an already-cancelled appointment returns the row
// with model.ErrAlreadyCancelled and never re-triggers the cascade. The
// cancel-window check applies to client-initiated cancels only; owners and
// the system may cancel inside the window.
func (s *Scheduler) Cancel(ctx context.Context, apptID, reason string, actor model.Actor) (model.Appointment, error) {
	appt, err := s.store.AppointmentByID(ctx, apptID)
	if err != nil {
		return model.Appointment{}, err
	}
	if appt.Status == model.StatusCancelled {
		return appt, model.ErrAlreadyCancelled
	}
	owner, err := s.store.OwnerByID(ctx, appt.OwnerID)
	if err != nil {
		return model.Appointment{}, err
	}
	if actor == model.ActorClient {
		if err := s.enforcer.CheckCancelWindow(owner, appt); err != nil {
			return model.Appointment{}, err
		}
	}

	updated, err := s.store.CancelAppointment(ctx, appt.ID, reason)
	if err != nil {
		return model.Appointment{}, err
	}

	if err := s.events.AppointmentCancelled(ctx, updated, reason); err != nil {
		s.log.Error("cancelled event emit failed", "appointment_id", updated.ID, "err", err)
	}
	s.recordAudit(ctx, owner.ID, actor, "appointment_cancelled", map[string]any{
		"appointment_id": updated.ID,
		"start_at":       updated.StartAt,
		"reason":         reason,
	})

	s.gaps.FillGapAsync(model.Gap{
		OwnerID:   updated.OwnerID,
		ServiceID: updated.ServiceID,
		Start:     updated.StartAt,
		End:       updated.EndAt,
	})
	return updated, nil
}

// DailySchedule returns the owner's pending and confirmed appointments whose
// start falls within the local calendar day, ordered by start time.
func (s *Scheduler) DailySchedule(ctx context.Context, ownerID string, day model.Date) ([]model.Appointment, error) {
	owner, err := s.store.OwnerByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	loc, err := timeutil.LoadLocation(owner.Timezone)
	if err != nil {
		return nil, err
	}
	from, to := timeutil.DayBounds(day, loc)

	appts, err := s.store.AppointmentsBetween(ctx, ownerID, from, to)
	if err != nil {
		return nil, err
	}
	active := appts[:0]
	for _, a := range appts {
		if a.Active() {
			active = append(active, a)
		}
	}
	return active, nil
}

func (s *Scheduler) recordAudit(ctx context.Context, ownerID string, actor model.Actor, action string, payload map[string]any) {
	if err := s.audit.Record(ctx, ownerID, actor, action, payload); err != nil {
		s.log.Error("audit record failed", "owner_id", ownerID, "action", action, "err", err)
	}
}
