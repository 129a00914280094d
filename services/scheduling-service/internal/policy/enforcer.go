// Package policy decides whether candidate appointment windows are legal
// under the owner's business rules. Each check is independently callable and
// fails with a typed Violation naming the broken rule.
package policy

import (
	"context"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/timeutil"
)

// Store is the narrow read surface the enforcer needs.
type Store interface {
	AvailabilityFor(ctx context.Context, ownerID string, weekday time.Weekday) (model.Availability, bool, error)
	BlocksOn(ctx context.Context, ownerID string, day model.Date) ([]model.Block, error)
	// Conflicting returns non-cancelled appointments overlapping
	// [windowStart, windowEnd). excludeID may be empty.
	Conflicting(ctx context.Context, ownerID string, windowStart, windowEnd time.Time, excludeID string) ([]model.Appointment, error)
}

type Enforcer struct {
	store Store
	now   func() time.Time
}

func NewEnforcer(store Store) *Enforcer {
	return &Enforcer{store: store, now: time.Now}
}

// WithClock overrides the wall clock. Tests only.
func (e *Enforcer) WithClock(now func() time.Time) *Enforcer {
	e.now = now
	return e
}

// CheckLeadTime fails when the candidate start is closer than the owner's
// minimum lead time.
func (e *Enforcer) CheckLeadTime(owner model.Owner, start time.Time) error {
	lead := time.Duration(owner.Settings.LeadTimeMin) * time.Minute
	ahead := start.Sub(e.now())
	if ahead < lead {
		return violate(RuleLeadTime, start,
			"needs %d minutes of lead time, candidate is %d minutes away",
			owner.Settings.LeadTimeMin, int(ahead/time.Minute))
	}
	return nil
}

// CheckBusinessHours fails when the candidate window is not fully inside the
// weekday's active availability, in owner-local time.
func (e *Enforcer) CheckBusinessHours(ctx context.Context, owner model.Owner, start time.Time, durationMin int) error {
	loc, err := timeutil.LoadLocation(owner.Timezone)
	if err != nil {
		return err
	}
	local := start.In(loc)

	avail, ok, err := e.store.AvailabilityFor(ctx, owner.ID, local.Weekday())
	if err != nil {
		return err
	}
	if !ok || !avail.Active {
		return violate(RuleBusinessHours, start, "no availability on %s", local.Weekday())
	}

	startMin := timeutil.MinuteOfDay(start, loc)
	endMin := startMin + model.TimeOfDay(durationMin)
	if startMin < avail.Start {
		return violate(RuleBusinessHours, start,
			"starts at %s before opening at %s", startMin, avail.Start)
	}
	if endMin > avail.End {
		return violate(RuleBusinessHours, start,
			"ends at %s after closing at %s", endMin, avail.End)
	}
	return nil
}

// CheckBlockedTime fails when the candidate overlaps an owner block on the
// candidate's local date.
func (e *Enforcer) CheckBlockedTime(ctx context.Context, owner model.Owner, start time.Time, durationMin int) error {
	loc, err := timeutil.LoadLocation(owner.Timezone)
	if err != nil {
		return err
	}
	day := timeutil.LocalDate(start, loc)
	blocks, err := e.store.BlocksOn(ctx, owner.ID, day)
	if err != nil {
		return err
	}

	end := start.Add(time.Duration(durationMin) * time.Minute)
	for _, b := range blocks {
		blockStart := timeutil.At(day, b.Start, loc)
		blockEnd := timeutil.At(day, b.End, loc)
		if timeutil.Overlaps(start, end, blockStart, blockEnd) {
			return violate(RuleBlockedTime, start,
				"overlaps blocked time %s-%s", b.Start, b.End)
		}
	}
	return nil
}

// CheckConflicts fails when any non-cancelled appointment overlaps the
// buffered window [start-buffer, start+duration+buffer). excludeID lets a
// reschedule ignore the appointment being moved.
func (e *Enforcer) CheckConflicts(ctx context.Context, owner model.Owner, start time.Time, durationMin, bufferMin int, excludeID string) error {
	buffer := time.Duration(bufferMin) * time.Minute
	windowStart := start.Add(-buffer)
	windowEnd := start.Add(time.Duration(durationMin)*time.Minute + buffer)

	conflicts, err := e.store.Conflicting(ctx, owner.ID, windowStart, windowEnd, excludeID)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		return violate(RuleConflict, start,
			"overlaps %d existing appointment(s), first at %s",
			len(conflicts), conflicts[0].StartAt.UTC().Format(time.RFC3339))
	}
	return nil
}

// CheckCancelWindow fails when the appointment starts sooner than the owner's
// cancellation window allows. Used at cancel time only.
func (e *Enforcer) CheckCancelWindow(owner model.Owner, appt model.Appointment) error {
	window := time.Duration(owner.Settings.CancelWindowHr) * time.Hour
	until := appt.StartAt.Sub(e.now())
	if until < window {
		return violate(RuleCancelWindow, appt.StartAt,
			"requires %d hours notice, appointment is %.1f hours away",
			owner.Settings.CancelWindowHr, until.Hours())
	}
	return nil
}

// CheckQuietHours fails when a notification instant falls inside the owner's
// quiet window (overnight wraparound supported).
func (e *Enforcer) CheckQuietHours(owner model.Owner, at time.Time) error {
	loc, err := timeutil.LoadLocation(owner.Timezone)
	if err != nil {
		return err
	}
	if timeutil.InQuietHours(at, owner.QuietHoursStart, owner.QuietHoursEnd, loc) {
		return violate(RuleQuietHours, at, "inside quiet hours %s-%s",
			*owner.QuietHoursStart, *owner.QuietHoursEnd)
	}
	return nil
}

// Validate runs the booking-time checks and short-circuits on the first
// failure. Cancel-window and quiet-hours checks are separate concerns.
func (e *Enforcer) Validate(ctx context.Context, owner model.Owner, start time.Time, durationMin, bufferMin int, excludeID string) error {
	if err := e.CheckLeadTime(owner, start); err != nil {
		return err
	}
	if err := e.CheckBusinessHours(ctx, owner, start, durationMin); err != nil {
		return err
	}
	if err := e.CheckBlockedTime(ctx, owner, start, durationMin); err != nil {
		return err
	}
	return e.CheckConflicts(ctx, owner, start, durationMin, bufferMin, excludeID)
}
