package policy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

type fakeStore struct {
	availability map[time.Weekday]model.Availability
	blocks       []model.Block
	appointments []model.Appointment
}

func (f *fakeStore) AvailabilityFor(_ context.Context, _ string, wd time.Weekday) (model.Availability, bool, error) {
	a, ok := f.availability[wd]
	return a, ok, nil
}

func (f *fakeStore) BlocksOn(_ context.Context, _ string, day model.Date) ([]model.Block, error) {
	var out []model.Block
	for _, b := range f.blocks {
		if b.Date == day {
			out = append(out, b)
		}
	}
	return out, nil
}

func (f *fakeStore) Conflicting(_ context.Context, _ string, windowStart, windowEnd time.Time, excludeID string) ([]model.Appointment, error) {
	var out []model.Appointment
	for _, a := range f.appointments {
		if a.ID == excludeID || !a.Active() {
			continue
		}
		if a.StartAt.Before(windowEnd) && windowStart.Before(a.EndAt) {
			out = append(out, a)
		}
	}
	return out, nil
}

func testOwner() model.Owner {
	qs := model.TimeOfDay(22 * 60)
	qe := model.TimeOfDay(8 * 60)
	return model.Owner{
		ID:              "owner-1",
		Timezone:        "UTC",
		QuietHoursStart: &qs,
		QuietHoursEnd:   &qe,
		Settings:        model.DefaultSettings(),
	}
}

// Monday 2026-02-02, 09:00-17:00 open.
func mondayStore() *fakeStore {
	return &fakeStore{
		availability: map[time.Weekday]model.Availability{
			time.Monday: {OwnerID: "owner-1", Weekday: time.Monday, Start: 9 * 60, End: 17 * 60, Active: true},
		},
	}
}

func enforcerAt(store Store, now time.Time) *Enforcer {
	return NewEnforcer(store).WithClock(func() time.Time { return now })
}

func expectRule(t *testing.T, err error, rule Rule) {
	t.Helper()
	v, ok := AsViolation(err)
	if !ok {
		t.Fatalf("expected a policy violation, got %v", err)
	}
	if v.Rule != rule {
		t.Fatalf("expected rule %s, got %s (%s)", rule, v.Rule, v.Detail)
	}
}

func TestCheckLeadTime(t *testing.T) {
	owner := testOwner()
	now := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	e := enforcerAt(mondayStore(), now)

	if err := e.CheckLeadTime(owner, now.Add(61*time.Minute)); err != nil {
		t.Fatalf("61 minutes ahead should pass a 60 minute lead time: %v", err)
	}
	err := e.CheckLeadTime(owner, now.Add(30*time.Minute))
	expectRule(t, err, RuleLeadTime)
}

func TestCheckBusinessHours(t *testing.T) {
	owner := testOwner()
	now := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	e := enforcerAt(mondayStore(), now)
	ctx := context.Background()

	monday0930 := time.Date(2026, 2, 2, 9, 30, 0, 0, time.UTC)
	if err := e.CheckBusinessHours(ctx, owner, monday0930, 30); err != nil {
		t.Fatalf("09:30+30m inside 09:00-17:00 should pass: %v", err)
	}

	// Ends exactly at close: allowed.
	if err := e.CheckBusinessHours(ctx, owner, time.Date(2026, 2, 2, 16, 30, 0, 0, time.UTC), 30); err != nil {
		t.Fatalf("slot ending at close should pass: %v", err)
	}

	// Runs past close.
	err := e.CheckBusinessHours(ctx, owner, time.Date(2026, 2, 2, 16, 45, 0, 0, time.UTC), 30)
	expectRule(t, err, RuleBusinessHours)

	// Before opening.
	err = e.CheckBusinessHours(ctx, owner, time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC), 30)
	expectRule(t, err, RuleBusinessHours)

	// Sunday has no availability row.
	err = e.CheckBusinessHours(ctx, owner, time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), 30)
	expectRule(t, err, RuleBusinessHours)
}

func TestCheckBlockedTime(t *testing.T) {
	owner := testOwner()
	store := mondayStore()
	store.blocks = []model.Block{{
		OwnerID: "owner-1",
		Date:    model.Date{Year: 2026, Month: time.February, Day: 2},
		Start:   12 * 60,
		End:     13 * 60,
		Reason:  "lunch",
	}}
	e := enforcerAt(store, time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()

	err := e.CheckBlockedTime(ctx, owner, time.Date(2026, 2, 2, 12, 30, 0, 0, time.UTC), 30)
	expectRule(t, err, RuleBlockedTime)

	// Touching the block boundary is fine (half-open intervals).
	if err := e.CheckBlockedTime(ctx, owner, time.Date(2026, 2, 2, 11, 30, 0, 0, time.UTC), 30); err != nil {
		t.Fatalf("slot ending at block start should pass: %v", err)
	}
}

func TestCheckConflictsBufferedWindow(t *testing.T) {
	owner := testOwner()
	store := mondayStore()
	store.appointments = []model.Appointment{{
		ID:      "appt-1",
		OwnerID: "owner-1",
		StartAt: time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		EndAt:   time.Date(2026, 2, 2, 10, 30, 0, 0, time.UTC),
		Status:  model.StatusConfirmed,
	}}
	e := enforcerAt(store, time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))
	ctx := context.Background()

	// 10:35 start with a 10 minute buffer reaches back to 10:25 and collides.
	err := e.CheckConflicts(ctx, owner, time.Date(2026, 2, 2, 10, 35, 0, 0, time.UTC), 30, 10, "")
	expectRule(t, err, RuleConflict)

	// Same start with no buffer is clear.
	if err := e.CheckConflicts(ctx, owner, time.Date(2026, 2, 2, 10, 35, 0, 0, time.UTC), 30, 0, ""); err != nil {
		t.Fatalf("no-buffer candidate should pass: %v", err)
	}

	// Excluding the conflicting appointment (reschedule) is clear.
	if err := e.CheckConflicts(ctx, owner, time.Date(2026, 2, 2, 10, 35, 0, 0, time.UTC), 30, 10, "appt-1"); err != nil {
		t.Fatalf("excluded appointment should not conflict: %v", err)
	}
}

func TestCheckCancelWindow(t *testing.T) {
	owner := testOwner()
	now := time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC)
	e := enforcerAt(mondayStore(), now)

	appt := model.Appointment{StartAt: now.Add(25 * time.Hour)}
	if err := e.CheckCancelWindow(owner, appt); err != nil {
		t.Fatalf("25 hours out should pass a 24 hour window: %v", err)
	}
	appt.StartAt = now.Add(2 * time.Hour)
	expectRule(t, e.CheckCancelWindow(owner, appt), RuleCancelWindow)
}

func TestCheckQuietHours(t *testing.T) {
	owner := testOwner()
	e := enforcerAt(mondayStore(), time.Now())

	err := e.CheckQuietHours(owner, time.Date(2026, 2, 2, 23, 0, 0, 0, time.UTC))
	expectRule(t, err, RuleQuietHours)

	if err := e.CheckQuietHours(owner, time.Date(2026, 2, 2, 12, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("noon should be outside quiet hours: %v", err)
	}

	owner.QuietHoursStart = nil
	owner.QuietHoursEnd = nil
	if err := e.CheckQuietHours(owner, time.Date(2026, 2, 2, 23, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("unconfigured quiet hours should always pass: %v", err)
	}
}

func TestValidateShortCircuits(t *testing.T) {
	owner := testOwner()
	store := mondayStore()
	// Candidate violates both lead time and business hours; lead time wins.
	now := time.Date(2026, 2, 2, 7, 30, 0, 0, time.UTC)
	e := enforcerAt(store, now)

	err := e.Validate(context.Background(), owner, time.Date(2026, 2, 2, 8, 0, 0, 0, time.UTC), 30, 0, "")
	expectRule(t, err, RuleLeadTime)
}

func TestValidatePassesCleanCandidate(t *testing.T) {
	owner := testOwner()
	e := enforcerAt(mondayStore(), time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))

	if err := e.Validate(context.Background(), owner, time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC), 30, 10, ""); err != nil {
		t.Fatalf("clean candidate should validate: %v", err)
	}
}

func TestBadTimezoneIsInvalidInput(t *testing.T) {
	owner := testOwner()
	owner.Timezone = "Nowhere/Nowhere"
	e := enforcerAt(mondayStore(), time.Now())

	err := e.CheckBusinessHours(context.Background(), owner, time.Now(), 30)
	if !errors.Is(err, model.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}
