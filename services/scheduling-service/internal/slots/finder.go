// Package slots enumerates bookable windows for a service over a date range
// and selects a bounded subset according to the owner's intent mode.
package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/policy"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/timeutil"
)

type Slot struct {
	Start      time.Time
	End        time.Time
	ServiceID  string
	PriceCents int
}

// AvailabilityStore is the read surface for day enumeration. The policy
// enforcer carries its own store.
type AvailabilityStore interface {
	AvailabilityFor(ctx context.Context, ownerID string, weekday time.Weekday) (model.Availability, bool, error)
}

type Finder struct {
	avail    AvailabilityStore
	enforcer *policy.Enforcer
}

func NewFinder(avail AvailabilityStore, enforcer *policy.Enforcer) *Finder {
	return &Finder{avail: avail, enforcer: enforcer}
}

// Find returns up to maxSlots bookable windows for the service between from
// and to (inclusive civil dates in the owner's timezone). Candidates that
// fail a policy check are silently dropped; that is filtering, not an error.
func (f *Finder) Find(ctx context.Context, owner model.Owner, svc model.Service, from, to model.Date, maxSlots int) ([]Slot, error) {
	if maxSlots <= 0 {
		return nil, fmt.Errorf("%w: maxSlots must be positive", model.ErrInvalidInput)
	}
	if svc.DurationMin <= 0 {
		return nil, fmt.Errorf("%w: service duration must be positive", model.ErrInvalidInput)
	}
	loc, err := timeutil.LoadLocation(owner.Timezone)
	if err != nil {
		return nil, err
	}

	var candidates []Slot
	for day := from; !day.After(to); day = day.Next() {
		daily, err := f.findDaily(ctx, owner, svc, day, loc)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, daily...)
		if len(candidates) >= maxSlots {
			candidates = candidates[:maxSlots]
			break
		}
	}

	return selectByMode(owner.DefaultIntent, candidates, svc, maxSlots, loc), nil
}

// findDaily walks the weekday's availability window in steps of
// duration+buffer so generated slots never overlap and always leave the
// buffer as dead time before the next slot.
func (f *Finder) findDaily(ctx context.Context, owner model.Owner, svc model.Service, day model.Date, loc *time.Location) ([]Slot, error) {
	weekday := timeutil.At(day, 0, loc).Weekday()
	avail, ok, err := f.avail.AvailabilityFor(ctx, owner.ID, weekday)
	if err != nil {
		return nil, err
	}
	if !ok || !avail.Active {
		return nil, nil
	}

	step := model.TimeOfDay(svc.SlotSpanMin())
	duration := model.TimeOfDay(svc.DurationMin)

	var out []Slot
	for at := avail.Start; at+duration <= avail.End; at += step {
		start := timeutil.At(day, at, loc)
		if err := f.enforcer.Validate(ctx, owner, start, svc.DurationMin, svc.BufferMin, ""); err != nil {
			if _, ok := policy.AsViolation(err); ok {
				continue
			}
			return nil, err
		}
		out = append(out, Slot{
			Start:      start,
			End:        start.Add(time.Duration(svc.DurationMin) * time.Minute),
			ServiceID:  svc.ID,
			PriceCents: svc.PriceCents,
		})
	}
	return out, nil
}
