// Package optimizer runs the gap-fill cascade: when an appointment is
// cancelled, try the waitlist first, then same-day earlier-move offers, with
// a single backfill pass when a move is accepted.
package optimizer

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/offers"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/scheduler"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/timeutil"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/waitlist"
)

type Store interface {
	OwnerByID(ctx context.Context, id string) (model.Owner, error)
	ServiceByID(ctx context.Context, id string) (model.Service, error)
	ClientByID(ctx context.Context, id string) (model.Client, error)

	WaitlistForService(ctx context.Context, ownerID, serviceID string) ([]model.WaitlistEntry, error)
	MarkNotified(ctx context.Context, entryID string, at time.Time) error
	DeleteEntry(ctx context.Context, ownerID, entryID string) error

	// MoveCandidates returns active appointments for opted-in clients whose
	// start falls in [dayStart, dayEnd) strictly after afterStart.
	MoveCandidates(ctx context.Context, ownerID string, dayStart, dayEnd, afterStart time.Time) ([]model.Appointment, error)
}

// Booker is the scheduler surface acceptance flows commit through.
type Booker interface {
	Book(ctx context.Context, req scheduler.BookRequest) (model.Appointment, error)
	Reschedule(ctx context.Context, apptID string, newStart time.Time) (model.Appointment, error)
}

// OfferStore keeps in-flight offers until acceptance, decline, or TTL expiry.
type OfferStore interface {
	PutWaitlistOffer(ctx context.Context, offer offers.WaitlistOffer) error
	TakeWaitlistOffer(ctx context.Context, entryID string) (offers.WaitlistOffer, error)
	PutMoveOffer(ctx context.Context, offer offers.MoveOffer) error
	TakeMoveOffer(ctx context.Context, apptID string) (offers.MoveOffer, error)
}

// Notifier hands offer commands to the external messaging collaborator.
// Fire-and-forget: the cascade does not wait for delivery.
type Notifier interface {
	WaitlistOffer(ctx context.Context, client model.Client, offer offers.WaitlistOffer) error
	MoveOffer(ctx context.Context, client model.Client, offer offers.MoveOffer) error
}

// Deferrer persists a cascade postponed by quiet hours for a worker to
// re-run at runAt.
type Deferrer interface {
	Defer(ctx context.Context, gap model.Gap, runAt time.Time) error
}

type Auditor interface {
	Record(ctx context.Context, ownerID string, actor model.Actor, action string, payload map[string]any) error
}

// Result reports what one cascade pass did.
type Result struct {
	Deferred         bool
	WaitlistNotified int
	MoveOffersSent   int
}

type Engine struct {
	store    Store
	booker   Booker
	offers   OfferStore
	notifier Notifier
	deferred Deferrer
	audit    Auditor
	log      *slog.Logger
	now      func() time.Time
}

func NewEngine(store Store, booker Booker, offerStore OfferStore, notifier Notifier, deferred Deferrer, audit Auditor, log *slog.Logger) *Engine {
	return &Engine{
		store:    store,
		booker:   booker,
		offers:   offerStore,
		notifier: notifier,
		deferred: deferred,
		audit:    audit,
		log:      log,
		now:      time.Now,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// FillGap runs one cascade pass for a vacated interval: quiet-hours guard,
// waitlist outreach, then earlier-move offers if no waitlist offer went out.
func (e *Engine) FillGap(ctx context.Context, gap model.Gap) (Result, error) {
	return e.pass(ctx, gap, false)
}

func (e *Engine) pass(ctx context.Context, gap model.Gap, backfill bool) (Result, error) {
	owner, err := e.store.OwnerByID(ctx, gap.OwnerID)
	if err != nil {
		return Result{}, err
	}
	loc, err := timeutil.LoadLocation(owner.Timezone)
	if err != nil {
		return Result{}, err
	}
	now := e.now()

	if timeutil.InQuietHours(now, owner.QuietHoursStart, owner.QuietHoursEnd, loc) {
		runAt := timeutil.NextQuietEnd(now, owner.QuietHoursStart, owner.QuietHoursEnd, loc)
		if err := e.deferred.Defer(ctx, gap, runAt); err != nil {
			return Result{}, err
		}
		e.recordAudit(ctx, owner.ID, "gap_fill_deferred", map[string]any{
			"gap_start": gap.Start,
			"gap_end":   gap.End,
			"run_at":    runAt,
		})
		return Result{Deferred: true}, nil
	}

	notified, err := e.waitlistOutreach(ctx, owner, gap, now)
	if err != nil {
		return Result{}, err
	}
	if notified > 0 {
		e.recordAudit(ctx, owner.ID, "gap_fill_waitlist_offers", map[string]any{
			"gap_start": gap.Start,
			"gap_end":   gap.End,
			"notified":  notified,
		})
		return Result{WaitlistNotified: notified}, nil
	}

	moved, err := e.moveOutreach(ctx, owner, gap, loc, now, backfill)
	if err != nil {
		return Result{}, err
	}
	e.recordAudit(ctx, owner.ID, "gap_fill_move_offers", map[string]any{
		"gap_start": gap.Start,
		"gap_end":   gap.End,
		"offered":   moved,
	})
	return Result{MoveOffersSent: moved}, nil
}

// waitlistOutreach offers the gap to matching entries in priority order,
// bounded by maxOutreachPerGap. Entries at the notify cap or inside the
// cooldown are skipped by the matcher.
func (e *Engine) waitlistOutreach(ctx context.Context, owner model.Owner, gap model.Gap, now time.Time) (int, error) {
	entries, err := e.store.WaitlistForService(ctx, owner.ID, gap.ServiceID)
	if err != nil {
		return 0, err
	}
	matched := waitlist.Match(entries, gap, now, owner.Settings.MaxOutreachPerGap)

	notified := 0
	for _, entry := range matched {
		client, err := e.store.ClientByID(ctx, entry.ClientID)
		if err != nil {
			e.log.Error("waitlist client lookup failed", "entry_id", entry.ID, "err", err)
			continue
		}
		offer := offers.WaitlistOffer{
			EntryID:   entry.ID,
			OwnerID:   owner.ID,
			ClientID:  client.ID,
			ServiceID: gap.ServiceID,
			SlotStart: gap.Start,
			SlotEnd:   gap.End,
			SentAt:    now,
		}
		if err := e.offers.PutWaitlistOffer(ctx, offer); err != nil {
			return notified, err
		}
		if err := e.notifier.WaitlistOffer(ctx, client, offer); err != nil {
			e.log.Error("waitlist offer send failed", "entry_id", entry.ID, "err", err)
		}
		if err := e.store.MarkNotified(ctx, entry.ID, now); err != nil {
			return notified, err
		}
		notified++
	}
	return notified, nil
}

// moveOutreach offers the gap to the earliest same-day appointments later
// than the gap whose clients opted in and whose service fits the vacated
// duration.
func (e *Engine) moveOutreach(ctx context.Context, owner model.Owner, gap model.Gap, loc *time.Location, now time.Time, backfill bool) (int, error) {
	dayStart, dayEnd := timeutil.DayBounds(timeutil.LocalDate(gap.Start, loc), loc)
	candidates, err := e.store.MoveCandidates(ctx, owner.ID, dayStart, dayEnd, gap.Start)
	if err != nil {
		return 0, err
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].StartAt.Before(candidates[j].StartAt) })

	services := map[string]model.Service{}
	offered := 0
	for _, appt := range candidates {
		if offered >= owner.Settings.MaxOutreachPerGap {
			break
		}
		svc, ok := services[appt.ServiceID]
		if !ok {
			svc, err = e.store.ServiceByID(ctx, appt.ServiceID)
			if err != nil {
				e.log.Error("move candidate service lookup failed", "appointment_id", appt.ID, "err", err)
				continue
			}
			services[appt.ServiceID] = svc
		}
		if svc.DurationMin > gap.DurationMin() {
			continue
		}
		client, err := e.store.ClientByID(ctx, appt.ClientID)
		if err != nil {
			e.log.Error("move candidate client lookup failed", "appointment_id", appt.ID, "err", err)
			continue
		}
		offer := offers.MoveOffer{
			AppointmentID: appt.ID,
			OwnerID:       owner.ID,
			ClientID:      client.ID,
			ServiceID:     appt.ServiceID,
			NewStart:      gap.Start,
			OrigStart:     appt.StartAt,
			OrigEnd:       appt.EndAt,
			Backfill:      backfill,
			SentAt:        now,
		}
		if err := e.offers.PutMoveOffer(ctx, offer); err != nil {
			return offered, err
		}
		if err := e.notifier.MoveOffer(ctx, client, offer); err != nil {
			e.log.Error("move offer send failed", "appointment_id", appt.ID, "err", err)
		}
		offered++
	}
	return offered, nil
}

func (e *Engine) recordAudit(ctx context.Context, ownerID, action string, payload map[string]any) {
	if err := e.audit.Record(ctx, ownerID, model.ActorSystem, action, payload); err != nil {
		e.log.Error("audit record failed", "owner_id", ownerID, "action", action, "err", err)
	}
}
