package storage

import (
	"context"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

// OwnerByID loads the owner with settings folded in; owners without a
// settings row get the defaults.
func (r *Repository) OwnerByID(ctx context.Context, id string) (model.Owner, error) {
	var (
		o                     model.Owner
		quietStart, quietEnd  *int32
		lead, cancelW, maxOut *int32
		offsets               []int32
	)
	err := r.pool.QueryRow(ctx, `
		SELECT o.id::text, o.phone, o.name, o.timezone, o.default_intent,
			o.quiet_hours_start_min, o.quiet_hours_end_min, o.created_at,
			s.lead_time_min, s.cancel_window_hr, s.reminder_offsets_min, s.max_outreach_per_gap
		FROM owners o
		LEFT JOIN owner_settings s ON s.owner_id = o.id
		WHERE o.id = $1
	`, id).Scan(
		&o.ID, &o.Phone, &o.Name, &o.Timezone, &o.DefaultIntent,
		&quietStart, &quietEnd, &o.CreatedAt,
		&lead, &cancelW, &offsets, &maxOut,
	)
	if err != nil {
		return model.Owner{}, mapError(err)
	}

	if quietStart != nil {
		t := model.TimeOfDay(*quietStart)
		o.QuietHoursStart = &t
	}
	if quietEnd != nil {
		t := model.TimeOfDay(*quietEnd)
		o.QuietHoursEnd = &t
	}

	o.Settings = model.DefaultSettings()
	if lead != nil {
		o.Settings.LeadTimeMin = int(*lead)
	}
	if cancelW != nil {
		o.Settings.CancelWindowHr = int(*cancelW)
	}
	if maxOut != nil {
		o.Settings.MaxOutreachPerGap = int(*maxOut)
	}
	if len(offsets) > 0 {
		o.Settings.ReminderOffsetsMin = make([]int, len(offsets))
		for i, m := range offsets {
			o.Settings.ReminderOffsetsMin[i] = int(m)
		}
	}
	return o, nil
}

func (r *Repository) ServiceByID(ctx context.Context, id string) (model.Service, error) {
	var s model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, owner_id::text, name, duration_min, buffer_min, price_cents, active
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.OwnerID, &s.Name, &s.DurationMin, &s.BufferMin, &s.PriceCents, &s.Active)
	if err != nil {
		return model.Service{}, mapError(err)
	}
	return s, nil
}

func (r *Repository) ClientByID(ctx context.Context, id string) (model.Client, error) {
	var c model.Client
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, owner_id::text, phone, name, opt_in_move_earlier, created_at
		FROM clients
		WHERE id = $1
	`, id).Scan(&c.ID, &c.OwnerID, &c.Phone, &c.Name, &c.OptInMoveEarlier, &c.CreatedAt)
	if err != nil {
		return model.Client{}, mapError(err)
	}
	return c, nil
}

// AvailabilityFor returns the owner's window for a weekday. The second return
// reports whether an active row exists; a day without one has zero
// availability, which is not an error.
func (r *Repository) AvailabilityFor(ctx context.Context, ownerID string, weekday time.Weekday) (model.Availability, bool, error) {
	var (
		a          model.Availability
		wd         int32
		start, end int32
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, owner_id::text, weekday, start_min, end_min, active
		FROM availability
		WHERE owner_id = $1 AND weekday = $2 AND active
	`, ownerID, int(weekday)).Scan(&a.ID, &a.OwnerID, &wd, &start, &end, &a.Active)
	if err != nil {
		if mapError(err) == model.ErrNotFound {
			return model.Availability{}, false, nil
		}
		return model.Availability{}, false, mapError(err)
	}
	a.Weekday = time.Weekday(wd)
	a.Start = model.TimeOfDay(start)
	a.End = model.TimeOfDay(end)
	return a, true, nil
}

func (r *Repository) BlocksOn(ctx context.Context, ownerID string, day model.Date) ([]model.Block, error) {
	onDate := time.Date(day.Year, day.Month, day.Day, 0, 0, 0, 0, time.UTC)
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, owner_id::text, on_date, start_min, end_min, COALESCE(reason, '')
		FROM blocks
		WHERE owner_id = $1 AND on_date = $2
		ORDER BY start_min ASC
	`, ownerID, onDate)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var blocks []model.Block
	for rows.Next() {
		var (
			b          model.Block
			d          time.Time
			start, end int32
		)
		if err := rows.Scan(&b.ID, &b.OwnerID, &d, &start, &end, &b.Reason); err != nil {
			return nil, err
		}
		b.Date = model.DateOf(d)
		b.Start = model.TimeOfDay(start)
		b.End = model.TimeOfDay(end)
		blocks = append(blocks, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return blocks, nil
}
