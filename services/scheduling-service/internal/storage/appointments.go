package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

const appointmentColumns = `id::text, owner_id::text, client_id::text, service_id::text,
	start_at, end_at, status, COALESCE(notes, ''), created_at`

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	err := row.Scan(&a.ID, &a.OwnerID, &a.ClientID, &a.ServiceID,
		&a.StartAt, &a.EndAt, &a.Status, &a.Notes, &a.CreatedAt)
	if err != nil {
		return model.Appointment{}, mapError(err)
	}
	return a, nil
}

func (r *Repository) AppointmentByID(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

// Conflicting returns non-cancelled appointments overlapping the half-open
// window, optionally excluding one appointment id (reschedule). Lock-free;
// the authoritative recheck happens in InsertIfFree/RescheduleIfFree.
func (r *Repository) Conflicting(ctx context.Context, ownerID string, windowStart, windowEnd time.Time, excludeID string) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE owner_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_at < $3
			AND end_at > $2
			AND ($4 = '' OR id::text <> $4)
		ORDER BY start_at ASC
	`, ownerID, windowStart, windowEnd, excludeID)
	if err != nil {
		return nil, mapError(err)
	}
	return collectAppointments(rows)
}

// InsertIfFree commits a validated appointment. The buffered window is
// re-read FOR UPDATE inside the transaction so a concurrently committed
// overlap turns into model.ErrConflict instead of a double booking; the
// exclusion constraint on appointments is the backstop.
func (r *Repository) InsertIfFree(ctx context.Context, appt model.Appointment, bufferMin int) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	buf := time.Duration(bufferMin) * time.Minute
	if err := lockConflicts(ctx, tx, appt.OwnerID, appt.StartAt.Add(-buf), appt.EndAt.Add(buf), ""); err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO appointments (id, owner_id, client_id, service_id, start_at, end_at, status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, appt.ID, appt.OwnerID, appt.ClientID, appt.ServiceID,
		appt.StartAt, appt.EndAt, appt.Status, appt.Notes, appt.CreatedAt)
	if err != nil {
		return mapError(err)
	}
	return tx.Commit(ctx)
}

// RescheduleIfFree rewrites start/end under the same locked recheck,
// excluding the appointment's own row. On any failure the row is untouched.
func (r *Repository) RescheduleIfFree(ctx context.Context, apptID string, newStart, newEnd time.Time, bufferMin int) (model.Appointment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.Appointment{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var ownerID string
	err = tx.QueryRow(ctx, `
		SELECT owner_id::text
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, apptID).Scan(&ownerID)
	if err != nil {
		return model.Appointment{}, mapError(err)
	}

	buf := time.Duration(bufferMin) * time.Minute
	if err := lockConflicts(ctx, tx, ownerID, newStart.Add(-buf), newEnd.Add(buf), apptID); err != nil {
		return model.Appointment{}, err
	}

	row := tx.QueryRow(ctx, `
		UPDATE appointments
		SET start_at = $2, end_at = $3
		WHERE id = $1 AND status IN ('pending', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, apptID, newStart, newEnd)
	appt, err := scanAppointment(row)
	if err != nil {
		return model.Appointment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.Appointment{}, mapError(err)
	}
	return appt, nil
}

// CancelAppointment flips status and appends the reason to notes. The row is
// never deleted.
func (r *Repository) CancelAppointment(ctx context.Context, apptID, reason string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = 'cancelled',
			notes = CASE WHEN $2 = '' THEN notes
				ELSE trim(both ' ' from COALESCE(notes, '') || ' cancelled: ' || $2) END
		WHERE id = $1
		RETURNING `+appointmentColumns+`
	`, apptID, reason)
	return scanAppointment(row)
}

// AppointmentsBetween returns pending/confirmed appointments starting in
// [from, to), ordered by start time.
func (r *Repository) AppointmentsBetween(ctx context.Context, ownerID string, from, to time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE owner_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_at >= $2
			AND start_at < $3
		ORDER BY start_at ASC
	`, ownerID, from, to)
	if err != nil {
		return nil, mapError(err)
	}
	return collectAppointments(rows)
}

// MoveCandidates returns active appointments for opted-in clients starting in
// [dayStart, dayEnd) strictly after afterStart.
func (r *Repository) MoveCandidates(ctx context.Context, ownerID string, dayStart, dayEnd, afterStart time.Time) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT a.id::text, a.owner_id::text, a.client_id::text, a.service_id::text,
			a.start_at, a.end_at, a.status, COALESCE(a.notes, ''), a.created_at
		FROM appointments a
		JOIN clients c ON c.id = a.client_id
		WHERE a.owner_id = $1
			AND a.status IN ('pending', 'confirmed')
			AND c.opt_in_move_earlier
			AND a.start_at >= $2
			AND a.start_at < $3
			AND a.start_at > $4
		ORDER BY a.start_at ASC
	`, ownerID, dayStart, dayEnd, afterStart)
	if err != nil {
		return nil, mapError(err)
	}
	return collectAppointments(rows)
}

// lockConflicts takes row locks on every active appointment overlapping the
// window and fails with model.ErrConflict if any exists. Two committers
// racing for the same window serialize on these locks; the loser sees the
// winner's row.
func lockConflicts(ctx context.Context, tx pgx.Tx, ownerID string, windowStart, windowEnd time.Time, excludeID string) error {
	rows, err := tx.Query(ctx, `
		SELECT id
		FROM appointments
		WHERE owner_id = $1
			AND status IN ('pending', 'confirmed')
			AND start_at < $3
			AND end_at > $2
			AND ($4 = '' OR id::text <> $4)
		FOR UPDATE
	`, ownerID, windowStart, windowEnd, excludeID)
	if err != nil {
		return mapError(err)
	}
	defer rows.Close()

	if rows.Next() {
		return model.ErrConflict
	}
	return rows.Err()
}

func collectAppointments(rows pgx.Rows) ([]model.Appointment, error) {
	defer rows.Close()
	var appts []model.Appointment
	for rows.Next() {
		var a model.Appointment
		if err := rows.Scan(&a.ID, &a.OwnerID, &a.ClientID, &a.ServiceID,
			&a.StartAt, &a.EndAt, &a.Status, &a.Notes, &a.CreatedAt); err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}
