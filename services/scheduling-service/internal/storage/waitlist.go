package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

const waitlistColumns = `id::text, owner_id::text, client_id::text, service_id::text,
	window_start, window_end, priority, notify_count, last_notified_at, created_at`

func scanWaitlistEntry(row pgx.Row) (model.WaitlistEntry, error) {
	var e model.WaitlistEntry
	err := row.Scan(&e.ID, &e.OwnerID, &e.ClientID, &e.ServiceID,
		&e.WindowStart, &e.WindowEnd, &e.Priority, &e.NotifyCount, &e.LastNotifiedAt, &e.CreatedAt)
	if err != nil {
		return model.WaitlistEntry{}, mapError(err)
	}
	return e, nil
}

// FindEntry returns the client's active entry for a service; a client holds
// at most one per owner/service pair.
func (r *Repository) FindEntry(ctx context.Context, ownerID, clientID, serviceID string) (model.WaitlistEntry, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE owner_id = $1 AND client_id = $2 AND service_id = $3
	`, ownerID, clientID, serviceID)
	return scanWaitlistEntry(row)
}

func (r *Repository) InsertEntry(ctx context.Context, e model.WaitlistEntry) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO waitlist_entries
			(id, owner_id, client_id, service_id, window_start, window_end, priority, notify_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8)
	`, e.ID, e.OwnerID, e.ClientID, e.ServiceID, e.WindowStart, e.WindowEnd, e.Priority, e.CreatedAt)
	return mapError(err)
}

func (r *Repository) UpdateEntry(ctx context.Context, e model.WaitlistEntry) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries
		SET window_start = $2, window_end = $3, priority = $4
		WHERE id = $1
	`, e.ID, e.WindowStart, e.WindowEnd, e.Priority)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteEntry(ctx context.Context, ownerID, entryID string) error {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM waitlist_entries
		WHERE id = $1 AND owner_id = $2
	`, entryID, ownerID)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *Repository) EntriesForOwner(ctx context.Context, ownerID string) ([]model.WaitlistEntry, error) {
	return r.listEntries(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE owner_id = $1
		ORDER BY priority DESC, created_at ASC
	`, ownerID)
}

func (r *Repository) WaitlistForService(ctx context.Context, ownerID, serviceID string) ([]model.WaitlistEntry, error) {
	return r.listEntries(ctx, `
		SELECT `+waitlistColumns+`
		FROM waitlist_entries
		WHERE owner_id = $1 AND service_id = $2
		ORDER BY priority DESC, created_at ASC
	`, ownerID, serviceID)
}

func (r *Repository) MarkNotified(ctx context.Context, entryID string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE waitlist_entries
		SET notify_count = notify_count + 1, last_notified_at = $2
		WHERE id = $1
	`, entryID, at)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *Repository) listEntries(ctx context.Context, query string, args ...any) ([]model.WaitlistEntry, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var entries []model.WaitlistEntry
	for rows.Next() {
		var e model.WaitlistEntry
		if err := rows.Scan(&e.ID, &e.OwnerID, &e.ClientID, &e.ServiceID,
			&e.WindowStart, &e.WindowEnd, &e.Priority, &e.NotifyCount, &e.LastNotifiedAt, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}
