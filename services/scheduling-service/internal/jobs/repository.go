// Package jobs persists gap-fill cascades deferred by quiet hours and re-runs
// them once the quiet window ends.
package jobs

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/slotwise/slotwise/libs/db"
	otelx "github.com/slotwise/slotwise/libs/otel"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

type Job struct {
	ID          int64
	OwnerID     string
	ServiceID   string
	GapStart    time.Time
	GapEnd      time.Time
	RunAt       time.Time
	Attempts    int
	MaxAttempts int
	Traceparent string
	Tracestate  string
}

func (j Job) Gap() model.Gap {
	return model.Gap{OwnerID: j.OwnerID, ServiceID: j.ServiceID, Start: j.GapStart, End: j.GapEnd}
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Defer stores a quiet-hours postponed cascade to run at runAt. Satisfies the
// optimizer's Deferrer.
func (r *Repository) Defer(ctx context.Context, gap model.Gap, runAt time.Time) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := r.pool.Exec(ctx, `
		INSERT INTO gap_fill_jobs (owner_id, service_id, gap_start, gap_end, run_at, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, gap.OwnerID, gap.ServiceID, gap.Start, gap.End, runAt, traceparent, tracestate)
	return err
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, owner_id::text, service_id::text, gap_start, gap_end, run_at, attempts, max_attempts, traceparent, tracestate
		FROM gap_fill_jobs
		WHERE status = 'pending' AND run_at <= now()
		ORDER BY run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		if err := rows.Scan(&j.ID, &j.OwnerID, &j.ServiceID, &j.GapStart, &j.GapEnd, &j.RunAt,
			&j.Attempts, &j.MaxAttempts, &j.Traceparent, &j.Tracestate); err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkProcessed(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE gap_fill_jobs
		SET status = 'processed', updated_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE gap_fill_jobs
		SET attempts = $2,
		    status = $3,
		    run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}
