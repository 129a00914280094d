// Package audit appends scheduling and optimization decisions to the audit
// trail. Write-only from the engine's point of view; external reporting reads
// the table and the audit.trail.v1 stream.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/slotwise/slotwise/libs/db"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
	"github.com/slotwise/slotwise/services/scheduling-service/internal/outbox"
)

const auditTopic = "audit.trail.v1"

type Recorder struct {
	pool   *db.Pool
	outbox *outbox.Repository
}

// NewRecorder mirrors every audit row to the audit.trail.v1 topic when an
// outbox repository is supplied; with nil it writes the table only.
func NewRecorder(pool *db.Pool, outboxRepo *outbox.Repository) *Recorder {
	return &Recorder{pool: pool, outbox: outboxRepo}
}

func (r *Recorder) Record(ctx context.Context, ownerID string, actor model.Actor, action string, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	if r.outbox == nil {
		_, err = r.pool.Exec(ctx, `
			INSERT INTO audit_log (owner_id, actor, action, payload)
			VALUES ($1, $2, $3, $4)
		`, ownerID, actor, action, raw)
		return err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_log (owner_id, actor, action, payload)
		VALUES ($1, $2, $3, $4)
	`, ownerID, actor, action, raw)
	if err != nil {
		return err
	}

	event, err := json.Marshal(map[string]any{
		"owner_id":   ownerID,
		"actor":      string(actor),
		"action":     action,
		"payload":    payload,
		"created_at": time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	if err := r.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "audit_entry",
		AggregateID:   ownerID,
		EventType:     auditTopic,
		Payload:       event,
	}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
