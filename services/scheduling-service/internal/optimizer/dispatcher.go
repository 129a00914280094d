package optimizer

import (
	"context"
	"log/slog"
	"time"

	"github.com/slotwise/slotwise/services/scheduling-service/internal/model"
)

const cascadeTimeout = 30 * time.Second

// Dispatcher runs the cascade in the background: cancellation returns before
// the cascade completes, and cascade failures are logged, never propagated
// back to the canceller.
type Dispatcher struct {
	engine *Engine
	log    *slog.Logger
}

func NewDispatcher(engine *Engine, log *slog.Logger) *Dispatcher {
	return &Dispatcher{engine: engine, log: log}
}

func (d *Dispatcher) FillGapAsync(gap model.Gap) {
	go func() {
		// Detached from the request context: the caller's request finishes
		// before the cascade does.
		ctx, cancel := context.WithTimeout(context.Background(), cascadeTimeout)
		defer cancel()

		res, err := d.engine.FillGap(ctx, gap)
		if err != nil {
			d.log.Error("gap-fill cascade failed",
				"owner_id", gap.OwnerID, "gap_start", gap.Start, "err", err)
			return
		}
		d.log.Info("gap-fill cascade finished",
			"owner_id", gap.OwnerID,
			"gap_start", gap.Start,
			"deferred", res.Deferred,
			"waitlist_notified", res.WaitlistNotified,
			"move_offers", res.MoveOffersSent)
	}()
}
