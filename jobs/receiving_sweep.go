package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// POSource lists purchase orders that may be ready to close.
type POSource interface {
	ListOrderedPOIDs(ctx context.Context) ([]int64, error)
}

// ReceivingSweeper closes a PO when ledger totals already cover it.
type ReceivingSweeper interface {
	CloseIfComplete(ctx context.Context, poID int64) (bool, error)
}

// ReceivingSweepJob walks ordered POs and closes the ones whose receipt
// ledger already covers every line. It backstops receive batches that were
// interrupted between ledger write and closure.
type ReceivingSweepJob struct {
	Source  POSource
	Sweeper ReceivingSweeper
	Logger  *slog.Logger
}

// NewReceivingSweepJob initialises the sweep handler.
func NewReceivingSweepJob(source POSource, sweeper ReceivingSweeper, logger *slog.Logger) *ReceivingSweepJob {
	return &ReceivingSweepJob{Source: source, Sweeper: sweeper, Logger: logger}
}

// Handle executes the sweep.
func (j *ReceivingSweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Source == nil || j.Sweeper == nil {
		return errors.New("receiving sweep: handler not configured")
	}
	var payload ReceivingSweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	start := time.Now()
	ids, err := j.Source.ListOrderedPOIDs(ctx)
	if err != nil {
		j.Logger.Error("sweep list POs", slog.Any("error", err))
		return err
	}
	if payload.MaxPOs > 0 && len(ids) > payload.MaxPOs {
		ids = ids[:payload.MaxPOs]
	}

	closed := 0
	for _, id := range ids {
		ok, err := j.Sweeper.CloseIfComplete(ctx, id)
		if err != nil {
			j.Logger.Warn("sweep close check failed", slog.Int64("po_id", id), slog.Any("error", err))
			continue
		}
		if ok {
			closed++
		}
	}
	j.Logger.Info("receiving sweep completed",
		slog.Int("inspected", len(ids)),
		slog.Int("closed", closed),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}
