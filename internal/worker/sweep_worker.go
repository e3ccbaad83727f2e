package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/ayo6706/author-payouts/internal/observability"
	"github.com/ayo6706/author-payouts/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchLister finds paid batches with payout work left.
type BatchLister interface {
	ListBatchesNeedingPayout(ctx context.Context, staleBefore time.Time, limit int32) ([]uuid.UUID, error)
}

// DepthReporter is implemented by queues that can report their backlog.
type DepthReporter interface {
	Depth(ctx context.Context) (int64, error)
}

// SweepWorker re-enqueues batches whose payout never finished: pending items
// that missed the queue, retryable failures and claims older than claimTTL.
type SweepWorker struct {
	batches  BatchLister
	enqueuer service.Enqueuer
	claimTTL time.Duration
	limit    int32
	now      func() time.Time
}

func NewSweepWorker(batches BatchLister, enqueuer service.Enqueuer, claimTTL time.Duration) *SweepWorker {
	return &SweepWorker{
		batches:  batches,
		enqueuer: enqueuer,
		claimTTL: claimTTL,
		limit:    500,
		now:      time.Now,
	}
}

// WithLimit caps the number of batches enqueued per sweep.
func (w *SweepWorker) WithLimit(limit int32) *SweepWorker {
	if limit > 0 {
		w.limit = limit
	}
	return w
}

// Sweep enqueues every batch needing payout and returns how many were enqueued.
func (w *SweepWorker) Sweep(ctx context.Context) (int, error) {
	ids, err := w.batches.ListBatchesNeedingPayout(ctx, w.now().Add(-w.claimTTL), w.limit)
	if err != nil {
		observability.IncrementWorkerRun("sweep", "failed")
		return 0, fmt.Errorf("list batches: %w", err)
	}

	enqueued := 0
	for _, id := range ids {
		if err := w.enqueuer.Enqueue(ctx, id); err != nil {
			observability.IncrementWorkerRun("sweep", "failed")
			return enqueued, err
		}
		enqueued++
	}
	if d, ok := w.enqueuer.(DepthReporter); ok {
		if depth, err := d.Depth(ctx); err == nil {
			observability.SetQueueDepth(depth)
		}
	}

	observability.IncrementWorkerRun("sweep", "success")
	if enqueued > 0 {
		zap.L().Info("sweeper enqueued batches", zap.Int("count", enqueued))
	}
	return enqueued, nil
}

// RunOnce adapts Sweep to the scheduler.
func (w *SweepWorker) RunOnce(ctx context.Context) error {
	_, err := w.Sweep(ctx)
	return err
}
