package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayo6706/author-payouts/internal/observability"
	"github.com/ayo6706/author-payouts/internal/queue"
	"github.com/ayo6706/author-payouts/internal/service"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Consumer is the receiving side of the batch queue.
type Consumer interface {
	Dequeue(ctx context.Context, wait time.Duration) (uuid.UUID, error)
	Ack(ctx context.Context, batchID uuid.UUID) error
}

// BatchRunner reconciles one batch.
type BatchRunner interface {
	Run(ctx context.Context, batchID uuid.UUID) (*service.RunOutcome, error)
}

// PayoutWorker runs a pool of consumers that take batch ids off the queue and
// reconcile them. Messages are acked after the run whatever its result: a batch
// that still needs work is found again by the sweeper.
type PayoutWorker struct {
	queue    Consumer
	job      BatchRunner
	workers  int
	pollWait time.Duration
	backoff  time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewPayoutWorker creates a worker with 4 consumers.
func NewPayoutWorker(q Consumer, job BatchRunner) *PayoutWorker {
	return &PayoutWorker{
		queue:    q,
		job:      job,
		workers:  4,
		pollWait: 5 * time.Second,
		backoff:  time.Second,
		stopCh:   make(chan struct{}),
	}
}

// WithWorkers sets the number of concurrent consumers.
func (w *PayoutWorker) WithWorkers(n int) *PayoutWorker {
	if n > 0 {
		w.workers = n
	}
	return w
}

// WithPollWait sets how long a consumer blocks on an empty queue before
// checking for shutdown.
func (w *PayoutWorker) WithPollWait(wait time.Duration) *PayoutWorker {
	if wait > 0 {
		w.pollWait = wait
	}
	return w
}

// Start launches the consumers and blocks until they have all exited.
func (w *PayoutWorker) Start(ctx context.Context) {
	zap.L().Info("payout worker starting", zap.Int("workers", w.workers), zap.Duration("poll_wait", w.pollWait))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func(id int) {
			defer w.wg.Done()
			w.consume(ctx, id)
		}(i)
	}
	w.wg.Wait()
	zap.L().Info("payout worker stopped")
}

// Stop signals every consumer to finish its current batch and exit.
func (w *PayoutWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
}

// Run starts the worker in a goroutine and returns a function that stops it and
// waits for in-flight runs to finish.
func (w *PayoutWorker) Run(ctx context.Context) func() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Start(ctx)
	}()
	return func() {
		w.Stop()
		<-done
	}
}

func (w *PayoutWorker) consume(ctx context.Context, id int) {
	logger := zap.L().With(zap.Int("consumer", id))
	for {
		if ctx.Err() != nil {
			return
		}
		err := w.ProcessOnce(ctx)
		switch {
		case err == nil, errors.Is(err, queue.ErrEmpty):
		case ctx.Err() != nil:
			return
		default:
			logger.Error("payout consumer error", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.backoff):
			}
		}
	}
}

// ProcessOnce takes one batch id off the queue and reconciles it.
// It returns queue.ErrEmpty when nothing arrived within the poll wait.
func (w *PayoutWorker) ProcessOnce(ctx context.Context) error {
	batchID, err := w.queue.Dequeue(ctx, w.pollWait)
	if err != nil {
		return err
	}

	// A run that has started is allowed to finish during shutdown.
	runCtx := context.WithoutCancel(ctx)
	out, runErr := w.job.Run(runCtx, batchID)
	if runErr != nil {
		observability.IncrementWorkerRun("payout", "failed")
		zap.L().Error("reconciliation run failed", zap.String("batch_id", batchID.String()), zap.Error(runErr))
	} else {
		observability.IncrementWorkerRun("payout", "success")
		zap.L().Debug("reconciliation run done",
			zap.String("batch_id", batchID.String()),
			zap.String("outcome", string(out.Outcome)))
	}

	if err := w.queue.Ack(runCtx, batchID); err != nil {
		return fmt.Errorf("ack: %w", err)
	}
	return runErr
}

// String returns a string representation of the worker.
func (w *PayoutWorker) String() string {
	return fmt.Sprintf("PayoutWorker(workers=%d, poll_wait=%v)", w.workers, w.pollWait)
}
