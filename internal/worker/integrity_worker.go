package worker

import (
	"context"

	"github.com/ayo6706/author-payouts/internal/observability"
	"github.com/ayo6706/author-payouts/internal/service"
	"go.uber.org/zap"
)

// IntegrityChecker verifies the payout ledger.
type IntegrityChecker interface {
	Run(ctx context.Context) (service.IntegrityReport, error)
}

// IntegrityWorker runs the ledger integrity check on a schedule.
type IntegrityWorker struct {
	svc IntegrityChecker
}

func NewIntegrityWorker(svc IntegrityChecker) *IntegrityWorker {
	return &IntegrityWorker{svc: svc}
}

// RunOnce runs one check. Violations are reported by the checker itself and do
// not count as a failed run.
func (w *IntegrityWorker) RunOnce(ctx context.Context) error {
	report, err := w.svc.Run(ctx)
	if err != nil {
		observability.IncrementWorkerRun("integrity", "failed")
		return err
	}
	observability.IncrementWorkerRun("integrity", "success")
	if !report.Clean() {
		zap.L().Warn("integrity check found violations",
			zap.Int("split_mismatches", report.SplitMismatches),
			zap.Int("fee_mismatches", report.FeeMismatches))
	}
	return nil
}
