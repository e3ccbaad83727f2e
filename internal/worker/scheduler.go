package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs periodic jobs on cron expressions. Overlapping runs of the
// same job are skipped and panics are recovered.
type Scheduler struct {
	cron *cron.Cron
}

func NewScheduler() *Scheduler {
	logger := cronLogger{zap.S().Named("cron")}
	return &Scheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		)),
	}
}

// Add registers fn under spec. An empty spec disables the job.
func (s *Scheduler) Add(ctx context.Context, name, spec string, timeout time.Duration, fn func(ctx context.Context) error) error {
	if spec == "" {
		zap.L().Info("scheduled job disabled", zap.String("job", name))
		return nil
	}
	_, err := s.cron.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		if err := fn(runCtx); err != nil {
			zap.L().Error("scheduled job failed", zap.String("job", name), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}
	zap.L().Info("scheduled job registered", zap.String("job", name), zap.String("spec", spec))
	return nil
}

// Run starts the scheduler and returns a function that stops it and waits for
// running jobs.
func (s *Scheduler) Run() func() {
	s.cron.Start()
	return func() {
		<-s.cron.Stop().Done()
	}
}

type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
