package jobs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Task is one run of periodic maintenance work.
type Task func(ctx context.Context, now time.Time) error

// Scheduler runs tasks on fixed intervals until stopped. Runs of the same task
// never overlap; a tick that arrives while the previous run is busy is skipped.
// Intervals are rounded up to whole seconds.
type Scheduler struct {
	logger *zap.Logger
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
}

func NewScheduler(ctx context.Context, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(ctx)
	cl := cronLogger{logger: logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	c.Start()
	return &Scheduler{logger: logger, cron: c, ctx: ctx, cancel: cancel}
}

// Every registers task under name. A non-positive interval disables it.
func (s *Scheduler) Every(name string, interval time.Duration, task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || interval <= 0 || task == nil {
		return
	}
	logger := s.logger.With(zap.String("task", name))
	ctx := s.ctx
	s.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if ctx.Err() != nil {
			return
		}
		if err := task(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("scheduled task failed", zap.Error(err))
		}
	}))
}

// Stop cancels every task and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cancel()
	<-s.cron.Stop().Done()
}

// cronLogger keeps the scheduler's routine wake-ups at debug level.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
