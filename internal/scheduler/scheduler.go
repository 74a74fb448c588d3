package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/robfig/cron/v3"
	"github.com/smallbiznis/paysync/internal/clock"
	obsmetrics "github.com/smallbiznis/paysync/internal/observability/metrics"
	"github.com/smallbiznis/paysync/internal/ratelimit"
	reconciledomain "github.com/smallbiznis/paysync/internal/reconcile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobReprocessLedger = "reprocess_ledger"

	jobLockKey  = "paysync:lock:job:%s"
	jobLockWait = 100 * time.Millisecond
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

// Reprocessor replays unprocessed ledger rows.
type Reprocessor interface {
	Reprocess(ctx context.Context, limit int) (reconciledomain.ReprocessResult, error)
}

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Reprocessor Reprocessor
	Locker      ratelimit.Locker
	Config      Config `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	reprocessor Reprocessor
	locker      ratelimit.Locker
	metrics     *obsmetrics.JobMetrics

	mu   sync.Mutex
	cron *cron.Cron
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Reprocessor == nil || p.Locker == nil {
		return nil, ErrInvalidConfig
	}
	cfg := p.Config.withDefaults()
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("%w: schedule %q: %v", ErrInvalidConfig, cfg.Schedule, err)
	}
	return &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         cfg,
		genID:       p.GenID,
		clock:       p.Clock,
		reprocessor: p.Reprocessor,
		locker:      p.Locker,
		metrics:     obsmetrics.Jobs(),
	}, nil
}

// runJob wraps fn with a deadline, metrics and start/finish logs. A deadline
// is a soft timeout: it is counted and logged but not returned.
func (s *Scheduler) runJob(parent context.Context, name string, timeout time.Duration, fn func(ctx context.Context, run *jobRun) error) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	run := s.newJobRun(name)
	log := s.log.With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	s.logJobStart(log, run)
	s.metrics.IncJobRun(name)

	err := fn(ctx, run)
	s.metrics.ObserveJobDuration(name, s.clock.Now().Sub(start))
	if err != nil {
		run.IncError()
	}
	s.logJobFinish(log, run)
	if err == nil {
		return nil
	}

	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		s.metrics.IncJobTimeout(name)
	}
	s.metrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

// RunOnce runs every job a single time.
func (s *Scheduler) RunOnce(parent context.Context) error {
	return s.runJob(parent, JobReprocessLedger, s.cfg.Timeout, s.ReprocessLedgerJob)
}

// ReprocessLedgerJob replays one batch of unprocessed ledger rows. Only one
// instance sweeps at a time; the others skip the tick.
func (s *Scheduler) ReprocessLedgerJob(ctx context.Context, run *jobRun) error {
	lockCtx, cancel := context.WithTimeout(ctx, jobLockWait)
	release, err := s.locker.Acquire(lockCtx, fmt.Sprintf(jobLockKey, JobReprocessLedger), s.cfg.LockTTL)
	cancel()
	if err != nil {
		if errors.Is(err, ratelimit.ErrLockTimeout) {
			run.skipped = true
			return nil
		}
		return err
	}
	defer release()

	res, err := s.reprocessor.Reprocess(ctx, s.cfg.BatchSize)
	run.AddProcessed(res.Processed)
	run.AddFailed(res.Failed)
	s.metrics.AddItems(JobReprocessLedger, "processed", res.Processed)
	s.metrics.AddItems(JobReprocessLedger, "failed", res.Failed)
	return err
}

// Start registers the jobs with cron and starts it. It is a no-op when the
// sweep is disabled.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		s.log.Info("reprocess sweep disabled")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	logger := cronLogger{log: s.log}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(
			cron.Recover(logger),
			cron.SkipIfStillRunning(logger),
		),
	)
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("register %s: %w", JobReprocessLedger, err)
	}
	c.Start()
	s.cron = c
	s.log.Info("scheduler started", zap.String("schedule", s.cfg.Schedule))
	return nil
}

// Stop stops cron and waits for a running job until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
