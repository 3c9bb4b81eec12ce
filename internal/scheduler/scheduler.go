// Package scheduler drives the periodic background work: campaign ticks
// and the idempotency-record sweep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	campaigndomain "github.com/apexhq/apex/internal/campaign/domain"
	"github.com/apexhq/apex/internal/clock"
	idempotencydomain "github.com/apexhq/apex/internal/idempotency/domain"
	obsmetrics "github.com/apexhq/apex/internal/observability/metrics"
	"github.com/apexhq/apex/internal/ratelimit"
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var ErrInvalidConfig = errors.New("scheduler: invalid configuration")

type Params struct {
	fx.In

	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Executor campaigndomain.Executor
	Store    idempotencydomain.Store
	Config   Config                  `optional:"true"`
	Locker   *ratelimit.Locker       `optional:"true"`
}

type Scheduler struct {
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	executor campaigndomain.Executor
	store    idempotencydomain.Store
	locker   *ratelimit.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.Executor == nil || p.Store == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		executor: p.Executor,
		store:    p.Store,
		locker:   p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name)
	if owner {
		s.logJobStart(run)
	}
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft timeout: the next tick resumes where the
	// batch loop stopped.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	release, acquired, err := s.acquireTickLock(parent)
	if err != nil {
		s.log.Warn("tick lock unavailable, running unlocked", zap.Error(err))
	} else if !acquired {
		s.log.Debug("tick lock held elsewhere, skipping")
		return nil
	}
	if release != nil {
		defer release()
	}

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"process_campaigns", func(ctx context.Context) error {
			return s.runJob(ctx, "process_campaigns", s.cfg.JobTimeout, s.ProcessCampaignsJob)
		}},
		{"idempotency_cleanup", func(ctx context.Context) error {
			return s.runJob(ctx, "idempotency_cleanup", s.cfg.JobTimeout, s.IdempotencyCleanupJob)
		}},
	}

	var runErr error
	for _, job := range jobs {
		if s.isJobEnabled(job.Name) {
			runErr = errors.Join(runErr, job.Run(parent))
		}
	}
	return runErr
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) ProcessCampaignsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "process_campaigns")
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	if err := s.executor.ProcessCampaigns(ctx); err != nil {
		run.IncError()
		return err
	}
	run.AddProcessed(1)
	return nil
}

func (s *Scheduler) IdempotencyCleanupJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "idempotency_cleanup")
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	removed, err := s.store.Cleanup(ctx)
	if err != nil {
		run.IncError()
		return err
	}
	run.AddProcessed(int(removed))
	return nil
}

// acquireTickLock takes the cross-instance tick lock when configured.
// Without a locker or key every tick runs, overlap included.
func (s *Scheduler) acquireTickLock(ctx context.Context) (func(), bool, error) {
	if s.locker == nil || s.cfg.TickLockKey == "" {
		return nil, true, nil
	}
	token, ok, err := s.locker.TryLock(ctx, s.cfg.TickLockKey, s.cfg.TickLockTTL)
	if err != nil {
		return nil, true, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		if err := s.locker.Release(context.Background(), s.cfg.TickLockKey, token); err != nil {
			s.log.Warn("tick lock release failed", zap.Error(err))
		}
	}
	return release, true, nil
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	// Empty EnabledJobs enables everything (monolith mode).
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}
