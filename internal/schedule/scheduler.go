// Package schedule runs harvest passes on cron expressions.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
	"github.com/JakeFAU/aggtube-harvester/internal/pipeline"
)

// Runner executes one harvest pass; see pipeline.Pipeline.
type Runner interface {
	Run(ctx context.Context, mode harvest.Mode, opts pipeline.Options) (pipeline.Summary, error)
}

// Job is one recurring pass.
type Job struct {
	Name       string
	Cron       string
	Mode       harvest.Mode
	Categories []string
}

// Scheduler wraps a gocron scheduler. A job never overlaps with its own previous run.
type Scheduler struct {
	cron   *gocron.Scheduler
	runner Runner
	logger *zap.Logger

	mu  sync.RWMutex
	ctx context.Context
}

// New builds a Scheduler evaluating cron expressions in loc.
func New(loc *time.Location, runner Runner, logger *zap.Logger) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := gocron.NewScheduler(loc)
	s.TagsUnique()
	s.SingletonModeAll()
	return &Scheduler{cron: s, runner: runner, logger: logger, ctx: context.Background()}
}

// Add registers job. Names must be unique.
func (s *Scheduler) Add(job Job) error {
	if strings.TrimSpace(job.Name) == "" {
		return errors.New("schedule job name is required")
	}
	if _, err := s.cron.Cron(job.Cron).Tag(job.Name).Do(func() { s.execute(job) }); err != nil {
		return fmt.Errorf("schedule job %s: %w", job.Name, err)
	}
	s.logger.Info("job scheduled",
		zap.String("job", job.Name),
		zap.String("cron", job.Cron),
		zap.String("mode", string(job.Mode)),
	)
	return nil
}

// Start begins firing jobs. Runs inherit ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.StartAsync()
}

// RunNow fires the named job immediately. The scheduler must be started.
func (s *Scheduler) RunNow(name string) error {
	if err := s.cron.RunByTag(name); err != nil {
		return fmt.Errorf("run job %s: %w", name, err)
	}
	return nil
}

// Len reports how many jobs are registered.
func (s *Scheduler) Len() int {
	return s.cron.Len()
}

// Stop halts the scheduler and waits for running jobs to return.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}

func (s *Scheduler) execute(job Job) {
	s.mu.RLock()
	ctx := s.ctx
	s.mu.RUnlock()
	if ctx.Err() != nil {
		return
	}

	opts := pipeline.DefaultOptions()
	opts.Categories = job.Categories
	logger := s.logger.With(zap.String("job", job.Name))

	summary, err := s.runner.Run(ctx, job.Mode, opts)
	if err != nil {
		logger.Error("scheduled run failed", zap.String("run_id", summary.RunID), zap.Error(err))
		return
	}
	logger.Info("scheduled run complete",
		zap.String("run_id", summary.RunID),
		zap.String("status", string(summary.Status)),
	)
}
