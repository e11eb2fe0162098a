package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
	"github.com/JakeFAU/aggtube-harvester/internal/opsserver"
	"github.com/JakeFAU/aggtube-harvester/internal/schedule"
)

// newScheduleCmd creates the 'schedule' subcommand.
func newScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Runs the configured cron jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE:  runSchedule,
	}
}

func runSchedule(cmd *cobra.Command, _ []string) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	cfg := appInstance.Config()
	logger := appInstance.Logger().Named("schedule")
	if len(cfg.Schedule.Jobs) == 0 {
		return errors.New("no schedule.jobs configured")
	}

	loc, err := time.LoadLocation(cfg.Schedule.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Schedule.Timezone, err)
	}
	sched := schedule.New(loc, appInstance, logger)
	for _, job := range cfg.Schedule.Jobs {
		mode, err := harvest.ParseMode(job.Mode)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		if err := sched.Add(schedule.Job{Name: job.Name, Cron: job.Cron, Mode: mode, Categories: job.Categories}); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	serverErr := make(chan error, 1)
	var ops *opsserver.Server
	if cfg.Ops.ListenAddr != "" {
		ops = opsserver.New(logger.Named("ops"))
		go func() { serverErr <- ops.ListenAndServe(ctx, cfg.Ops.ListenAddr) }()
	}

	sched.Start(ctx)
	if ops != nil {
		ops.SetReady(true)
	}
	logger.Info("scheduler started", zap.Int("jobs", sched.Len()), zap.String("timezone", loc.String()))

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-serverErr:
	}
	logger.Info("scheduler stopping")
	if ops != nil {
		ops.SetReady(false)
	}
	sched.Stop()
	cancel()
	return runErr
}
