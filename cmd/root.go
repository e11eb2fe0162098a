package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/aggtube-harvester/internal/app"
	"github.com/JakeFAU/aggtube-harvester/internal/config"
	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
	"github.com/JakeFAU/aggtube-harvester/internal/logging"
	"github.com/JakeFAU/aggtube-harvester/internal/pipeline"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what commands need from the service container. Tests inject a fake.
type App interface {
	Run(ctx context.Context, mode harvest.Mode, opts pipeline.Options) (pipeline.Summary, error)
	EnsureIndices(ctx context.Context) error
	Config() config.Config
	Logger() *zap.Logger
	Close(ctx context.Context)
}

// newApp is the application factory, replaced in tests.
var newApp = func(ctx context.Context, cfgPath string) (App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
		Service:     cfg.Telemetry.ServiceName,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return app.Build(ctx, cfg, logger, app.Options{})
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:           "harvester",
		Short:         "Crawls YouTube listings into Elasticsearch.",
		SilenceUsage:  true,
		SilenceErrors: true,

		// Runs after argument validation, so a bad mode never builds any client.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.WithoutCancel(cmd.Context()))
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); HARVESTER_* env vars override it")
	cmd.AddCommand(newCrawlCmd(), newScheduleCmd(), newBootstrapCmd())
	return cmd
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		if errors.Is(err, harvest.ErrCategoryNotFound) {
			return 2
		}
		return 1
	}
	return 0
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}
