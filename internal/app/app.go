// Package app builds the harvester's long-lived services from configuration and owns
// their shutdown.
package app

import (
	"context"
	"fmt"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/aggtube-harvester/internal/category"
	"github.com/JakeFAU/aggtube-harvester/internal/clock/system"
	"github.com/JakeFAU/aggtube-harvester/internal/config"
	"github.com/JakeFAU/aggtube-harvester/internal/feedback"
	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
	"github.com/JakeFAU/aggtube-harvester/internal/hash/sha256"
	"github.com/JakeFAU/aggtube-harvester/internal/id/uuid"
	"github.com/JakeFAU/aggtube-harvester/internal/indexer"
	"github.com/JakeFAU/aggtube-harvester/internal/metrics"
	"github.com/JakeFAU/aggtube-harvester/internal/pagination"
	"github.com/JakeFAU/aggtube-harvester/internal/pipeline"
	"github.com/JakeFAU/aggtube-harvester/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/aggtube-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/aggtube-harvester/internal/publisher/pubsub"
	"github.com/JakeFAU/aggtube-harvester/internal/searchindex/elastic"
	memoryindex "github.com/JakeFAU/aggtube-harvester/internal/searchindex/memory"
	"github.com/JakeFAU/aggtube-harvester/internal/source/youtube"
	gcsstorage "github.com/JakeFAU/aggtube-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/aggtube-harvester/internal/storage/local"
	memorystorage "github.com/JakeFAU/aggtube-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/aggtube-harvester/internal/storage/postgres"
	"github.com/JakeFAU/aggtube-harvester/internal/telemetry"
)

// Version is stamped into trace resources.
var Version = "dev"

// Options customise Build for tests and alternative endpoints.
type Options struct {
	// SourceOptions are appended to the YouTube client options.
	SourceOptions []option.ClientOption
	// SkipTelemetry leaves the global tracer provider untouched.
	SkipTelemetry bool
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	source    *youtube.Client
	index     harvest.SearchIndex
	archive   harvest.BlobStore
	runs      harvest.RunStore
	publisher harvest.Publisher
	pipeline  *pipeline.Pipeline

	pubsubClient   *pubsub.Client
	pubsubPub      *gcppublisher.Publisher
	gcsStore       *gcsstorage.BlobStore
	runStore       *pgstore.RunStore
	tracerShutdown telemetry.ShutdownFunc
}

// Build creates the application's dependencies. The index bootstrap runs here when
// enabled, so a misconfigured cluster fails before any crawling starts.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts Options) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	app := &App{cfg: cfg, logger: logger}

	if !opts.SkipTelemetry {
		shutdown, err := telemetry.InitTracing(ctx, telemetry.Config{
			ServiceName:  cfg.Telemetry.ServiceName,
			Version:      Version,
			OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
			Insecure:     cfg.Telemetry.Insecure,
			SampleRatio:  cfg.Telemetry.SampleRatio,
		})
		if err != nil {
			return nil, fmt.Errorf("tracer init failed: %w", err)
		}
		app.tracerShutdown = shutdown
	}

	app.logger.Info("building application dependencies")
	steps := []func(context.Context, *App, Options) error{
		setupSource,
		setupIndex,
		setupArchive,
		setupRuns,
		setupPublisher,
	}
	for _, step := range steps {
		if err := step(ctx, app, opts); err != nil {
			app.Close(ctx)
			return nil, err
		}
	}
	app.pipeline = buildPipeline(app)

	if cfg.Index.Bootstrap {
		if err := app.pipeline.EnsureIndices(ctx); err != nil {
			app.Close(ctx)
			return nil, fmt.Errorf("bootstrap indices: %w", err)
		}
		app.logger.Info("indices ready",
			zap.String("content_index", cfg.Index.Content.Name),
			zap.String("tag_index", cfg.Index.Tags.Name),
		)
	}
	return app, nil
}

// Pipeline returns the configured pipeline.
func (a *App) Pipeline() *pipeline.Pipeline {
	return a.pipeline
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config {
	return a.cfg
}

// Index exposes the search index backend.
func (a *App) Index() harvest.SearchIndex {
	return a.index
}

// Runs exposes the run ledger.
func (a *App) Runs() harvest.RunStore {
	return a.runs
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) {
	a.closeInfrastructure()
	a.closeObservability(ctx)
}

func (a *App) closeInfrastructure() {
	if a.pubsubPub != nil {
		a.pubsubPub.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsStore != nil {
		if err := a.gcsStore.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.runStore != nil {
		a.runStore.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync() // stdout sync fails on some terminals
}

func setupSource(ctx context.Context, app *App, opts Options) error {
	src := app.cfg.Source
	client, err := youtube.New(ctx, youtube.Config{
		APIKey:     src.APIKey,
		RegionCode: src.RegionCode,
		PageSize:   src.PageSize,
		Hydrate:    src.Hydrate,
		Breaker: youtube.BreakerConfig{
			MaxRequests:  src.Breaker.MaxRequests,
			Interval:     src.Breaker.Interval,
			Timeout:      src.Breaker.Timeout,
			MinRequests:  src.Breaker.MinRequests,
			FailureRatio: src.Breaker.FailureRatio,
		},
	}, app.logger.Named("youtube"), opts.SourceOptions...)
	if err != nil {
		return fmt.Errorf("youtube client init failed: %w", err)
	}
	if src.APIKey == "" && len(opts.SourceOptions) == 0 {
		app.logger.Warn("no source.api_key configured; relying on default credentials")
	}
	app.source = client
	app.logger.Info("youtube source initialized",
		zap.String("region", src.RegionCode),
		zap.Int64("page_size", src.PageSize),
		zap.Bool("hydrate", src.Hydrate),
	)
	return nil
}

func setupIndex(_ context.Context, app *App, _ Options) error {
	switch app.cfg.Index.Backend {
	case config.BackendMemory:
		app.logger.Info("using in-memory search index")
		app.index = memoryindex.NewIndex()
	default:
		client, err := elastic.New(elastic.Config{
			Addresses: app.cfg.Index.Addresses,
			Username:  app.cfg.Index.Username,
			Password:  app.cfg.Index.Password,
			APIKey:    app.cfg.Index.APIKey,
			CloudID:   app.cfg.Index.CloudID,
		}, app.logger.Named("elasticsearch"))
		if err != nil {
			return fmt.Errorf("elasticsearch client init failed: %w", err)
		}
		app.index = client
		app.logger.Info("using elasticsearch index", zap.Strings("addresses", app.cfg.Index.Addresses))
	}
	return nil
}

func setupArchive(ctx context.Context, app *App, _ Options) error {
	switch app.cfg.Archive.Backend {
	case config.ArchiveGCS:
		store, err := gcsstorage.New(ctx, gcsstorage.Config{Bucket: app.cfg.Archive.GCSBucket})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.gcsStore = store
		app.archive = store
		app.logger.Info("using GCS archive", zap.String("bucket", app.cfg.Archive.GCSBucket))
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Archive.LocalDir})
		if err != nil {
			return fmt.Errorf("local blob store init failed: %w", err)
		}
		app.archive = store
		app.logger.Info("using local archive", zap.String("path", app.cfg.Archive.LocalDir))
	case config.ArchiveMemory:
		app.archive = memorystorage.NewBlobStore()
		app.logger.Info("using in-memory archive")
	default:
		app.logger.Info("raw archive disabled")
	}
	return nil
}

func setupRuns(ctx context.Context, app *App, _ Options) error {
	if app.cfg.DB.DSN == "" {
		app.logger.Warn("No DSN specified for database, keeping the run ledger in memory")
		app.runs = memorystorage.NewRunStore()
		return nil
	}
	store, err := pgstore.NewRunStore(ctx, pgstore.RunStoreConfig{
		DSN:             app.cfg.DB.DSN,
		Table:           app.cfg.DB.Table,
		MaxConns:        app.cfg.DB.MaxConns,
		MinConns:        app.cfg.DB.MinConns,
		MaxConnLifetime: app.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("run store init failed: %w", err)
	}
	app.runStore = store
	app.runs = store
	app.logger.Info("run store initialized", zap.String("table", app.cfg.DB.Table))
	return nil
}

func setupPublisher(ctx context.Context, app *App, _ Options) error {
	if app.cfg.PubSub.Topic == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, using in-memory publisher")
		app.publisher = memorypublisher.New()
		return nil
	}
	client, err := pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubClient = client
	app.pubsubPub = gcppublisher.New(client)
	app.publisher = app.pubsubPub
	app.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.Topic),
	)
	return nil
}

func buildPipeline(app *App) *pipeline.Pipeline {
	cfg := app.cfg
	pacer := ratelimit.New(ratelimit.Config{PageDelay: cfg.Crawl.PageDelay})
	engine := pagination.New(app.source, pacer, app.logger.Named("pagination"))
	resolver := category.New(app.source, engine, cfg.Crawl.MaxScrolls, app.logger.Named("category"))
	loop := feedback.New(app.index, engine, feedback.Config{
		Index:      cfg.Index.Aggregation.Index,
		Field:      cfg.Index.Aggregation.Field,
		MaxScrolls: cfg.Crawl.FeedbackMaxScrolls,
	}, app.logger.Named("feedback"))

	topic := cfg.PubSub.Topic
	app.logger.Info("pipeline config",
		zap.Int("max_scrolls", cfg.Crawl.MaxScrolls),
		zap.Duration("page_delay", cfg.Crawl.PageDelay),
		zap.Int("top_tags", cfg.Crawl.TopTags),
		zap.String("archive_prefix", cfg.Archive.Prefix),
		zap.String("topic", topic),
	)

	return pipeline.New(pipeline.Deps{
		Crawler:    engine,
		Categories: resolver,
		Feedback:   loop,
		Committer:  indexer.New(app.index, app.logger.Named("indexer")),
		Index:      app.index,
		Archive:    app.archive,
		Runs:       app.runs,
		Publisher:  app.publisher,
		Hasher:     sha256.New(),
		Clock:      system.New(),
		IDs:        uuid.New(),
	}, pipeline.Config{
		ContentIndex:   cfg.Index.Content.Name,
		TagIndex:       cfg.Index.Tags.Name,
		ContentMapping: cfg.Index.Content.Mapping,
		TagMapping:     cfg.Index.Tags.Mapping,
		MaxScrolls:     cfg.Crawl.MaxScrolls,
		TopTags:        cfg.Crawl.TopTags,
		ArchivePrefix:  cfg.Archive.Prefix,
		Topic:          topic,
	}, app.logger.Named("pipeline"))
}

// Run executes one pipeline pass.
func (a *App) Run(ctx context.Context, mode harvest.Mode, opts pipeline.Options) (pipeline.Summary, error) {
	return a.pipeline.Run(ctx, mode, opts)
}

// EnsureIndices creates the content and tag indices.
func (a *App) EnsureIndices(ctx context.Context) error {
	return a.pipeline.EnsureIndices(ctx)
}
