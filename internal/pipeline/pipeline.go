// Package pipeline runs one crawl-transform-index pass for an operator-selected mode.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/aggtube-harvester/internal/category"
	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
	"github.com/JakeFAU/aggtube-harvester/internal/metrics"
	"github.com/JakeFAU/aggtube-harvester/internal/transform"
)

// CategoryCrawler crawls named categories; see category.Resolver.
type CategoryCrawler interface {
	CrawlAll(ctx context.Context, names ...string) ([]category.TargetResult, error)
}

// TagFeedback is the two-phase tag loop; see feedback.Loop.
type TagFeedback interface {
	TopTagsAndCrawl(ctx context.Context, n int) ([]harvest.RawContentItem, []harvest.CrawlResult, error)
}

// Committer submits one bulk batch; see indexer.Indexer.
type Committer interface {
	Commit(ctx context.Context, ops []harvest.BulkOperation) (harvest.BulkReport, error)
}

// Config controls index names, defaults and optional side outputs.
type Config struct {
	ContentIndex   string
	TagIndex       string
	ContentMapping json.RawMessage
	TagMapping     json.RawMessage
	MaxScrolls     int
	TopTags        int
	ArchivePrefix  string
	Topic          string
}

// Deps are the collaborators of a Pipeline. Archive, Runs and Publisher are optional.
type Deps struct {
	Crawler    harvest.Crawler
	Categories CategoryCrawler
	Feedback   TagFeedback
	Committer  Committer
	Index      harvest.SearchIndex
	Archive    harvest.BlobStore
	Runs       harvest.RunStore
	Publisher  harvest.Publisher
	Hasher     harvest.Hasher
	Clock      harvest.Clock
	IDs        harvest.IDGenerator
}

// Options are per-run overrides from the CLI.
type Options struct {
	// Categories narrows the categories mode; empty means every category.
	Categories []string
	// MaxScrolls overrides the configured scroll bound when >= 0.
	MaxScrolls int
	// TopTags overrides the configured bucket count when > 0.
	TopTags int
}

// DefaultOptions uses the configured bounds.
func DefaultOptions() Options {
	return Options{MaxScrolls: -1}
}

// TargetSummary describes one crawl target of a run.
type TargetSummary struct {
	Target   string
	Items    int
	Requests int
	Err      error
}

// Summary is returned by Run.
type Summary struct {
	RunID      string
	Mode       harvest.Mode
	Status     harvest.RunStatus
	StartedAt  time.Time
	FinishedAt time.Time
	Targets    []TargetSummary
	Items      int
	Operations int
	Report     harvest.BulkReport
	ArchiveURI string
}

// Pipeline orchestrates gather, archive, transform and commit.
type Pipeline struct {
	deps        Deps
	cfg         Config
	transformer transform.Transformer
	logger      *zap.Logger
}

var tracer = otel.Tracer("github.com/JakeFAU/aggtube-harvester/internal/pipeline")

// New constructs a Pipeline.
func New(deps Deps, cfg Config, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		deps:        deps,
		cfg:         cfg,
		transformer: transform.New(cfg.ContentIndex, cfg.TagIndex),
		logger:      logger,
	}
}

// EnsureIndices creates the content and tag indices with their mappings. Existing
// indices are left as they are.
func (p *Pipeline) EnsureIndices(ctx context.Context) error {
	if p.deps.Index == nil {
		return nil
	}
	if err := p.deps.Index.EnsureIndex(ctx, p.cfg.ContentIndex, p.cfg.ContentMapping); err != nil {
		return fmt.Errorf("ensure content index: %w", err)
	}
	if err := p.deps.Index.EnsureIndex(ctx, p.cfg.TagIndex, p.cfg.TagMapping); err != nil {
		return fmt.Errorf("ensure tag index: %w", err)
	}
	return nil
}

// Run executes one pass for mode. Partial crawl results are committed. Missing
// categories are reported as a wrapped harvest.ErrCategoryNotFound after the rest of
// the batch has been committed.
func (p *Pipeline) Run(ctx context.Context, mode harvest.Mode, opts Options) (Summary, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run")
	defer span.End()
	span.SetAttributes(attribute.String("harvest.mode", string(mode)))

	runID, err := p.deps.IDs.NewID()
	if err != nil {
		return Summary{}, fmt.Errorf("generate run id: %w", err)
	}
	summary := Summary{RunID: runID, Mode: mode, StartedAt: p.deps.Clock.Now()}
	logger := p.logger.With(zap.String("run_id", runID), zap.String("mode", string(mode)))
	logger.Info("run started")

	results, notFound, err := p.gather(ctx, mode, opts, &summary)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "gather")
		p.finish(ctx, logger, &summary, err)
		return summary, err
	}

	var items []harvest.RawContentItem
	for _, res := range results {
		items = append(items, res.Items...)
	}
	summary.Items = len(items)

	if uri, err := p.archive(ctx, runID, mode, items); err != nil {
		logger.Warn("archive failed; continuing without raw copy", zap.Error(err))
	} else {
		summary.ArchiveURI = uri
	}

	ops := p.transformer.Operations(items)
	summary.Operations = len(ops)
	report, err := p.deps.Committer.Commit(ctx, ops)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit")
		p.finish(ctx, logger, &summary, err)
		return summary, err
	}
	summary.Report = report

	var runErr error
	if len(notFound) > 0 {
		runErr = fmt.Errorf("run %s: %w", runID, errors.Join(notFound...))
	}
	p.finish(ctx, logger, &summary, runErr)
	span.SetAttributes(
		attribute.Int("harvest.items", summary.Items),
		attribute.Int("harvest.operations", summary.Operations),
		attribute.String("harvest.status", string(summary.Status)),
	)
	return summary, runErr
}

func (p *Pipeline) gather(
	ctx context.Context,
	mode harvest.Mode,
	opts Options,
	summary *Summary,
) ([]harvest.CrawlResult, []error, error) {
	maxScrolls := p.cfg.MaxScrolls
	if opts.MaxScrolls >= 0 {
		maxScrolls = opts.MaxScrolls
	}

	switch mode {
	case harvest.ModePopular:
		res := p.deps.Crawler.Crawl(ctx, harvest.TrendingQuery(), maxScrolls)
		summary.Targets = append(summary.Targets, targetSummary(res.Query.String(), res, res.Failure))
		return []harvest.CrawlResult{res}, nil, nil

	case harvest.ModeCategories:
		targets, err := p.deps.Categories.CrawlAll(ctx, opts.Categories...)
		if err != nil {
			return nil, nil, fmt.Errorf("crawl categories: %w", err)
		}
		var (
			results  []harvest.CrawlResult
			notFound []error
		)
		for _, t := range targets {
			if t.Err != nil {
				notFound = append(notFound, t.Err)
				summary.Targets = append(summary.Targets, TargetSummary{Target: "category:" + t.Name, Err: t.Err})
				continue
			}
			summary.Targets = append(summary.Targets, targetSummary("category:"+t.Name, t.Result, t.Result.Failure))
			results = append(results, t.Result)
		}
		return results, notFound, nil

	case harvest.ModeTopTags:
		n := p.cfg.TopTags
		if opts.TopTags > 0 {
			n = opts.TopTags
		}
		_, results, err := p.deps.Feedback.TopTagsAndCrawl(ctx, n)
		if err != nil {
			return nil, nil, fmt.Errorf("read tag snapshot: %w", err)
		}
		for _, res := range results {
			summary.Targets = append(summary.Targets, targetSummary(res.Query.String(), res, res.Failure))
		}
		return results, nil, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", harvest.ErrUnknownMode, mode)
	}
}

func targetSummary(name string, res harvest.CrawlResult, err error) TargetSummary {
	return TargetSummary{Target: name, Items: len(res.Items), Requests: res.Requests, Err: err}
}

func (p *Pipeline) archive(ctx context.Context, runID string, mode harvest.Mode, items []harvest.RawContentItem) (string, error) {
	if p.deps.Archive == nil || len(items) == 0 {
		return "", nil
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("marshal raw items: %w", err)
	}
	hash, err := p.deps.Hasher.Hash(payload)
	if err != nil {
		return "", fmt.Errorf("hash raw items: %w", err)
	}
	uri, err := p.deps.Archive.PutObject(ctx, p.archivePath(runID, mode, hash), "application/json", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

func (p *Pipeline) archivePath(runID string, mode harvest.Mode, hash string) string {
	prefix := strings.Trim(p.cfg.ArchivePrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s.json", mode, runID, hash)
	}
	return fmt.Sprintf("%s/%s/%s/%s.json", prefix, mode, runID, hash)
}

// finish derives the terminal status, then records, publishes and counts the run.
// Ledger and notification failures are logged only.
func (p *Pipeline) finish(ctx context.Context, logger *zap.Logger, summary *Summary, runErr error) {
	summary.FinishedAt = p.deps.Clock.Now()
	summary.Status = deriveStatus(*summary, runErr)

	record := harvest.RunRecord{
		ID:             summary.RunID,
		Mode:           summary.Mode,
		Status:         summary.Status,
		StartedAt:      summary.StartedAt,
		FinishedAt:     summary.FinishedAt,
		Targets:        len(summary.Targets),
		ItemsFetched:   summary.Items,
		Operations:     summary.Operations,
		OperationsOK:   summary.Report.Succeeded(),
		OperationsFail: len(summary.Report.Failed()),
		ArchiveURI:     summary.ArchiveURI,
	}
	for _, t := range summary.Targets {
		record.PageRequests += t.Requests
		if t.Err != nil {
			record.FailedTargets++
		}
	}
	if runErr != nil {
		record.ErrorText = runErr.Error()
	}

	if p.deps.Runs != nil {
		if err := p.deps.Runs.RecordRun(ctx, record); err != nil {
			logger.Error("record run failed", zap.Error(err))
		}
	}
	if p.deps.Publisher != nil && p.cfg.Topic != "" {
		if _, err := p.deps.Publisher.Publish(ctx, p.cfg.Topic, record); err != nil {
			logger.Error("publish run notification failed", zap.Error(err))
		}
	}
	metrics.ObserveRun(string(summary.Mode), string(summary.Status))

	logger.Info("run finished",
		zap.String("status", string(summary.Status)),
		zap.Int("targets", record.Targets),
		zap.Int("failed_targets", record.FailedTargets),
		zap.Int("page_requests", record.PageRequests),
		zap.Int("items", record.ItemsFetched),
		zap.Int("operations_ok", record.OperationsOK),
		zap.Int("operations_failed", record.OperationsFail),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)),
	)
}

func deriveStatus(summary Summary, runErr error) harvest.RunStatus {
	if runErr != nil && !errors.Is(runErr, harvest.ErrCategoryNotFound) {
		return harvest.RunFailed
	}
	partial := runErr != nil || len(summary.Report.Failed()) > 0
	for _, t := range summary.Targets {
		if t.Err != nil {
			partial = true
		}
	}
	if partial {
		return harvest.RunPartial
	}
	return harvest.RunSucceeded
}
