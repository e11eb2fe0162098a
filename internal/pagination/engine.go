// Package pagination walks the content source's cursor-based pages for one query target.
package pagination

import (
	"context"
	"fmt"
	"iter"

	"go.uber.org/zap"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
	"github.com/JakeFAU/aggtube-harvester/internal/metrics"
)

// Engine performs bounded, paced traversal of a content source listing.
type Engine struct {
	source harvest.ContentSource
	pacer  harvest.Pacer
	logger *zap.Logger
}

// New constructs an Engine. A nil pacer disables the inter-page delay.
func New(source harvest.ContentSource, pacer harvest.Pacer, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		source: source,
		pacer:  pacer,
		logger: logger,
	}
}

// Crawl fetches the first page unconditionally and then at most maxScrolls further
// pages while the source returns a continuation token. Errors never escape: they
// truncate the run and are reported in CrawlResult.Failure.
func (e *Engine) Crawl(ctx context.Context, query harvest.Query, maxScrolls int) harvest.CrawlResult {
	result := harvest.CrawlResult{Query: query}
	walk := e.walk(ctx, query, maxScrolls, &result)
	for item := range walk {
		result.Items = append(result.Items, item)
	}
	metrics.ObserveItems(string(query.Kind), len(result.Items))
	if result.Failure != nil {
		metrics.ObserveTargetFailure("transport")
	}
	return result
}

// Stream yields items lazily in page order for library callers that process items as
// they arrive instead of holding a whole result. Request counts and failures are not
// reported; use Crawl when they matter. The sequence is not restartable and stops
// early when the consumer breaks out of the loop.
func (e *Engine) Stream(ctx context.Context, query harvest.Query, maxScrolls int) iter.Seq[harvest.RawContentItem] {
	var result harvest.CrawlResult
	return e.walk(ctx, query, maxScrolls, &result)
}

func (e *Engine) walk(
	ctx context.Context,
	query harvest.Query,
	maxScrolls int,
	result *harvest.CrawlResult,
) iter.Seq[harvest.RawContentItem] {
	if maxScrolls < 0 {
		maxScrolls = 0
	}
	logger := e.logger.With(zap.Stringer("query", query))
	key := query.String()

	return func(yield func(harvest.RawContentItem) bool) {
		if e.pacer != nil {
			defer e.pacer.Forget(key)
		}
		accumulated := 0
		page, err := e.fetch(ctx, query, "", key, result)
		if err != nil {
			result.Failure = err
			logger.Warn("first page failed; no items collected", zap.Error(err))
			return
		}
		if len(page.Items) == 0 {
			logger.Info("no content found")
			return
		}
		for _, item := range page.Items {
			accumulated++
			if !yield(item) {
				return
			}
		}

		scrolls := 0
		for page.NextPageToken != "" && scrolls < maxScrolls {
			page, err = e.fetch(ctx, query, page.NextPageToken, key, result)
			scrolls++
			if err != nil {
				result.Failure = err
				logger.Warn("pagination truncated; keeping accumulated items",
					zap.Int("scroll", scrolls),
					zap.Int("items", accumulated),
					zap.Error(err),
				)
				return
			}
			for _, item := range page.Items {
				accumulated++
				if !yield(item) {
					return
				}
			}
			logger.Debug("page fetched", zap.Int("scroll", scrolls), zap.Int("items", accumulated))
		}
		logger.Info("pagination complete", zap.Int("scrolls", scrolls), zap.Int("items", accumulated))
	}
}

func (e *Engine) fetch(
	ctx context.Context,
	query harvest.Query,
	token string,
	key string,
	result *harvest.CrawlResult,
) (harvest.Page, error) {
	kind := string(query.Kind)
	if e.pacer != nil {
		if err := e.pacer.Wait(ctx, key); err != nil {
			metrics.ObservePageRequest(kind, "error")
			return harvest.Page{}, fmt.Errorf("pace %s: %w", key, err)
		}
	}
	result.Requests++
	page, err := e.source.ListPage(ctx, query, token)
	if e.pacer != nil {
		e.pacer.Done(key)
	}
	if err != nil {
		metrics.ObservePageRequest(kind, "error")
		return harvest.Page{}, fmt.Errorf("list page %s: %w", key, err)
	}
	if len(page.Items) == 0 {
		metrics.ObservePageRequest(kind, "empty")
	} else {
		metrics.ObservePageRequest(kind, "ok")
	}
	return page, nil
}
