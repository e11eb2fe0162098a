// Package feedback picks new crawl keywords from the tags already in the index.
//
// A run has two phases that never interleave: TopTags reads an aggregation snapshot,
// then CrawlTags turns that snapshot into keyword crawls. The commit of the crawled
// items happens after both phases, so the snapshot is never mutated while in use.
package feedback

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
)

// DefaultTopTags is the number of buckets read when the caller passes n <= 0.
const DefaultTopTags = 50

// DefaultMaxScrolls is the per-tag scroll bound: one page beyond the first.
const DefaultMaxScrolls = 1

// Config selects the aggregated field and the per-tag scroll bound.
type Config struct {
	Index      string
	Field      string
	MaxScrolls int
}

// Loop runs the aggregate-then-crawl cycle.
type Loop struct {
	aggregator harvest.TagAggregator
	crawler    harvest.Crawler
	cfg        Config
	logger     *zap.Logger
}

// New constructs a Loop. Field defaults to "tags"; a negative MaxScrolls falls back to
// DefaultMaxScrolls.
func New(aggregator harvest.TagAggregator, crawler harvest.Crawler, cfg Config, logger *zap.Logger) *Loop {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Field == "" {
		cfg.Field = "tags"
	}
	if cfg.MaxScrolls < 0 {
		cfg.MaxScrolls = DefaultMaxScrolls
	}
	return &Loop{
		aggregator: aggregator,
		crawler:    crawler,
		cfg:        cfg,
		logger:     logger,
	}
}

// TopTags returns up to n buckets by descending count. The slice is a copy owned by
// the caller.
func (l *Loop) TopTags(ctx context.Context, n int) ([]harvest.TagBucket, error) {
	if n <= 0 {
		n = DefaultTopTags
	}
	buckets, err := l.aggregator.TopTerms(ctx, l.cfg.Index, l.cfg.Field, n)
	if err != nil {
		return nil, fmt.Errorf("aggregate top tags: %w", err)
	}
	if len(buckets) > n {
		buckets = buckets[:n]
	}
	snapshot := make([]harvest.TagBucket, 0, len(buckets))
	for _, b := range buckets {
		if b.Tag == "" {
			continue
		}
		snapshot = append(snapshot, b)
	}
	l.logger.Info("top tags aggregated", zap.Int("buckets", len(snapshot)))
	return snapshot, nil
}

// CrawlTags runs one keyword crawl per bucket in bucket order. A truncated crawl is
// kept as a partial result and the loop moves on.
func (l *Loop) CrawlTags(ctx context.Context, buckets []harvest.TagBucket) []harvest.CrawlResult {
	results := make([]harvest.CrawlResult, 0, len(buckets))
	for _, b := range buckets {
		res := l.crawler.Crawl(ctx, harvest.KeywordQuery(b.Tag), l.cfg.MaxScrolls)
		if res.Truncated() {
			l.logger.Warn("tag crawl truncated",
				zap.String("tag", b.Tag),
				zap.Int("items", len(res.Items)),
				zap.Error(res.Failure),
			)
		}
		results = append(results, res)
	}
	return results
}

// TopTagsAndCrawl aggregates, crawls each tag, and concatenates the items in bucket
// order.
func (l *Loop) TopTagsAndCrawl(ctx context.Context, n int) ([]harvest.RawContentItem, []harvest.CrawlResult, error) {
	buckets, err := l.TopTags(ctx, n)
	if err != nil {
		return nil, nil, err
	}
	results := l.CrawlTags(ctx, buckets)
	var items []harvest.RawContentItem
	for _, res := range results {
		items = append(items, res.Items...)
	}
	return items, results, nil
}
