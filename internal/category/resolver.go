// Package category maps human-readable category names to source ids and crawls them.
package category

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
	"github.com/JakeFAU/aggtube-harvester/internal/metrics"
)

// Resolver looks categories up on the content source and crawls them by id.
type Resolver struct {
	source     harvest.ContentSource
	crawler    harvest.Crawler
	maxScrolls int
	logger     *zap.Logger
}

// TargetResult is the outcome of crawling one named category.
type TargetResult struct {
	Name   string
	Result harvest.CrawlResult
	Err    error
}

// New constructs a Resolver.
func New(source harvest.ContentSource, crawler harvest.Crawler, maxScrolls int, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		source:     source,
		crawler:    crawler,
		maxScrolls: maxScrolls,
		logger:     logger,
	}
}

// Resolve fetches the current name -> id mapping. Nothing is cached between calls.
func (r *Resolver) Resolve(ctx context.Context) (map[string]string, error) {
	categories, err := r.source.ListCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	mapping := make(map[string]string, len(categories))
	for _, c := range categories {
		if c.Name == "" || c.ID == "" {
			continue
		}
		if _, dup := mapping[c.Name]; dup {
			continue
		}
		mapping[c.Name] = c.ID
	}
	r.logger.Debug("categories resolved", zap.Int("count", len(mapping)))
	return mapping, nil
}

// CrawlCategory resolves name and crawls the category it maps to. An unknown name
// returns *harvest.CategoryNotFoundError without issuing any page request.
func (r *Resolver) CrawlCategory(ctx context.Context, name string) (harvest.CrawlResult, error) {
	mapping, err := r.Resolve(ctx)
	if err != nil {
		return harvest.CrawlResult{}, err
	}
	return r.crawlResolved(ctx, mapping, name)
}

// CrawlAll resolves once and crawls each named category sequentially. With no names,
// every resolved category is crawled in name order. A missing name fails only its own
// target; the error return is reserved for a failed resolution.
func (r *Resolver) CrawlAll(ctx context.Context, names ...string) ([]TargetResult, error) {
	mapping, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		names = make([]string, 0, len(mapping))
		for name := range mapping {
			names = append(names, name)
		}
		sort.Strings(names)
	}

	seen := make(map[string]struct{}, len(names))
	results := make([]TargetResult, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		res, err := r.crawlResolved(ctx, mapping, name)
		results = append(results, TargetResult{Name: name, Result: res, Err: err})
	}
	return results, nil
}

func (r *Resolver) crawlResolved(ctx context.Context, mapping map[string]string, name string) (harvest.CrawlResult, error) {
	id, ok := mapping[name]
	if !ok {
		metrics.ObserveTargetFailure("category_not_found")
		r.logger.Warn("category not found", zap.String("category", name))
		return harvest.CrawlResult{}, &harvest.CategoryNotFoundError{Name: name}
	}
	r.logger.Info("crawling category", zap.String("category", name), zap.String("category_id", id))
	return r.crawler.Crawl(ctx, harvest.CategoryQuery(id), r.maxScrolls), nil
}
