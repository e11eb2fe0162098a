// Package youtube adapts the YouTube Data API v3 to harvest.ContentSource.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
)

var videoParts = []string{"snippet", "statistics", "contentDetails"}

// BreakerConfig tunes the circuit breaker wrapped around every API call.
type BreakerConfig struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// Config selects region, page size and optional hydration of search results.
type Config struct {
	APIKey     string
	RegionCode string
	PageSize   int64
	// Hydrate re-fetches search results through videos.list so they carry tags and
	// statistics.
	Hydrate bool
	Breaker BreakerConfig
}

// Client implements harvest.ContentSource.
type Client struct {
	svc     *yt.Service
	cfg     Config
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger
}

var tracer = otel.Tracer("github.com/JakeFAU/aggtube-harvester/internal/source/youtube")

// New builds the API service. Extra options are appended after the API key, so tests
// can point the client at a local endpoint.
func New(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RegionCode == "" {
		cfg.RegionCode = "US"
	}
	if cfg.PageSize <= 0 || cfg.PageSize > 50 {
		cfg.PageSize = 50
	}
	var all []option.ClientOption
	if cfg.APIKey != "" {
		all = append(all, option.WithAPIKey(cfg.APIKey))
	}
	all = append(all, opts...)
	svc, err := yt.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("create youtube service: %w", err)
	}
	return &Client{
		svc:     svc,
		cfg:     cfg,
		breaker: newBreaker(cfg.Breaker, logger),
		logger:  logger,
	}, nil
}

func newBreaker(cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MinRequests == 0 {
		cfg.MinRequests = 5
	}
	if cfg.FailureRatio <= 0 {
		cfg.FailureRatio = 0.6
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "YouTubeDataAPI",
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= cfg.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
}

// ListPage fetches one page for query. Trending and category queries use the
// mostPopular chart; keyword queries use search.
func (c *Client) ListPage(ctx context.Context, query harvest.Query, pageToken string) (harvest.Page, error) {
	ctx, span := tracer.Start(ctx, "youtube.ListPage")
	defer span.End()
	span.SetAttributes(
		attribute.String("youtube.query", query.String()),
		attribute.Bool("youtube.continuation", pageToken != ""),
	)

	var (
		page harvest.Page
		err  error
	)
	switch query.Kind {
	case harvest.QueryTrending:
		page, err = c.chart(ctx, "", pageToken)
	case harvest.QueryCategory:
		page, err = c.chart(ctx, query.CategoryID, pageToken)
	case harvest.QueryKeyword:
		page, err = c.search(ctx, query.Keyword, pageToken)
	default:
		err = fmt.Errorf("unsupported query kind %q", query.Kind)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list page")
		if errors.Is(err, gobreaker.ErrOpenState) {
			span.SetAttributes(attribute.Bool("youtube.circuit_breaker_open", true))
		}
		return harvest.Page{}, err
	}
	span.SetAttributes(attribute.Int("youtube.items", len(page.Items)))
	return page, nil
}

// ListCategories returns the assignable video categories for the configured region.
func (c *Client) ListCategories(ctx context.Context) ([]harvest.Category, error) {
	ctx, span := tracer.Start(ctx, "youtube.ListCategories")
	defer span.End()

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.svc.VideoCategories.List([]string{"snippet"}).
			RegionCode(c.cfg.RegionCode).
			Context(ctx).
			Do()
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list categories")
		return nil, fmt.Errorf("videoCategories.list: %w", err)
	}
	resp := out.(*yt.VideoCategoryListResponse)
	categories := make([]harvest.Category, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item == nil || item.Snippet == nil {
			continue
		}
		categories = append(categories, harvest.Category{Name: item.Snippet.Title, ID: item.Id})
	}
	return categories, nil
}

func (c *Client) chart(ctx context.Context, categoryID, pageToken string) (harvest.Page, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		call := c.svc.Videos.List(videoParts).
			Chart("mostPopular").
			RegionCode(c.cfg.RegionCode).
			MaxResults(c.cfg.PageSize).
			Context(ctx)
		if categoryID != "" {
			call = call.VideoCategoryId(categoryID)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		return call.Do()
	})
	if err != nil {
		return harvest.Page{}, fmt.Errorf("videos.list: %w", err)
	}
	resp := out.(*yt.VideoListResponse)
	page := harvest.Page{NextPageToken: resp.NextPageToken, Items: make([]harvest.RawContentItem, 0, len(resp.Items))}
	for _, v := range resp.Items {
		if v == nil || v.Id == "" {
			continue
		}
		page.Items = append(page.Items, fromVideo(v))
	}
	return page, nil
}

func (c *Client) search(ctx context.Context, keyword, pageToken string) (harvest.Page, error) {
	out, err := c.breaker.Execute(func() (interface{}, error) {
		call := c.svc.Search.List([]string{"snippet"}).
			Q(keyword).
			Type("video").
			RegionCode(c.cfg.RegionCode).
			MaxResults(c.cfg.PageSize).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		return call.Do()
	})
	if err != nil {
		return harvest.Page{}, fmt.Errorf("search.list: %w", err)
	}
	resp := out.(*yt.SearchListResponse)
	page := harvest.Page{NextPageToken: resp.NextPageToken, Items: make([]harvest.RawContentItem, 0, len(resp.Items))}
	for _, r := range resp.Items {
		if r == nil || r.Id == nil || r.Id.VideoId == "" {
			continue
		}
		page.Items = append(page.Items, fromSearchResult(r))
	}
	if c.cfg.Hydrate && len(page.Items) > 0 {
		page.Items = c.hydrate(ctx, page.Items)
	}
	return page, nil
}

// hydrate replaces search results with full video resources where available. A failed
// hydration keeps the snippet-only items.
func (c *Client) hydrate(ctx context.Context, items []harvest.RawContentItem) []harvest.RawContentItem {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.svc.Videos.List(videoParts).
			Id(ids...).
			Context(ctx).
			Do()
	})
	if err != nil {
		c.logger.Warn("hydration failed; keeping search snippets", zap.Int("items", len(items)), zap.Error(err))
		return items
	}
	full := make(map[string]harvest.RawContentItem, len(ids))
	for _, v := range out.(*yt.VideoListResponse).Items {
		if v != nil {
			full[v.Id] = fromVideo(v)
		}
	}
	hydrated := make([]harvest.RawContentItem, 0, len(items))
	for _, it := range items {
		if v, ok := full[it.ID]; ok {
			hydrated = append(hydrated, v)
			continue
		}
		hydrated = append(hydrated, it)
	}
	return hydrated
}

func fromVideo(v *yt.Video) harvest.RawContentItem {
	item := harvest.RawContentItem{ID: v.Id, Kind: v.Kind, ETag: v.Etag}
	if s := v.Snippet; s != nil {
		item.Descriptive = &harvest.Descriptive{
			Title:                s.Title,
			Description:          s.Description,
			ChannelID:            s.ChannelId,
			ChannelTitle:         s.ChannelTitle,
			CategoryID:           s.CategoryId,
			PublishedAt:          parseTime(s.PublishedAt),
			Tags:                 s.Tags,
			DefaultLanguage:      s.DefaultLanguage,
			LiveBroadcastContent: s.LiveBroadcastContent,
			Thumbnail:            thumbnail(s.Thumbnails),
		}
	}
	if st := v.Statistics; st != nil {
		item.Metrics = &harvest.Metrics{
			ViewCount:     count(st.ViewCount),
			LikeCount:     count(st.LikeCount),
			DislikeCount:  count(st.DislikeCount),
			FavoriteCount: count(st.FavoriteCount),
			CommentCount:  count(st.CommentCount),
		}
	}
	if d := v.ContentDetails; d != nil {
		item.Details = &harvest.ContentDetails{
			Duration:        d.Duration,
			Definition:      d.Definition,
			Dimension:       d.Dimension,
			Caption:         d.Caption,
			LicensedContent: d.LicensedContent,
		}
	}
	return item
}

func fromSearchResult(r *yt.SearchResult) harvest.RawContentItem {
	item := harvest.RawContentItem{ID: r.Id.VideoId, Kind: r.Id.Kind, ETag: r.Etag}
	if s := r.Snippet; s != nil {
		item.Descriptive = &harvest.Descriptive{
			Title:                s.Title,
			Description:          s.Description,
			ChannelID:            s.ChannelId,
			ChannelTitle:         s.ChannelTitle,
			PublishedAt:          parseTime(s.PublishedAt),
			LiveBroadcastContent: s.LiveBroadcastContent,
			Thumbnail:            thumbnail(s.Thumbnails),
		}
	}
	return item
}

// count converts a statistics counter. A returned statistics object reports every
// counter, so zero stays zero; the generated types also read a hidden counter as zero.
func count(v uint64) *int64 {
	if v > math.MaxInt64 {
		v = math.MaxInt64
	}
	n := int64(v)
	return &n
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}
	return &t
}

func thumbnail(td *yt.ThumbnailDetails) string {
	if td == nil {
		return ""
	}
	for _, t := range []*yt.Thumbnail{td.High, td.Medium, td.Default} {
		if t != nil && t.Url != "" {
			return t.Url
		}
	}
	return ""
}
