// Package harvest defines the types shared by the crawl, transform, and index stages.
package harvest

import (
	"time"
)

// QueryKind selects which listing of the content source a crawl walks.
type QueryKind string

// Supported query kinds.
const (
	QueryTrending QueryKind = "trending"
	QueryKeyword  QueryKind = "keyword"
	QueryCategory QueryKind = "category"
)

// Query is a single crawl target.
type Query struct {
	Kind       QueryKind
	Keyword    string
	CategoryID string
}

// TrendingQuery returns the fixed "most popular" target.
func TrendingQuery() Query {
	return Query{Kind: QueryTrending}
}

// KeywordQuery returns a free-text search target.
func KeywordQuery(keyword string) Query {
	return Query{Kind: QueryKeyword, Keyword: keyword}
}

// CategoryQuery returns a category-scoped target.
func CategoryQuery(categoryID string) Query {
	return Query{Kind: QueryCategory, CategoryID: categoryID}
}

// String renders the query for logs and metric labels.
func (q Query) String() string {
	switch q.Kind {
	case QueryKeyword:
		return "keyword:" + q.Keyword
	case QueryCategory:
		return "category:" + q.CategoryID
	default:
		return string(q.Kind)
	}
}

// RawContentItem is one item as returned by the content source. Descriptive and
// Metrics are nil when the upstream response omitted them.
type RawContentItem struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind,omitempty"`
	ETag        string          `json:"etag,omitempty"`
	Descriptive *Descriptive    `json:"snippet,omitempty"`
	Metrics     *Metrics        `json:"statistics,omitempty"`
	Details     *ContentDetails `json:"contentDetails,omitempty"`
}

// Title returns the descriptive title, or "" when the item has none.
func (i RawContentItem) Title() string {
	if i.Descriptive == nil {
		return ""
	}
	return i.Descriptive.Title
}

// Descriptive carries the human-facing fields of an item.
type Descriptive struct {
	Title                string     `json:"title,omitempty"`
	Description          string     `json:"description,omitempty"`
	ChannelID            string     `json:"channelId,omitempty"`
	ChannelTitle         string     `json:"channelTitle,omitempty"`
	CategoryID           string     `json:"categoryId,omitempty"`
	PublishedAt          *time.Time `json:"publishedAt,omitempty"`
	Tags                 []string   `json:"tags,omitempty"`
	DefaultLanguage      string     `json:"defaultLanguage,omitempty"`
	LiveBroadcastContent string     `json:"liveBroadcastContent,omitempty"`
	Thumbnail            string     `json:"thumbnail,omitempty"`
}

// Metrics holds engagement counters. A nil pointer means the count was not reported.
// Sources that cannot tell a hidden counter from a literal zero report zero.
type Metrics struct {
	ViewCount     *int64 `json:"viewCount,omitempty"`
	LikeCount     *int64 `json:"likeCount,omitempty"`
	DislikeCount  *int64 `json:"dislikeCount,omitempty"`
	FavoriteCount *int64 `json:"favoriteCount,omitempty"`
	CommentCount  *int64 `json:"commentCount,omitempty"`
}

// ContentDetails holds playback details that are indexed as-is.
type ContentDetails struct {
	Duration        string `json:"duration,omitempty"`
	Definition      string `json:"definition,omitempty"`
	Dimension       string `json:"dimension,omitempty"`
	Caption         string `json:"caption,omitempty"`
	LicensedContent bool   `json:"licensedContent,omitempty"`
}

// Page is one response of the content source's paged listing.
type Page struct {
	Items         []RawContentItem
	NextPageToken string
}

// Category maps a human-readable name to the source's identifier.
type Category struct {
	Name string
	ID   string
}

// TagBucket is one term-aggregation bucket over indexed tags.
type TagBucket struct {
	Tag   string `json:"key"`
	Count int64  `json:"doc_count"`
}

// CrawlResult is the outcome of one pagination run. Failure is set when the run
// was truncated by an upstream error; the accumulated Items are still valid.
type CrawlResult struct {
	Query    Query
	Items    []RawContentItem
	Requests int
	Failure  error
}

// Truncated reports whether the run stopped early because of an error.
func (r CrawlResult) Truncated() bool {
	return r.Failure != nil
}

// Document is the flattened index shape of a content item.
type Document struct {
	ID                   string           `json:"id"`
	Kind                 string           `json:"kind,omitempty"`
	ETag                 string           `json:"etag,omitempty"`
	Title                string           `json:"title,omitempty"`
	Description          string           `json:"description,omitempty"`
	ChannelID            string           `json:"channelId,omitempty"`
	ChannelTitle         string           `json:"channelTitle,omitempty"`
	CategoryID           string           `json:"categoryId,omitempty"`
	PublishedAt          *time.Time       `json:"publishedAt,omitempty"`
	Tags                 []string         `json:"tags,omitempty"`
	DefaultLanguage      string           `json:"defaultLanguage,omitempty"`
	LiveBroadcastContent string           `json:"liveBroadcastContent,omitempty"`
	Thumbnail            string           `json:"thumbnail,omitempty"`
	ContentDetails       *ContentDetails  `json:"contentDetails,omitempty"`
	Metrics              *DocumentMetrics `json:"metrics,omitempty"`
}

// DocumentMetrics is the metrics object of a Document, including derived values.
type DocumentMetrics struct {
	ViewCount        *int64   `json:"viewCount,omitempty"`
	LikeCount        *int64   `json:"likeCount,omitempty"`
	DislikeCount     *int64   `json:"dislikeCount,omitempty"`
	FavoriteCount    *int64   `json:"favoriteCount,omitempty"`
	CommentCount     *int64   `json:"commentCount,omitempty"`
	LikeDislikeRatio *float64 `json:"likeDislikeRatio,omitempty"`
}

// TagDocument is stored in the tag index under its own text.
type TagDocument struct {
	Tag string `json:"tag"`
}

// ID returns the document key, which is the tag itself.
func (t TagDocument) ID() string {
	return t.Tag
}

// BulkOperation is a single upsert in a bulk request. Build it with Upsert.
type BulkOperation struct {
	Index       string
	ID          string
	Body        any
	DocAsUpsert bool
}

// Upsert builds a create-or-merge operation.
func Upsert(index, id string, body any) BulkOperation {
	return BulkOperation{Index: index, ID: id, Body: body, DocAsUpsert: true}
}

// BulkResult is the outcome of one operation in a bulk request.
type BulkResult struct {
	Index  string `json:"index"`
	ID     string `json:"id"`
	Status int    `json:"status"`
	Result string `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// OK reports whether the index accepted the operation.
func (r BulkResult) OK() bool {
	return r.Error == "" && r.Status >= 200 && r.Status < 300
}

// BulkReport lists per-operation outcomes in request order.
type BulkReport struct {
	Results []BulkResult
}

// Succeeded counts accepted operations.
func (r BulkReport) Succeeded() int {
	n := 0
	for _, res := range r.Results {
		if res.OK() {
			n++
		}
	}
	return n
}

// Failed returns the rejected operations.
func (r BulkReport) Failed() []BulkResult {
	var out []BulkResult
	for _, res := range r.Results {
		if !res.OK() {
			out = append(out, res)
		}
	}
	return out
}
