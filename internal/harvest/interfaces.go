package harvest

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// ContentSource is the paged catalog API the harvester reads from.
type ContentSource interface {
	ListPage(ctx context.Context, query Query, pageToken string) (Page, error)
	ListCategories(ctx context.Context) ([]Category, error)
}

// Crawler runs one bounded pagination over a query target.
type Crawler interface {
	Crawl(ctx context.Context, query Query, maxScrolls int) CrawlResult
}

// TagAggregator answers term aggregations over indexed documents.
type TagAggregator interface {
	TopTerms(ctx context.Context, index, field string, size int) ([]TagBucket, error)
}

// BulkWriter submits a batch of upserts in one round trip.
type BulkWriter interface {
	Bulk(ctx context.Context, ops []BulkOperation) (BulkReport, error)
}

// SearchIndex is the document store written by the pipeline.
type SearchIndex interface {
	TagAggregator
	BulkWriter
	// EnsureIndex creates the index with the given mapping; an existing index is not an error.
	EnsureIndex(ctx context.Context, name string, mapping json.RawMessage) error
}

// Pacer spaces successive page requests of the same target. The delay runs from the
// moment the previous page completed, so Done must follow every request that Wait let
// through. Forget releases the target once its walk ends.
type Pacer interface {
	Wait(ctx context.Context, key string) error
	Done(key string)
	Forget(key string)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// RunStore persists one ledger row per pipeline run.
type RunStore interface {
	RecordRun(ctx context.Context, run RunRecord) error
}

// Hasher computes digests for archived payloads.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
