// Package elastic implements the search index on Elasticsearch.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
)

// Config holds connection settings.
type Config struct {
	Addresses []string
	Username  string
	Password  string
	APIKey    string
	CloudID   string
	// Transport overrides the HTTP transport, mainly for tests.
	Transport http.RoundTripper
}

// Client is a harvest.SearchIndex backed by the Elasticsearch REST API.
type Client struct {
	es     *elasticsearch.Client
	logger *zap.Logger
}

// New constructs a Client. No request is made until the first call.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	es, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: cfg.Addresses,
		Username:  cfg.Username,
		Password:  cfg.Password,
		APIKey:    cfg.APIKey,
		CloudID:   cfg.CloudID,
		Transport: cfg.Transport,
	})
	if err != nil {
		return nil, fmt.Errorf("create elasticsearch client: %w", err)
	}
	return &Client{es: es, logger: logger}, nil
}

var tracer = otel.Tracer("github.com/JakeFAU/aggtube-harvester/internal/searchindex/elastic")

// EnsureIndex creates the index with mapping. An index that already exists is left
// untouched.
func (c *Client) EnsureIndex(ctx context.Context, name string, mapping json.RawMessage) error {
	ctx, span := tracer.Start(ctx, "elastic.EnsureIndex")
	defer span.End()
	span.SetAttributes(attribute.String("es.index", name))

	opts := []func(*esapi.IndicesCreateRequest){c.es.Indices.Create.WithContext(ctx)}
	if len(mapping) > 0 {
		opts = append(opts, c.es.Indices.Create.WithBody(bytes.NewReader(mapping)))
	}
	res, err := c.es.Indices.Create(name, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create index")
		return fmt.Errorf("create index %s: %w", name, err)
	}
	defer closeBody(res)

	if !res.IsError() {
		c.logger.Info("index created", zap.String("index", name))
		return nil
	}
	apiErr := decodeError(res)
	if res.StatusCode == http.StatusBadRequest && apiErr.Type == "resource_already_exists_exception" {
		c.logger.Debug("index already exists", zap.String("index", name))
		return nil
	}
	span.SetStatus(codes.Error, apiErr.Type)
	return fmt.Errorf("create index %s: %s", name, apiErr)
}

// TopTerms runs a size-0 terms aggregation over field.
func (c *Client) TopTerms(ctx context.Context, index, field string, size int) ([]harvest.TagBucket, error) {
	ctx, span := tracer.Start(ctx, "elastic.TopTerms")
	defer span.End()
	span.SetAttributes(
		attribute.String("es.index", index),
		attribute.String("es.field", field),
		attribute.Int("es.size", size),
	)

	body, err := json.Marshal(map[string]any{
		"size": 0,
		"aggs": map[string]any{
			"top_terms": map[string]any{
				"terms": map[string]any{"field": field, "size": size},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode aggregation: %w", err)
	}
	res, err := c.es.Search(
		c.es.Search.WithContext(ctx),
		c.es.Search.WithIndex(index),
		c.es.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "search")
		return nil, fmt.Errorf("aggregate %s.%s: %w", index, field, err)
	}
	defer closeBody(res)
	if res.IsError() {
		apiErr := decodeError(res)
		span.SetStatus(codes.Error, apiErr.Type)
		return nil, fmt.Errorf("aggregate %s.%s: %s", index, field, apiErr)
	}

	var parsed struct {
		Aggregations struct {
			TopTerms struct {
				Buckets []harvest.TagBucket `json:"buckets"`
			} `json:"top_terms"`
		} `json:"aggregations"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode aggregation: %w", err)
	}
	return parsed.Aggregations.TopTerms.Buckets, nil
}

// Bulk sends every operation as an update with doc_as_upsert in a single request.
func (c *Client) Bulk(ctx context.Context, ops []harvest.BulkOperation) (harvest.BulkReport, error) {
	ctx, span := tracer.Start(ctx, "elastic.Bulk")
	defer span.End()
	span.SetAttributes(attribute.Int("es.operations", len(ops)))

	payload, err := encodeBulk(ops)
	if err != nil {
		return harvest.BulkReport{}, err
	}
	res, err := c.es.Bulk(bytes.NewReader(payload), c.es.Bulk.WithContext(ctx))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "bulk")
		return harvest.BulkReport{}, fmt.Errorf("bulk request: %w", err)
	}
	defer closeBody(res)
	if res.IsError() {
		apiErr := decodeError(res)
		span.SetStatus(codes.Error, apiErr.Type)
		return harvest.BulkReport{}, fmt.Errorf("bulk request: %s", apiErr)
	}

	var parsed struct {
		Errors bool                         `json:"errors"`
		Items  []map[string]bulkItemOutcome `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return harvest.BulkReport{}, fmt.Errorf("decode bulk response: %w", err)
	}

	report := harvest.BulkReport{Results: make([]harvest.BulkResult, 0, len(parsed.Items))}
	for _, item := range parsed.Items {
		for _, outcome := range item {
			result := harvest.BulkResult{
				Index:  outcome.Index,
				ID:     outcome.ID,
				Status: outcome.Status,
				Result: outcome.Result,
			}
			if outcome.Error != nil {
				result.Error = outcome.Error.String()
			}
			report.Results = append(report.Results, result)
		}
	}
	span.SetAttributes(attribute.Bool("es.errors", parsed.Errors))
	return report, nil
}

type bulkItemOutcome struct {
	Index  string    `json:"_index"`
	ID     string    `json:"_id"`
	Status int       `json:"status"`
	Result string    `json:"result"`
	Error  *apiError `json:"error"`
}

type apiError struct {
	Type   string `json:"type"`
	Reason string `json:"reason"`
}

func (e apiError) String() string {
	if e.Reason == "" {
		return e.Type
	}
	return e.Type + ": " + e.Reason
}

func encodeBulk(ops []harvest.BulkOperation) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, op := range ops {
		meta := map[string]any{"update": map[string]string{"_index": op.Index, "_id": op.ID}}
		if err := enc.Encode(meta); err != nil {
			return nil, fmt.Errorf("encode bulk metadata %s/%s: %w", op.Index, op.ID, err)
		}
		line := map[string]any{"doc": op.Body, "doc_as_upsert": op.DocAsUpsert}
		if err := enc.Encode(line); err != nil {
			return nil, fmt.Errorf("encode bulk document %s/%s: %w", op.Index, op.ID, err)
		}
	}
	return buf.Bytes(), nil
}

func decodeError(res *esapi.Response) apiError {
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return apiError{Type: res.Status()}
	}
	var parsed struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || len(parsed.Error) == 0 {
		return apiError{Type: res.Status(), Reason: strings.TrimSpace(string(raw))}
	}
	var structured apiError
	if err := json.Unmarshal(parsed.Error, &structured); err == nil && structured.Type != "" {
		return structured
	}
	var plain string
	if err := json.Unmarshal(parsed.Error, &plain); err == nil {
		return apiError{Type: res.Status(), Reason: plain}
	}
	return apiError{Type: res.Status()}
}

func closeBody(res *esapi.Response) {
	if res != nil && res.Body != nil {
		_ = res.Body.Close()
	}
}
