// Package memory provides an in-process search index used for dry runs and tests.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
)

// Index stores JSON documents per index and merges upserts field by field.
type Index struct {
	mu      sync.RWMutex
	indices map[string]map[string]map[string]any
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{indices: make(map[string]map[string]map[string]any)}
}

// EnsureIndex creates name if it does not exist. The mapping is ignored.
func (i *Index) EnsureIndex(_ context.Context, name string, _ json.RawMessage) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.indices[name]; !ok {
		i.indices[name] = make(map[string]map[string]any)
	}
	return nil
}

// Bulk applies each upsert in order. A body that cannot be encoded as a JSON object
// is rejected for that operation only.
func (i *Index) Bulk(_ context.Context, ops []harvest.BulkOperation) (harvest.BulkReport, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	report := harvest.BulkReport{Results: make([]harvest.BulkResult, 0, len(ops))}
	for _, op := range ops {
		res := harvest.BulkResult{Index: op.Index, ID: op.ID}
		fields, err := toObject(op.Body)
		switch {
		case err != nil:
			res.Status = 400
			res.Error = "mapper_parsing_exception: " + err.Error()
		case !op.DocAsUpsert:
			res.Status = 400
			res.Error = "action_request_validation_exception: doc_as_upsert required"
		default:
			docs, ok := i.indices[op.Index]
			if !ok {
				docs = make(map[string]map[string]any)
				i.indices[op.Index] = docs
			}
			if existing, found := docs[op.ID]; found {
				merge(existing, fields)
				res.Status, res.Result = 200, "updated"
			} else {
				docs[op.ID] = fields
				res.Status, res.Result = 201, "created"
			}
		}
		report.Results = append(report.Results, res)
	}
	return report, nil
}

// TopTerms counts documents per distinct value of field, highest count first.
func (i *Index) TopTerms(_ context.Context, index, field string, size int) ([]harvest.TagBucket, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	docs, ok := i.indices[index]
	if !ok {
		return nil, fmt.Errorf("aggregate %s: index_not_found_exception", index)
	}
	counts := make(map[string]int64)
	for _, doc := range docs {
		for term := range terms(doc[field]) {
			counts[term]++
		}
	}
	buckets := make([]harvest.TagBucket, 0, len(counts))
	for term, n := range counts {
		buckets = append(buckets, harvest.TagBucket{Tag: term, Count: n})
	}
	sort.Slice(buckets, func(a, b int) bool {
		if buckets[a].Count != buckets[b].Count {
			return buckets[a].Count > buckets[b].Count
		}
		return buckets[a].Tag < buckets[b].Tag
	})
	if size >= 0 && len(buckets) > size {
		buckets = buckets[:size]
	}
	return buckets, nil
}

// Get returns a copy of the stored document.
func (i *Index) Get(index, id string) (map[string]any, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	doc, ok := i.indices[index][id]
	if !ok {
		return nil, false
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, false
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, false
	}
	return out, true
}

// Count returns the number of documents in index.
func (i *Index) Count(index string) int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.indices[index])
}

func toObject(body any) (map[string]any, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode document: %w", err)
	}
	if out == nil {
		return nil, fmt.Errorf("document is not an object")
	}
	return out, nil
}

// merge copies src into dst, recursing into nested objects. Arrays and scalars are
// replaced.
func merge(dst, src map[string]any) {
	for k, v := range src {
		srcObj, srcIsObj := v.(map[string]any)
		dstObj, dstIsObj := dst[k].(map[string]any)
		if srcIsObj && dstIsObj {
			merge(dstObj, srcObj)
			continue
		}
		dst[k] = v
	}
}

func terms(v any) map[string]struct{} {
	out := make(map[string]struct{})
	switch val := v.(type) {
	case string:
		out[val] = struct{}{}
	case []any:
		for _, e := range val {
			if s, ok := e.(string); ok {
				out[s] = struct{}{}
			}
		}
	}
	return out
}
