package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
)

func views(v int64) *int64 { return &v }

func TestIndex_BulkIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := NewIndex()
	ops := []harvest.BulkOperation{
		harvest.Upsert("youtube", "v1", harvest.Document{ID: "v1", Title: "a", Tags: []string{"music"}}),
		harvest.Upsert("tags", "music", harvest.TagDocument{Tag: "music"}),
	}

	first, err := idx.Bulk(ctx, ops)
	require.NoError(t, err)
	require.Equal(t, "created", first.Results[0].Result)
	once, _ := idx.Get("youtube", "v1")

	second, err := idx.Bulk(ctx, ops)
	require.NoError(t, err)
	require.Equal(t, "updated", second.Results[0].Result)
	twice, _ := idx.Get("youtube", "v1")

	require.Equal(t, once, twice)
	require.Equal(t, 1, idx.Count("youtube"))
	require.Equal(t, 1, idx.Count("tags"))
}

func TestIndex_BulkMergesNestedFields(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := NewIndex()
	_, err := idx.Bulk(ctx, []harvest.BulkOperation{harvest.Upsert("youtube", "v1", harvest.Document{
		ID:          "v1",
		Description: "kept",
		Metrics:     &harvest.DocumentMetrics{ViewCount: views(10), LikeCount: views(3)},
	})})
	require.NoError(t, err)

	_, err = idx.Bulk(ctx, []harvest.BulkOperation{harvest.Upsert("youtube", "v1", harvest.Document{
		ID:      "v1",
		Metrics: &harvest.DocumentMetrics{ViewCount: views(25)},
	})})
	require.NoError(t, err)

	doc, ok := idx.Get("youtube", "v1")
	require.True(t, ok)
	require.Equal(t, "kept", doc["description"])
	m := doc["metrics"].(map[string]any)
	require.Equal(t, float64(25), m["viewCount"])
	require.Equal(t, float64(3), m["likeCount"])
}

func TestIndex_BulkRejectsNonObjectBody(t *testing.T) {
	t.Parallel()

	report, err := NewIndex().Bulk(context.Background(), []harvest.BulkOperation{
		harvest.Upsert("tags", "bad", "just a string"),
		harvest.Upsert("tags", "good", harvest.TagDocument{Tag: "good"}),
	})

	require.NoError(t, err)
	require.Equal(t, 1, report.Succeeded())
	require.Equal(t, "bad", report.Failed()[0].ID)
}

func TestIndex_TopTermsCountsDocumentsOncePerTerm(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := NewIndex()
	_, err := idx.Bulk(ctx, []harvest.BulkOperation{
		harvest.Upsert("youtube", "v1", map[string]any{"tags": []string{"b", "a", "a"}}),
		harvest.Upsert("youtube", "v2", map[string]any{"tags": []string{"a"}}),
		harvest.Upsert("youtube", "v3", map[string]any{"tags": []string{"c", "b"}}),
		harvest.Upsert("youtube", "v4", map[string]any{"title": "untagged"}),
	})
	require.NoError(t, err)

	buckets, err := idx.TopTerms(ctx, "youtube", "tags", 2)

	require.NoError(t, err)
	require.Equal(t, []harvest.TagBucket{{Tag: "a", Count: 2}, {Tag: "b", Count: 2}}, buckets)
}

func TestIndex_TopTermsUnknownIndex(t *testing.T) {
	t.Parallel()

	_, err := NewIndex().TopTerms(context.Background(), "missing", "tags", 10)
	require.ErrorContains(t, err, "index_not_found_exception")
}

func TestIndex_EnsureIndexIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx := NewIndex()
	require.NoError(t, idx.EnsureIndex(ctx, "youtube", nil))
	_, err := idx.Bulk(ctx, []harvest.BulkOperation{harvest.Upsert("youtube", "v1", harvest.Document{ID: "v1"})})
	require.NoError(t, err)
	require.NoError(t, idx.EnsureIndex(ctx, "youtube", nil))
	require.Equal(t, 1, idx.Count("youtube"))
}
