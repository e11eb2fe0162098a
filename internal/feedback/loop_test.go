package feedback

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
)

func TestLoop_OneCrawlPerBucketInOrder(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregator{buckets: []harvest.TagBucket{{Tag: "a", Count: 5}, {Tag: "b", Count: 3}}}
	crawler := &fakeCrawler{items: map[string][]string{"a": {"a1", "a2"}, "b": {"b1"}}}
	loop := New(agg, crawler, Config{Index: "youtube", MaxScrolls: DefaultMaxScrolls}, zap.NewNop())

	items, results, err := loop.TopTagsAndCrawl(context.Background(), 50)

	require.NoError(t, err)
	require.Equal(t, []harvest.Query{harvest.KeywordQuery("a"), harvest.KeywordQuery("b")}, crawler.calls)
	require.Equal(t, []int{1, 1}, crawler.scrolls)
	require.Len(t, results, 2)
	got := make([]string, 0, len(items))
	for _, it := range items {
		got = append(got, it.ID)
	}
	require.Equal(t, []string{"a1", "a2", "b1"}, got)
}

func TestLoop_TopTags_PassesIndexFieldAndSize(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregator{}
	loop := New(agg, &fakeCrawler{}, Config{Index: "youtube"}, zap.NewNop())

	_, err := loop.TopTags(context.Background(), 0)

	require.NoError(t, err)
	require.Equal(t, "youtube", agg.index)
	require.Equal(t, "tags", agg.field)
	require.Equal(t, DefaultTopTags, agg.size)
}

func TestLoop_TopTags_ReturnsSnapshotCopy(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregator{buckets: []harvest.TagBucket{{Tag: "a", Count: 5}, {Tag: "", Count: 4}, {Tag: "b", Count: 3}}}
	loop := New(agg, &fakeCrawler{}, Config{}, zap.NewNop())

	snapshot, err := loop.TopTags(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, []harvest.TagBucket{{Tag: "a", Count: 5}, {Tag: "b", Count: 3}}, snapshot)

	agg.buckets[0].Tag = "mutated"
	require.Equal(t, "a", snapshot[0].Tag)
}

func TestLoop_TruncatedTagDoesNotStopLoop(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregator{buckets: []harvest.TagBucket{{Tag: "a", Count: 5}, {Tag: "b", Count: 3}}}
	crawler := &fakeCrawler{
		items: map[string][]string{"a": {"a1"}, "b": {"b1"}},
		fail:  map[string]bool{"a": true},
	}
	loop := New(agg, crawler, Config{}, zap.NewNop())

	items, results, err := loop.TopTagsAndCrawl(context.Background(), 2)

	require.NoError(t, err)
	require.True(t, results[0].Truncated())
	require.False(t, results[1].Truncated())
	require.Len(t, items, 2)
}

func TestLoop_AggregationFailureIsReturned(t *testing.T) {
	t.Parallel()

	agg := &fakeAggregator{err: errors.New("index_not_found_exception")}
	crawler := &fakeCrawler{}
	loop := New(agg, crawler, Config{}, zap.NewNop())

	_, _, err := loop.TopTagsAndCrawl(context.Background(), 5)

	require.ErrorContains(t, err, "aggregate top tags")
	require.Empty(t, crawler.calls)
}

func TestNew_NegativeScrollsFallBackToDefault(t *testing.T) {
	t.Parallel()

	loop := New(&fakeAggregator{}, &fakeCrawler{}, Config{MaxScrolls: -1}, nil)
	require.Equal(t, DefaultMaxScrolls, loop.cfg.MaxScrolls)
}

type fakeAggregator struct {
	buckets []harvest.TagBucket
	err     error
	index   string
	field   string
	size    int
}

func (f *fakeAggregator) TopTerms(_ context.Context, index, field string, size int) ([]harvest.TagBucket, error) {
	f.index, f.field, f.size = index, field, size
	if f.err != nil {
		return nil, f.err
	}
	return f.buckets, nil
}

type fakeCrawler struct {
	items   map[string][]string
	fail    map[string]bool
	calls   []harvest.Query
	scrolls []int
}

func (f *fakeCrawler) Crawl(_ context.Context, query harvest.Query, maxScrolls int) harvest.CrawlResult {
	f.calls = append(f.calls, query)
	f.scrolls = append(f.scrolls, maxScrolls)
	res := harvest.CrawlResult{Query: query, Requests: 1}
	for _, id := range f.items[query.Keyword] {
		res.Items = append(res.Items, harvest.RawContentItem{ID: id})
	}
	if f.fail[query.Keyword] {
		res.Failure = errors.New("transport")
	}
	return res
}
