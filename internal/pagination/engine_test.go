package pagination

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
	"github.com/JakeFAU/aggtube-harvester/internal/policy/ratelimit"
)

func TestEngine_Crawl_StopsWhenTokenAbsentAfterFirstPage(t *testing.T) {
	t.Parallel()

	for _, maxScrolls := range []int{0, 1, 10} {
		source := &fakeSource{pages: map[string]harvest.Page{
			"": {Items: items("a", "b")},
		}}
		engine := New(source, nil, zap.NewNop())

		result := engine.Crawl(context.Background(), harvest.TrendingQuery(), maxScrolls)

		require.Equal(t, []string{"a", "b"}, ids(result.Items))
		require.Equal(t, 1, result.Requests)
		require.Len(t, source.calls(), 1)
		require.False(t, result.Truncated())
	}
}

func TestEngine_Crawl_BoundsRequestsByMaxScrolls(t *testing.T) {
	t.Parallel()

	for k := 0; k <= 4; k++ {
		source := endlessSource()
		engine := New(source, nil, zap.NewNop())

		result := engine.Crawl(context.Background(), harvest.KeywordQuery("music"), k)

		require.Equal(t, k+1, result.Requests, "max_scrolls=%d", k)
		require.Len(t, source.calls(), k+1)
		require.Len(t, result.Items, k+1)
	}
}

func TestEngine_Crawl_FollowsContinuationTokens(t *testing.T) {
	t.Parallel()

	source := &fakeSource{pages: map[string]harvest.Page{
		"":   {Items: items("a"), NextPageToken: "p2"},
		"p2": {Items: items("b", "c"), NextPageToken: "p3"},
		"p3": {Items: items("d")},
	}}
	pacer := &fakePacer{}
	engine := New(source, pacer, zap.NewNop())

	result := engine.Crawl(context.Background(), harvest.CategoryQuery("10"), 10)

	require.Equal(t, []string{"a", "b", "c", "d"}, ids(result.Items))
	require.Equal(t, []string{"", "p2", "p3"}, source.calls())
	require.Equal(t, 3, pacer.count("category:10"))
	require.Equal(t, 3, pacer.doneCount("category:10"))
	require.Equal(t, []string{"category:10"}, pacer.forgottenKeys())
	for _, q := range source.queries() {
		require.Equal(t, "10", q.CategoryID)
	}
}

func TestEngine_Crawl_EmptyFirstPageIsNotAnError(t *testing.T) {
	t.Parallel()

	source := &fakeSource{pages: map[string]harvest.Page{
		"": {NextPageToken: "ignored"},
	}}
	engine := New(source, nil, zap.NewNop())

	result := engine.Crawl(context.Background(), harvest.KeywordQuery("nothing"), 5)

	require.Empty(t, result.Items)
	require.NoError(t, result.Failure)
	require.Equal(t, 1, result.Requests)
}

func TestEngine_Crawl_ErrorMidwayKeepsAccumulatedItems(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		pages: map[string]harvest.Page{
			"":   {Items: items("a", "b"), NextPageToken: "p2"},
			"p2": {Items: items("c"), NextPageToken: "p3"},
		},
		errs: map[string]error{"p3": errors.New("quota exceeded")},
	}
	engine := New(source, nil, zap.NewNop())

	result := engine.Crawl(context.Background(), harvest.TrendingQuery(), 10)

	require.Equal(t, []string{"a", "b", "c"}, ids(result.Items))
	require.True(t, result.Truncated())
	require.ErrorContains(t, result.Failure, "quota exceeded")
	require.Equal(t, 3, result.Requests)
}

func TestEngine_Crawl_ErrorOnFirstPageYieldsEmpty(t *testing.T) {
	t.Parallel()

	source := &fakeSource{errs: map[string]error{"": errors.New("connection reset")}}
	engine := New(source, nil, zap.NewNop())

	result := engine.Crawl(context.Background(), harvest.TrendingQuery(), 3)

	require.Empty(t, result.Items)
	require.True(t, result.Truncated())
}

func TestEngine_Crawl_PacerFailureTruncates(t *testing.T) {
	t.Parallel()

	source := endlessSource()
	pacer := &fakePacer{failAfter: 2}
	engine := New(source, pacer, zap.NewNop())

	result := engine.Crawl(context.Background(), harvest.TrendingQuery(), 10)

	require.Len(t, result.Items, 2)
	require.Equal(t, 2, result.Requests)
	require.ErrorIs(t, result.Failure, context.Canceled)
	require.Equal(t, 2, pacer.doneCount("trending"))
	require.Equal(t, []string{"trending"}, pacer.forgottenKeys())
}

func TestEngine_Crawl_SignalsDoneAfterFailedRequest(t *testing.T) {
	t.Parallel()

	source := &fakeSource{
		pages: map[string]harvest.Page{"": {Items: items("a"), NextPageToken: "p2"}},
		errs:  map[string]error{"p2": errors.New("quota exceeded")},
	}
	pacer := &fakePacer{}
	engine := New(source, pacer, zap.NewNop())

	result := engine.Crawl(context.Background(), harvest.KeywordQuery("jazz"), 5)

	require.True(t, result.Truncated())
	require.Equal(t, 2, pacer.doneCount("keyword:jazz"))
	require.Equal(t, []string{"keyword:jazz"}, pacer.forgottenKeys())
}

func TestEngine_Crawl_PageDelayRunsFromPreviousCompletion(t *testing.T) {
	t.Parallel()

	const (
		latency = 120 * time.Millisecond
		delay   = 100 * time.Millisecond
	)
	source := &slowSource{latency: latency}
	engine := New(source, ratelimit.New(ratelimit.Config{PageDelay: delay}), zap.NewNop())

	result := engine.Crawl(context.Background(), harvest.TrendingQuery(), 3)

	require.NoError(t, result.Failure)
	require.Equal(t, 4, result.Requests)
	starts, ends := source.timings()
	require.Len(t, starts, 4)
	for i := 1; i < len(starts); i++ {
		gap := starts[i].Sub(ends[i-1])
		require.GreaterOrEqual(t, gap, delay-20*time.Millisecond, "gap before page %d was %v", i, gap)
	}
}

func TestEngine_Stream_ForgetsTargetWhenConsumerBreaks(t *testing.T) {
	t.Parallel()

	pacer := &fakePacer{}
	engine := New(endlessSource(), pacer, zap.NewNop())

	for range engine.Stream(context.Background(), harvest.CategoryQuery("20"), 10) {
		break
	}

	require.Equal(t, []string{"category:20"}, pacer.forgottenKeys())
}

func TestEngine_Crawl_NegativeScrollsBehaveAsZero(t *testing.T) {
	t.Parallel()

	source := endlessSource()
	engine := New(source, nil, zap.NewNop())

	result := engine.Crawl(context.Background(), harvest.TrendingQuery(), -3)

	require.Equal(t, 1, result.Requests)
}

func TestEngine_Stream_StopsFetchingWhenConsumerBreaks(t *testing.T) {
	t.Parallel()

	source := endlessSource()
	engine := New(source, nil, zap.NewNop())

	var got []string
	for item := range engine.Stream(context.Background(), harvest.TrendingQuery(), 10) {
		got = append(got, item.ID)
		if len(got) == 2 {
			break
		}
	}

	require.Equal(t, []string{"item-0", "item-1"}, got)
	require.Len(t, source.calls(), 2)
}

// --- fakes ---

type fakeSource struct {
	mu      sync.Mutex
	pages   map[string]harvest.Page
	errs    map[string]error
	tokens  []string
	queried []harvest.Query
	// generate, when set, builds pages on demand instead of reading pages.
	generate func(token string) harvest.Page
}

func (f *fakeSource) ListPage(_ context.Context, query harvest.Query, token string) (harvest.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens = append(f.tokens, token)
	f.queried = append(f.queried, query)
	if err, ok := f.errs[token]; ok {
		return harvest.Page{}, err
	}
	if f.generate != nil {
		return f.generate(token), nil
	}
	return f.pages[token], nil
}

func (f *fakeSource) ListCategories(context.Context) ([]harvest.Category, error) {
	return nil, nil
}

func (f *fakeSource) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.tokens...)
}

func (f *fakeSource) queries() []harvest.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]harvest.Query(nil), f.queried...)
}

func endlessSource() *fakeSource {
	n := 0
	return &fakeSource{generate: func(string) harvest.Page {
		item := harvest.RawContentItem{ID: fmt.Sprintf("item-%d", n)}
		n++
		return harvest.Page{Items: []harvest.RawContentItem{item}, NextPageToken: fmt.Sprintf("t%d", n)}
	}}
}

type fakePacer struct {
	mu        sync.Mutex
	waits     map[string]int
	done      map[string]int
	forgotten []string
	failAfter int
}

func (p *fakePacer) Wait(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.waits == nil {
		p.waits = make(map[string]int)
	}
	if p.failAfter > 0 && p.waits[key] >= p.failAfter {
		return context.Canceled
	}
	p.waits[key]++
	return nil
}

func (p *fakePacer) Done(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done == nil {
		p.done = make(map[string]int)
	}
	p.done[key]++
}

func (p *fakePacer) Forget(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forgotten = append(p.forgotten, key)
}

func (p *fakePacer) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits[key]
}

func (p *fakePacer) doneCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done[key]
}

func (p *fakePacer) forgottenKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.forgotten...)
}

// slowSource takes latency to answer each page and records when each request started
// and finished.
type slowSource struct {
	mu      sync.Mutex
	latency time.Duration
	starts  []time.Time
	ends    []time.Time
}

func (s *slowSource) ListPage(ctx context.Context, _ harvest.Query, token string) (harvest.Page, error) {
	s.mu.Lock()
	s.starts = append(s.starts, time.Now())
	n := len(s.starts)
	s.mu.Unlock()

	select {
	case <-time.After(s.latency):
	case <-ctx.Done():
		return harvest.Page{}, ctx.Err()
	}

	s.mu.Lock()
	s.ends = append(s.ends, time.Now())
	s.mu.Unlock()
	return harvest.Page{
		Items:         items(fmt.Sprintf("item-%d", n)),
		NextPageToken: fmt.Sprintf("%s+%d", token, n),
	}, nil
}

func (s *slowSource) ListCategories(context.Context) ([]harvest.Category, error) {
	return nil, nil
}

func (s *slowSource) timings() ([]time.Time, []time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.starts...), append([]time.Time(nil), s.ends...)
}

func items(idList ...string) []harvest.RawContentItem {
	out := make([]harvest.RawContentItem, 0, len(idList))
	for _, id := range idList {
		out = append(out, harvest.RawContentItem{ID: id})
	}
	return out
}

func ids(in []harvest.RawContentItem) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		out = append(out, item.ID)
	}
	return out
}
