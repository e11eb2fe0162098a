package app

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/JakeFAU/aggtube-harvester/internal/config"
	"github.com/JakeFAU/aggtube-harvester/internal/harvest"
	"github.com/JakeFAU/aggtube-harvester/internal/pipeline"
	memoryindex "github.com/JakeFAU/aggtube-harvester/internal/searchindex/memory"
	memorystorage "github.com/JakeFAU/aggtube-harvester/internal/storage/memory"
)

const trendingPage = `{
  "items": [{
    "id": "v1",
    "snippet": {"title": "Live set", "channelTitle": "Some Channel", "categoryId": "10",
                "publishedAt": "2024-03-01T12:00:00Z", "tags": ["music", "live"]},
    "statistics": {"viewCount": "1000", "likeCount": "10", "dislikeCount": "2"}
  }]
}`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	return config.Config{
		Source: config.SourceConfig{RegionCode: "US", PageSize: 50},
		Crawl:  config.CrawlConfig{MaxScrolls: 2, TopTags: 10, FeedbackMaxScrolls: 1},
		Index: config.IndexConfig{
			Backend:     config.BackendMemory,
			Bootstrap:   true,
			Content:     config.IndexTarget{Name: "youtube"},
			Tags:        config.IndexTarget{Name: "tags"},
			Aggregation: config.AggregationConfig{Index: "youtube", Field: "tags"},
		},
		Archive: config.ArchiveConfig{Backend: config.ArchiveMemory, Prefix: "raw"},
	}
}

func fakeYouTube(t *testing.T) []option.ClientOption {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/youtube/v3/videos" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, trendingPage)
	}))
	t.Cleanup(srv.Close)
	return []option.ClientOption{option.WithEndpoint(srv.URL + "/"), option.WithoutAuthentication()}
}

func TestBuildWiresMemoryBackends(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), zap.NewNop(), Options{
		SourceOptions: fakeYouTube(t),
		SkipTelemetry: true,
	})
	require.NoError(t, err)
	defer a.Close(ctx)

	summary, err := a.Pipeline().Run(ctx, harvest.ModePopular, pipeline.DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, harvest.RunSucceeded, summary.Status)
	assert.Equal(t, 1, summary.Items)
	assert.Equal(t, 3, summary.Operations)
	assert.Contains(t, summary.ArchiveURI, "memory://raw/popular/")

	index, ok := a.Index().(*memoryindex.Index)
	require.True(t, ok)
	doc, ok := index.Get("youtube", "v1")
	require.True(t, ok)
	assert.InDelta(t, 5.0, doc["metrics"].(map[string]any)["likeDislikeRatio"], 1e-9)
	assert.Equal(t, 2, index.Count("tags"))

	runs, ok := a.Runs().(*memorystorage.RunStore)
	require.True(t, ok)
	require.Len(t, runs.Runs(), 1)
	assert.Equal(t, summary.RunID, runs.Runs()[0].ID)
}

func TestBuildRejectsBadLocalArchive(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.Archive = config.ArchiveConfig{Backend: config.ArchiveLocal, LocalDir: ""}
	_, err := Build(context.Background(), cfg, nil, Options{SourceOptions: fakeYouTube(t), SkipTelemetry: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "local blob store init failed")
}

func TestBuildFailsOnUnreachableElasticsearch(t *testing.T) {
	t.Parallel()

	cluster := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"type":"security_exception","reason":"missing authentication"},"status":401}`)
	}))
	t.Cleanup(cluster.Close)

	cfg := testConfig(t)
	cfg.Index.Backend = config.BackendElasticsearch
	cfg.Index.Addresses = []string{cluster.URL}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := Build(ctx, cfg, nil, Options{SourceOptions: fakeYouTube(t), SkipTelemetry: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bootstrap indices")
}
