package gcs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func newTestStore(t *testing.T, handler http.Handler) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := New(context.Background(), Config{Bucket: "harvest-archive"},
		option.WithEndpoint(server.URL),
		option.WithoutAuthentication(),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestPutObjectUploadsToBucket(t *testing.T) {
	t.Parallel()

	objectName := "runs/popular/run-1/abc.json"
	payload := `[{"id":"v1"}]`

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/harvest-archive/o")
		assert.Equal(t, objectName, r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), payload)
		assert.Contains(t, string(body), "application/json")

		fmt.Fprintln(w, `{"name": "`+objectName+`", "bucket": "harvest-archive"}`)
	}))

	uri, err := store.PutObject(context.Background(), objectName, "application/json", strings.NewReader(payload))

	require.NoError(t, err)
	require.Equal(t, "gs://harvest-archive/"+objectName, uri)
}

func TestPutObjectReturnsUploadError(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := store.PutObject(context.Background(), "runs/x.json", "application/json", strings.NewReader("[]"))
	require.Error(t, err)
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store := newTestStore(t, http.NotFoundHandler())
	_, err := store.PutObject(context.Background(), " ", "", strings.NewReader("[]"))
	require.ErrorContains(t, err, "path is required")
}

func TestConstructorsValidateConfig(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{})
	require.ErrorContains(t, err, "bucket name is required")

	_, err = NewWithClient(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "storage client is required")
}
