package gcs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T, handler http.Handler, prefix string) *BlobStore {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store, err := Open(context.Background(), Config{Bucket: "reports", Prefix: prefix, Endpoint: server.URL})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})
	return store
}

func TestPutObjectUploadsWithPrefix(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "/upload/storage/v1/b/reports/o")
		assert.Equal(t, "linkaudit/runs/run-1/report.md", r.URL.Query().Get("name"))

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.Contains(t, string(body), "# Bookmark audit")

		fmt.Fprintln(w, `{"name":"linkaudit/runs/run-1/report.md","bucket":"reports"}`)
	})

	store := newTestStore(t, handler, "/linkaudit/")
	uri, err := store.PutObject(context.Background(), "runs/run-1/report.md", "text/markdown", bytes.NewBufferString("# Bookmark audit"))
	require.NoError(t, err)
	require.Equal(t, "gs://reports/linkaudit/runs/run-1/report.md", uri)
}

func TestPutObjectSurfacesServerErrors(t *testing.T) {
	t.Parallel()

	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	store := newTestStore(t, handler, "")
	_, err := store.PutObject(context.Background(), "report.json", "application/json", bytes.NewBufferString("{}"))
	require.Error(t, err)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)

	store := newTestStore(t, http.NotFoundHandler(), "")
	_, err = New(store.client, Config{})
	require.Error(t, err)

	_, err = store.PutObject(context.Background(), "", "", bytes.NewBufferString("x"))
	require.Error(t, err)
}
