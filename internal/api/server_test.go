package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkaudit/internal/audit"
	"github.com/JakeFAU/linkaudit/internal/auditor"
	"github.com/JakeFAU/linkaudit/internal/source"
	"github.com/JakeFAU/linkaudit/internal/storage/memory"
	"github.com/JakeFAU/linkaudit/internal/verify"
)

type testEnv struct {
	server  *Server
	store   *memory.RunStore
	auditor *auditor.Auditor
	release chan struct{}
}

// newTestEnv builds a server whose prober blocks on hold.example until
// release is closed and answers 200 for every other URL.
func newTestEnv(t *testing.T, cfg Config, src audit.BookmarkSource) *testEnv {
	t.Helper()
	release := make(chan struct{})
	prober := audit.ProberFunc(func(ctx context.Context, rawURL string) audit.ProbeResult {
		if strings.Contains(rawURL, "hold.example") {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
		return audit.ProbeResult{Reachable: true, StatusCode: 200}
	})
	store := memory.NewRunStore()
	aud := auditor.New(
		verify.New(prober, verify.Config{Timeout: 5 * time.Second}),
		auditor.Config{MaxConcurrency: 1},
		auditor.Dependencies{Store: store},
		zap.NewNop(),
	)
	return &testEnv{
		server:  NewServer(aud, store, src, cfg, zap.NewNop()),
		store:   store,
		auditor: aud,
		release: release,
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (e *testEnv) waitFinished(t *testing.T, runID string) {
	t.Helper()
	run, ok := e.auditor.Current()
	require.True(t, ok)
	require.Equal(t, runID, run.ID())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, _ = run.Wait(ctx)
	require.True(t, run.Finished())
}

func TestHealthAndReady(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	rec := env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStartAuditWithInlineBookmarks(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	rec := env.do(t, http.MethodPost, "/v1/audits",
		`{"bookmarks":[{"title":"a","url":"http://a.example"},{"title":"f","url":"ftp://f.example"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	started := decode[map[string]string](t, rec)
	runID := started["run_id"]
	require.NotEmpty(t, runID)
	env.waitFinished(t, runID)

	rec = env.do(t, http.MethodGet, "/v1/audits/"+runID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[runDTO](t, rec)
	require.Equal(t, audit.RunStatusCompleted, got.Status)
	require.Equal(t, 2, got.Progress.Processed)

	rec = env.do(t, http.MethodGet, "/v1/audits/"+runID+"/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rep := decode[audit.Report](t, rec)
	require.Equal(t, 1, rep.Verified)
	require.Equal(t, 1, rep.Ignored)

	rec = env.do(t, http.MethodGet, "/v1/audits/"+runID+"/report?format=markdown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/markdown")
	require.Contains(t, rec.Body.String(), "ftp://f.example")

	rec = env.do(t, http.MethodGet, "/v1/audits?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[map[string][]runDTO](t, rec)
	require.Len(t, list["runs"], 1)
}

func TestStartAuditWithUploadedContent(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	body, err := json.Marshal(map[string]string{
		"format":  "netscape",
		"content": `<DL><p><DT><A HREF="http://a.example">A</A></DL>`,
	})
	require.NoError(t, err)
	rec := env.do(t, http.MethodPost, "/v1/audits", string(body))
	require.Equal(t, http.StatusAccepted, rec.Code)
	env.waitFinished(t, decode[map[string]string](t, rec)["run_id"])
}

func TestStartAuditFromConfiguredSource(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, source.Static{{Title: "a", URL: "http://a.example"}})
	rec := env.do(t, http.MethodPost, "/v1/audits", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	failing := newTestEnv(t, Config{}, failingSource{})
	rec = failing.do(t, http.MethodPost, "/v1/audits", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStartAuditRejectsBadInput(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	for _, body := range []string{"", "{invalid", `{"content":"x","format":"pdf"}`, `{}`} {
		rec := env.do(t, http.MethodPost, "/v1/audits", body)
		require.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
}

func TestRunControlEndpoints(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	rec := env.do(t, http.MethodPost, "/v1/audits/current/pause", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/audits",
		`{"bookmarks":[{"title":"h","url":"http://hold.example"},{"title":"b","url":"http://b.example"}]}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	runID := decode[map[string]string](t, rec)["run_id"]

	rec = env.do(t, http.MethodPost, "/v1/audits/current/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, audit.RunStatusPaused, decode[runDTO](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/v1/audits/current", "")
	require.Equal(t, http.StatusOK, rec.Code)
	live := decode[runDTO](t, rec)
	require.Equal(t, runID, live.RunID)
	require.NotNil(t, live.Scheduler)
	require.True(t, live.Scheduler.Paused)

	rec = env.do(t, http.MethodGet, "/v1/audits/"+runID+"/report", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/audits/current/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, "/v1/audits/current/abort", "")
	require.Equal(t, http.StatusOK, rec.Code)
	env.waitFinished(t, runID)

	record, err := env.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.Equal(t, audit.RunStatusAborted, record.Status)
}

func TestGetAuditNotFound(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	rec := env.do(t, http.MethodGet, "/v1/audits/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/audits/missing/report", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/audits/missing/report?format=pdf", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/audits/current", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListAuditsPagination(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{}, nil)
	rec := env.do(t, http.MethodGet, "/v1/audits?limit=0", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/v1/audits?offset=-1", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{AuthEnabled: true, APIKey: "secret"}, nil)
	rec := env.do(t, http.MethodGet, "/v1/audits", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/v1/audits", nil)
	req.Header.Set("X-API-Key", "secret")
	rec = httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/v1/audits?api_key=secret", "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Probes stay open.
	rec = env.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReportsStoreFailure(t *testing.T) {
	t.Parallel()

	s := NewServer(nil, pingFailStore{}, nil, Config{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/v1/audits", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	s := &Server{logger: zap.NewNop()}
	h := s.recoverMiddleware(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

type failingSource struct{}

func (failingSource) GetTree(context.Context) ([]*audit.BookmarkNode, error) {
	return nil, errors.New("file vanished")
}

type pingFailStore struct {
	audit.RunStore
}

func (pingFailStore) Ping(context.Context) error {
	return errors.New("db down")
}
