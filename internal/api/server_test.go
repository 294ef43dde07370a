package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/catalog"
	"github.com/bling0390/vivbliss/internal/clock/system"
	"github.com/bling0390/vivbliss/internal/schedule"
)

func newTestServer(t *testing.T) (*Server, *schedule.Scheduler) {
	t.Helper()
	logger := zap.NewNop()
	registry := schedule.NewRegistry(system.New(), logger)
	queue := schedule.NewWorkQueue(logger)
	scheduler := schedule.NewScheduler(registry, queue, logger)
	return NewServer(scheduler, logger), scheduler
}

func doRequest(t *testing.T, server *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoints(t *testing.T) {
	server, _ := newTestServer(t)

	rec := doRequest(t, server, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = doRequest(t, server, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	server, _ := newTestServer(t)
	rec := doRequest(t, server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStatsEndpoint(t *testing.T) {
	server, scheduler := newTestServer(t)
	scheduler.DiscoverDirectory("/electronics", 1, "")
	scheduler.AddProductWork("fp-1", "/electronics", catalog.ProductPage{URL: "https://x/p1", DirectoryPath: "/electronics"})

	rec := doRequest(t, server, http.MethodGet, "/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats catalog.SchedulerStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.True(t, stats.Enabled)
	require.Equal(t, 1, stats.Directories.DirectoriesDiscovered)
	require.Equal(t, 1, stats.Queue.Total)
}

func TestProgressEndpoints(t *testing.T) {
	server, scheduler := newTestServer(t)
	scheduler.DiscoverDirectory("/books", 1, "")
	scheduler.DiscoverProduct("fp-b1", "/books")
	scheduler.ReportCompleted("fp-b1")

	rec := doRequest(t, server, http.MethodGet, "/v1/progress", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all struct {
		Directories []catalog.DirectoryProgress `json:"directories"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all.Directories, 1)

	rec = doRequest(t, server, http.MethodGet, "/v1/progress?path=/books", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var one catalog.DirectoryProgress
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &one))
	require.Equal(t, catalog.DirectoryCompleted, one.Status)

	rec = doRequest(t, server, http.MethodGet, "/v1/progress?path=/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSchedulerToggleEndpoints(t *testing.T) {
	server, scheduler := newTestServer(t)

	rec := doRequest(t, server, http.MethodPost, "/v1/scheduler/disable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, scheduler.Enabled())

	rec = doRequest(t, server, http.MethodPost, "/v1/scheduler/enable", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, scheduler.Enabled())

	rec = doRequest(t, server, http.MethodGet, "/v1/scheduler/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "priority_enabled")
}

func TestCloseDirectoryEndpoint(t *testing.T) {
	server, scheduler := newTestServer(t)
	scheduler.DiscoverDirectory("/empty", 1, "")

	rec := doRequest(t, server, http.MethodPost, "/v1/directories/close", `{"path":"/empty"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	progress, ok := scheduler.Progress("/empty")
	require.True(t, ok)
	require.Equal(t, catalog.DirectoryCompleted, progress.Status)

	rec = doRequest(t, server, http.MethodPost, "/v1/directories/close", `{"path":"/unknown"}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, server, http.MethodPost, "/v1/directories/close", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
