package colly

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bling0390/vivbliss/internal/catalog"
	"github.com/bling0390/vivbliss/internal/clock/system"
	"github.com/bling0390/vivbliss/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Crawler.AllowedDomains = nil
	cfg.Crawler.DelaySeconds = 0
	return cfg
}

func TestFetchOK(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<html><body><h1>Catalog</h1></body></html>`))
	}))
	defer server.Close()

	fetcher, err := New(testConfig(t), system.New(), zap.NewNop())
	require.NoError(t, err)

	resp, err := fetcher.Fetch(context.Background(), catalog.FetchRequest{URL: server.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "Catalog")
	require.False(t, resp.UsedHeadless)
}

func TestFetchServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	fetcher, err := New(testConfig(t), system.New(), zap.NewNop())
	require.NoError(t, err)

	_, err = fetcher.Fetch(context.Background(), catalog.FetchRequest{URL: server.URL})
	require.Error(t, err)
}

func TestFetchSameURLTwice(t *testing.T) {
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	fetcher, err := New(testConfig(t), system.New(), zap.NewNop())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		resp, err := fetcher.Fetch(context.Background(), catalog.FetchRequest{URL: server.URL})
		require.NoError(t, err)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	require.Equal(t, 2, hits)
}
