package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/creamcroissant/clashforge/internal/cache"
	"github.com/creamcroissant/clashforge/internal/config"
	"github.com/creamcroissant/clashforge/internal/pipeline"
)

func newTestRouter(t *testing.T, metrics config.MetricsConfig, status func() any) (http.Handler, cache.Store) {
	t.Helper()
	store := cache.NewStore(cache.Options{})
	router := NewRouter(nil, Deps{
		Artifacts: store,
		Status:    status,
		Registry:  prometheus.NewRegistry(),
	}, metrics)
	return router, store
}

func do(h http.Handler, method, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t, config.MetricsConfig{}, nil)
	rec := do(router, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestArtifactsAndETag(t *testing.T) {
	router, store := newTestRouter(t, config.MetricsConfig{}, nil)

	rec := do(router, http.MethodGet, "/config", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	payload := []byte("proxies: []\n")
	require.NoError(t, store.SetBytes(context.Background(), pipeline.ArtifactConfig, payload, cache.NoExpiration))

	rec = do(router, http.MethodGet, "/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Contains(t, rec.Header().Get("Content-Type"), "yaml")
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))

	rec = do(router, http.MethodGet, "/config", map[string]string{"If-None-Match": etag})
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	rec = do(router, http.MethodHead, "/config", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())

	require.NoError(t, store.SetBytes(context.Background(), pipeline.ArtifactReport, []byte("# total: 1\n"), cache.NoExpiration))
	rec = do(router, http.MethodGet, "/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "# total: 1\n", rec.Body.String())
}

func TestStatus(t *testing.T) {
	router, store := newTestRouter(t, config.MetricsConfig{}, nil)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/status", nil).Code)

	require.NoError(t, store.SetJSON(context.Background(), pipeline.ArtifactSummary, pipeline.Summary{Written: 5}, cache.NoExpiration))
	rec := do(router, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var summary pipeline.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 5, summary.Written)

	router, _ = newTestRouter(t, config.MetricsConfig{}, func() any { return map[string]int{"runs": 3} })
	rec = do(router, http.MethodGet, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"runs":3}`, rec.Body.String())
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t, config.MetricsConfig{Enabled: true, Namespace: "cf", Token: "tok"}, nil)

	do(router, http.MethodGet, "/config", nil)

	assert.Equal(t, http.StatusUnauthorized, do(router, http.MethodGet, "/metrics", nil).Code)
	rec := do(router, http.MethodGet, "/metrics", map[string]string{"Authorization": "Bearer tok"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `cf_http_requests_total{method="GET",route="/config",status="404"} 1`)

	router, _ = newTestRouter(t, config.MetricsConfig{}, nil)
	assert.Equal(t, http.StatusNotFound, do(router, http.MethodGet, "/metrics", nil).Code)
}

func TestRateLimit(t *testing.T) {
	router, _ := newTestRouter(t, config.MetricsConfig{}, nil)
	var last int
	for i := 0; i <= artifactRateLimit; i++ {
		last = do(router, http.MethodGet, "/report", nil).Code
	}
	assert.Equal(t, http.StatusTooManyRequests, last)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/healthz", nil).Code)
}
