// 文件路径: internal/api/router.go
// 模块说明: 常驻模式的 HTTP 路由：健康检查、Prometheus 指标、最近一次生成的配置与报告。
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/creamcroissant/clashforge/internal/api/handler"
	"github.com/creamcroissant/clashforge/internal/api/middleware"
	"github.com/creamcroissant/clashforge/internal/cache"
	"github.com/creamcroissant/clashforge/internal/config"
)

const (
	artifactRateLimit  = 120
	artifactRateWindow = time.Minute
)

// Deps are the collaborators the router serves from.
type Deps struct {
	Artifacts cache.Store
	Status    handler.StatusFunc
	// Registry backs /metrics and the HTTP collectors. Defaults to the global registry.
	Registry *prometheus.Registry
}

// NewRouter wires the watch-mode endpoints.
func NewRouter(logger *slog.Logger, deps Deps, metricsCfg config.MetricsConfig) http.Handler {
	if deps.Artifacts == nil {
		panic("router requires an artifact store")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if deps.Registry != nil {
		registerer, gatherer = deps.Registry, deps.Registry
	}

	r := chi.NewRouter()
	r.Use(
		chiMiddleware.RequestID,
		chiMiddleware.RealIP,
	)
	if metricsCfg.Enabled {
		mCfg := middleware.DefaultMetricsConfig()
		if metricsCfg.Namespace != "" {
			mCfg.Namespace = metricsCfg.Namespace
		}
		mCfg.Registerer = registerer
		r.Use(middleware.NewMetrics(mCfg).Middleware)
	}
	r.Use(
		middleware.StructuredLogger(middleware.LoggingConfig{
			Logger:        logger,
			SlowThreshold: 500 * time.Millisecond,
			SkipPaths:     []string{"/healthz", "/metrics"},
		}),
		chiMiddleware.Recoverer,
	)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		handler.RespondJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"ts":     time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	if metricsCfg.Enabled {
		r.With(middleware.BearerGuard(metricsCfg.Token)).
			Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	artifacts := handler.NewArtifactHandler(deps.Artifacts, deps.Status)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(middleware.RateLimitConfig{
			Limit:  artifactRateLimit,
			Window: artifactRateWindow,
		}))
		r.Get("/config", artifacts.Config)
		r.Head("/config", artifacts.Config)
		r.Get("/report", artifacts.Report)
		r.Head("/report", artifacts.Report)
		r.Get("/status", artifacts.Status)
	})

	return r
}
