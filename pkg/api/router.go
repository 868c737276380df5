// Package api provides the PhotoGate HTTP server and routing.
package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/photogate/photogate/internal/logger"
	"github.com/photogate/photogate/pkg/admission"
	"github.com/photogate/photogate/pkg/api/handlers"
	"github.com/photogate/photogate/pkg/record/store"
)

// RouterDeps carries everything the router wires into handlers.
type RouterDeps struct {
	Service *admission.Service
	Records store.Store

	// Metrics serves GET /metrics when set, and receives upload counts.
	Metrics MetricsBackend

	// Development enables stack traces in error responses.
	Development bool

	// StaticDir, when set, serves local blobs under /uploads/.
	StaticDir string
}

// MetricsBackend is the subset of the metrics package the router needs.
type MetricsBackend interface {
	handlers.UploadMetrics
	Handler() http.Handler
	ObserveHTTP(method string, statusCode int, duration time.Duration)
}

// NewRouter creates and configures the chi router with all middleware
// and routes.
//
// Routes:
//   - GET  /health - Liveness probe
//   - GET  /health/ready - Readiness probe
//   - POST /api/images - Multipart upload batch
//   - GET  /api/images - Paginated listing
//   - GET  /api/images/{id} - Single record
//   - DELETE /api/images/{id} - Delete record and blobs
//   - POST /api/images/{id}/process - Queue a (re)processing run
//   - GET  /metrics - Prometheus scrape endpoint (when enabled)
//   - GET  /uploads/* - Local blob files (local storage only)
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(deps.Metrics))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	healthHandler := handlers.NewHealthHandler(deps.Records)
	r.Route("/health", func(r chi.Router) {
		r.Get("/", healthHandler.Liveness)
		r.Get("/ready", healthHandler.Readiness)
	})

	var uploadMetrics handlers.UploadMetrics
	if deps.Metrics != nil {
		uploadMetrics = deps.Metrics
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	imagesHandler := handlers.NewImagesHandler(deps.Service, uploadMetrics, deps.Development)
	r.Route("/api/images", func(r chi.Router) {
		r.Post("/", imagesHandler.Upload)
		r.Get("/", imagesHandler.List)
		r.Get("/{id}", imagesHandler.Get)
		r.Delete("/{id}", imagesHandler.Delete)
		r.Post("/{id}/process", imagesHandler.Reprocess)
	})

	if deps.StaticDir != "" {
		fs := http.StripPrefix("/uploads/", http.FileServer(http.Dir(deps.StaticDir)))
		r.Get("/uploads/*", fs.ServeHTTP)
	}

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		handlers.NotFound(w, "Route not found", deps.Development)
	})

	return r
}

// requestLogger logs each request and feeds the HTTP metrics. Health and
// metrics probes log at DEBUG to keep scrape noise out of the logs.
func requestLogger(metrics MetricsBackend) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := middleware.GetReqID(r.Context())

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			duration := time.Since(start)
			if metrics != nil {
				metrics.ObserveHTTP(r.Method, ww.Status(), duration)
			}

			logArgs := []any{
				"request_id", requestID,
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", duration.String(),
			}
			if isProbePath(r.URL.Path) {
				logger.Debug("request completed", logArgs...)
			} else {
				logger.Info("request completed", logArgs...)
			}
		})
	}
}

func isProbePath(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/") || path == "/metrics"
}
