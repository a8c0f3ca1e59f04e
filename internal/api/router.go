// Package api implements the role onboarding pipeline's HTTP control
// surface (spec §4.5): push, status, batch push/status/retry, health, and
// the read-through company/role taxonomy lookups. Every route is mounted
// under /api/v1/pipeline (/health is also mounted at the root) and answers
// in the {"detail": {...}} error envelope on failure.
package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/draup/onboarding-pipeline/internal/metrics"
	"github.com/draup/onboarding-pipeline/pkg/docresolve"
	"github.com/draup/onboarding-pipeline/pkg/execution"
	"github.com/draup/onboarding-pipeline/pkg/statusstore"
	"github.com/draup/onboarding-pipeline/pkg/taxonomy"
)

// Server bundles the dependencies every handler needs.
type Server struct {
	engine   execution.Engine
	inline   execution.Engine
	status   *statusstore.Store
	resolver *docresolve.Resolver
	taxonomy *taxonomy.Client
}

// NewServer builds a Server. status may be nil in environments without
// Redis configured; handlers degrade to engine-only status per spec §9.
// inline may be nil: without it, an unreachable engine fails pushes with
// TEMPORAL_ERROR instead of falling back to in-process execution per
// spec §4.4's dual-execution mode.
func NewServer(engine execution.Engine, inline execution.Engine, status *statusstore.Store, resolver *docresolve.Resolver, tax *taxonomy.Client) *Server {
	return &Server{engine: engine, inline: inline, status: status, resolver: resolver, taxonomy: tax}
}

// Router builds the full chi router, instrumented with request logging,
// panic recovery, and OpenTelemetry HTTP tracing.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metricsMiddleware)

	// Kept at bare /health too, for infra (load balancers, k8s probes) that
	// expects an unprefixed health check.
	r.Get("/health", s.handleHealth)

	r.Route("/api/v1/pipeline", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Post("/push", s.handlePush)
		r.Get("/status/{workflow_id}", s.handleStatus)
		r.Post("/push-batch", s.handlePushBatch)
		r.Get("/batch-status/{batch_id}", s.handleBatchStatus)
		r.Post("/retry-failed/{batch_id}", s.handleRetryFailed)
		r.Get("/companies", s.handleCompanies)
		r.Get("/roles/{company}", s.handleRoles)
	})

	return otelhttp.NewHandler(r, "onboarding-pipeline")
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(sw.status)).Inc()
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("api: failed to encode response: %v", err)
	}
}

// errorResponse is the spec §4.5 error envelope.
type errorResponse struct {
	Detail errorDetail `json:"detail"`
}

type errorDetail struct {
	Error       string `json:"error"`
	Message     string `json:"message"`
	Recoverable bool   `json:"recoverable"`
}

// healthResponse is the body returned by GET /health.
type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
	Timestamp  time.Time         `json:"timestamp"`
}
