// Package api wires the HTTP control plane: job submission and status,
// cancellation, dead letter queue management, handler discovery, and
// health. Handlers are thin adapters over the engine; all queue
// semantics live below this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/imsks/pulse"
	"github.com/imsks/pulse/dlq"
	"github.com/imsks/pulse/engine"
	"github.com/imsks/pulse/job"
	"github.com/imsks/pulse/ratelimit"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// API wires all HTTP handlers for the pulse control plane.
type API struct {
	eng      *engine.Engine
	dlq      *dlq.Service
	limiter  *ratelimit.Limiter
	registry *job.Registry
	pinger   Pinger
	logger   *slog.Logger
}

// Option configures the API.
type Option func(*API)

// WithLimiter attaches the distributed admission rate limiter. Without
// one, submissions are not rate limited.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(a *API) { a.limiter = l }
}

// WithRegistry attaches a handler registry so /v1/handlers can report
// the registered job types. Without one the route returns an empty list.
func WithRegistry(r *job.Registry) Option {
	return func(a *API) { a.registry = r }
}

// WithPinger attaches a store health probe for /v1/health.
func WithPinger(p Pinger) Option {
	return func(a *API) { a.pinger = p }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *API) { a.logger = l }
}

// New creates an API from an Engine and DLQ service.
func New(eng *engine.Engine, dlqSvc *dlq.Service, opts ...Option) *API {
	a := &API{eng: eng, dlq: dlqSvc, logger: slog.Default()}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", a.submitJob)
		r.Get("/jobs/{jobID}", a.getJob)
		r.Post("/jobs/{jobID}/cancel", a.cancelJob)
		r.Get("/jobs/counts", a.jobCounts)

		r.Get("/dlq", a.listDLQ)
		r.Get("/dlq/count", a.dlqCount)
		r.Get("/dlq/{entryID}", a.getDLQ)
		r.Post("/dlq/{entryID}/replay", a.replayDLQ)
		r.Post("/dlq/purge", a.purgeDLQ)

		r.Get("/handlers", a.listHandlers)
		r.Get("/health", a.health)
	})
	return r
}

// errorResponse is the uniform JSON error envelope.
type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encode response", slog.String("error", err.Error()))
	}
}

// writeError maps sentinel errors to HTTP statuses and shapes the body.
func (a *API) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pulse.ErrInvalidJob):
		status = http.StatusBadRequest
	case errors.Is(err, pulse.ErrJobNotFound),
		errors.Is(err, pulse.ErrDLQNotFound):
		status = http.StatusNotFound
	case errors.Is(err, pulse.ErrInvalidState):
		status = http.StatusConflict
	case errors.Is(err, pulse.ErrRateLimited):
		status = http.StatusTooManyRequests
	case errors.Is(err, pulse.ErrStoreUnavailable):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		a.logger.Error("request failed", slog.String("error", err.Error()))
	}
	a.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func defaultLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return 100
	}
	return limit
}
