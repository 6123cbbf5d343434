// Package server exposes the activity resolver over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/m-mizutani/actid/pkg/metrics"
	"github.com/m-mizutani/actid/pkg/model"
	"github.com/m-mizutani/actid/pkg/utils/logging"
)

const maxBodyBytes = 10 << 20

// UseCase is the resolver surface served over HTTP
type UseCase interface {
	ResolveActivity(ctx context.Context, activity model.Activity) (*model.Resolution, error)
	ResolveTripPlan(ctx context.Context, plan model.TripPlan) (model.TripPlan, *model.PlanReport, error)
	Stats(ctx context.Context) (*model.Stats, error)
	Cleanup(ctx context.Context, daysOld int) (int, error)
	Rebuild(ctx context.Context) error
	Get(ctx context.Context, id model.ActivityID) (*model.ActivityRecord, error)
}

type Server struct {
	uc      UseCase
	metrics *metrics.Metrics
	logger  *slog.Logger
	router  *chi.Mux
}

type Option func(*Server)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func New(uc UseCase, opts ...Option) *Server {
	s := &Server{
		uc:     uc,
		logger: logging.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/activities/resolve", s.resolveActivity)
		r.Get("/activities/{id}", s.getActivity)
		r.Post("/process-activities", s.processActivities)
		r.Get("/activity-stats", s.activityStats)
		r.Delete("/cleanup-activities/{days_old}", s.cleanupActivities)
		r.Post("/rebuild-index", s.rebuildIndex)
	})

	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// accessLog attaches a request scoped logger to the context and logs the
// outcome of every request
func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		logger := s.logger.With("request_id", middleware.GetReqID(r.Context()))
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r.WithContext(logging.With(r.Context(), logger)))

		logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type envelope struct {
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Report  any    `json:"report,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain errors to status codes
func writeError(ctx context.Context, w http.ResponseWriter, message string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, model.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, model.ErrNotFound):
		status = http.StatusNotFound
	}

	if status == http.StatusInternalServerError {
		logging.From(ctx).Error(message, "error", err)
	}
	writeJSON(w, status, envelope{Message: message, Error: err.Error()})
}

// decodeBody decodes a JSON object, keeping numbers verbatim so unknown
// fields pass through unchanged
func decodeBody(w http.ResponseWriter, r *http.Request) (map[string]any, error) {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, errors.Join(model.ErrValidation, err)
	}
	if body == nil {
		return nil, errors.Join(model.ErrValidation, errors.New("request body must be a JSON object"))
	}
	return body, nil
}
