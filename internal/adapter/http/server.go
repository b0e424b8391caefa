package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/couchcryptid/quake-feed-service/internal/pipeline"
	"github.com/couchcryptid/quake-feed-service/internal/ratelimit"
	"github.com/couchcryptid/quake-feed-service/internal/state"
	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Scheduler is the part of pipeline.Scheduler the API drives.
type Scheduler interface {
	Refresh(ctx context.Context) pipeline.Result
	ResetLimit(ctx context.Context) ratelimit.Status
}

// ReadinessChecks reports ready only when every check passes. The first
// failure is returned.
type ReadinessChecks []sharedobs.ReadinessChecker

func (c ReadinessChecks) CheckReadiness(ctx context.Context) error {
	for _, check := range c {
		if err := check.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Server exposes the renderer API alongside health, readiness, and metrics
// endpoints.
type Server struct {
	httpServer *http.Server
	state      *state.State
	scheduler  Scheduler
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and the
// /api routes.
func NewServer(addr string, st *state.State, sched Scheduler, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	r := mux.NewRouter()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      r,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		state:     st,
		scheduler: sched,
		logger:    logger,
	}

	r.HandleFunc("/healthz", sharedobs.LivenessHandler()).Methods(http.MethodGet)
	r.HandleFunc("/readyz", sharedobs.ReadinessHandler(ready)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(s.logRequests)
	api.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	api.HandleFunc("/selected", s.handleSelected).Methods(http.MethodGet)
	api.HandleFunc("/selected", s.handleClearSelection).Methods(http.MethodDelete)
	api.HandleFunc("/selected/{id}", s.handleSelect).Methods(http.MethodPut)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/ratelimit/reset", s.handleReset).Methods(http.MethodPost)
	api.HandleFunc("/view", s.handleView).Methods(http.MethodGet)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}

type statusResponse struct {
	Remaining       int  `json:"remaining"`
	Limit           int  `json:"limit"`
	CooldownSeconds int  `json:"cooldown_seconds"`
	Denied          bool `json:"denied"`
}

func toStatusResponse(st ratelimit.Status) statusResponse {
	return statusResponse{
		Remaining:       st.Remaining,
		Limit:           st.Limit,
		CooldownSeconds: st.CooldownSeconds(),
		Denied:          st.Denied,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	sharedobs.WriteJSON(w, status, errorResponse{Error: msg})
}

func retryAfter(w http.ResponseWriter, st ratelimit.Status) {
	if secs := st.CooldownSeconds(); secs > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
}
