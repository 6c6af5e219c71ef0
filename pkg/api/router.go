// Package api serves the daemon's admin HTTP surface: health, metrics, the
// resource registry, command submission, deletion graphs and a WebSocket
// relay of status events.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/pockitect/pockitect/pkg/bus"
	"github.com/pockitect/pockitect/pkg/confirm"
	"github.com/pockitect/pockitect/pkg/engine"
	"github.com/pockitect/pockitect/pkg/registry"
)

// Registry lists tracked resources.
type Registry interface {
	GetActive(f registry.Filter) []engine.TrackedResource
	LastUpdated() time.Time
}

// GraphBuilder expands seed resources into a dependency graph.
type GraphBuilder interface {
	BuildRefs(ctx context.Context, seed []engine.ResourceRef) (*engine.DependencyGraph, error)
}

// TaskLister reports confirmation tasks.
type TaskLister interface {
	Tasks() []confirm.Task
}

// Server holds shared state for all API handlers.
type Server struct {
	Bus      bus.Bus
	Registry Registry
	Graph    GraphBuilder
	Tasks    TaskLister
	Metrics  http.Handler
	Logger   zerolog.Logger
}

// NewRouter builds the chi router with every route.
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.Health)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/resources", s.ListResources)
		r.Post("/commands", s.SubmitCommand)
		r.Get("/graph", s.DeletionGraph)
		r.Get("/confirmations", s.ListConfirmations)
		r.Get("/status/stream", s.StreamStatus)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

// Serve runs the router on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("admin API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
