// Package server exposes governance state over HTTP for diagnostics.
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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pario-ai/relay/pkg/governor"
	"github.com/pario-ai/relay/pkg/models"
)

// Status is the body of GET /status.
type Status struct {
	Version   string              `json:"version"`
	Rate      models.RateStatus   `json:"rate"`
	Cache     models.CacheStats   `json:"cache"`
	Usage     models.UsageSummary `json:"usage"`
	Budget    models.BudgetStatus `json:"budget"`
	Warning   string              `json:"budget_warning,omitempty"`
	Timestamp time.Time           `json:"timestamp"`
}

// Server serves /health, /status and /metrics.
type Server struct {
	listen  string
	gov     *governor.Governor
	gather  prometheus.Gatherer
	version string
	logger  *slog.Logger
	router  chi.Router
}

// New creates a Server. gather may be nil to omit /metrics.
func New(listen string, gov *governor.Governor, gather prometheus.Gatherer, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		listen:  listen,
		gov:     gov,
		gather:  gather,
		version: version,
		logger:  logger.With(slog.String("component", "status")),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/status", s.handleStatus)
	if s.gather != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	}
	return r
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	t := s.gov.Tracker()
	body := Status{
		Version:   s.version,
		Rate:      s.gov.Limiter().Status(),
		Cache:     s.gov.Cache().Stats(),
		Usage:     t.Summary(),
		Budget:    t.BudgetStatus(),
		Warning:   t.BudgetWarning(),
		Timestamp: time.Now().UTC(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
		)
	})
}

// ListenAndServe starts the status server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.listen,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening", slog.String("addr", s.listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
