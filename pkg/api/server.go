// Package api serves validation results from the run archive over HTTP,
// together with the Prometheus metrics of the process.
//
// Routes:
//
//	GET /metrics                        Prometheus exposition (no auth)
//	GET /api/v1/health
//	GET /api/v1/summary[?run=<id>]      latest or given run
//	GET /api/v1/runs                    run ids, newest first
//	GET /api/v1/results?run=&offset=&limit=
//	GET /api/v1/truth/{packetID}
//
// When an API key is configured every /api/v1 route requires X-API-Key.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const shutdownTimeout = 5 * time.Second

// Addr returns the listen address.
func (c ServerConfig) Addr() string {
	return net.JoinHostPort(c.Bind, strconv.Itoa(c.Port))
}

// Router builds the HTTP handler. gatherer backs /metrics; nil uses the
// default Prometheus gatherer.
func (s *Server) Router(gatherer prometheus.Gatherer) http.Handler {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	metrics := s.metrics

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Prometheus metrics endpoint (unprotected for scraping)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		if s.config.APIKey != "" {
			r.Use(metrics.InstrumentAuthMiddleware(apiKeyMiddleware(s.config.APIKey)))
		}

		r.Get("/health", metrics.InstrumentHandler("GET", "/api/v1/health", s.handleHealth))
		r.Get("/summary", metrics.InstrumentHandler("GET", "/api/v1/summary", s.handleSummary))
		r.Get("/runs", metrics.InstrumentHandler("GET", "/api/v1/runs", s.handleRuns))
		r.Get("/results", metrics.InstrumentHandler("GET", "/api/v1/results", s.handleResults))
		r.Get("/truth/{packetID}", metrics.InstrumentHandler("GET", "/api/v1/truth/{packetID}", s.handleTruth))
	})

	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, gatherer prometheus.Gatherer) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, ln, gatherer)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener, gatherer prometheus.Gatherer) error {
	srv := &http.Server{
		Handler:           s.Router(gatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server listening",
			zap.String("addr", ln.Addr().String()),
			zap.Bool("auth", s.config.APIKey != ""))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down status server: %w", err)
	}
	s.logger.Info("status server stopped")
	return nil
}
