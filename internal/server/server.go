// Package server provides the HTTP API for ruiji.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hyperjump/ruiji/internal/config"
	"github.com/hyperjump/ruiji/internal/search"
	"github.com/hyperjump/ruiji/internal/storage"
	"github.com/hyperjump/ruiji/internal/watcher"
	"github.com/hyperjump/ruiji/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Server is the HTTP server for the ruiji API.
type Server struct {
	engine   *search.Engine
	history  storage.History
	config   *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *Metrics
	server   *http.Server
	watch    *watcher.Watcher
}

// NewServer creates a server. history may be nil, which disables the builds endpoint.
func NewServer(
	engine *search.Engine,
	history storage.History,
	cfg *config.Config,
	logger *zap.Logger,
) *Server {
	logger = utils.OrNop(logger)
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Server{
		engine:   engine,
		history:  history,
		config:   cfg,
		logger:   logger,
		registry: reg,
		metrics:  NewMetrics(reg),
	}
}

// Router returns the API routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(middleware.Compress(5))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/query", s.handleQuery)
		r.Post("/estimate", s.handleEstimate)
		r.Get("/find", s.handleFind)
		r.Get("/status", s.handleStatus)
		r.Get("/builds", s.handleBuilds)
	})
	return r
}

// WatchIndex invalidates the engine's artifact cache whenever the index directory is
// rebuilt. It is a no-op when the engine has no cache.
func (s *Server) WatchIndex(ctx context.Context) error {
	cache := s.engine.Cache()
	if cache == nil {
		return nil
	}
	s.watch = watcher.NewWatcher([]string{s.engine.IndexDir()}, func(dir string) {
		cache.Invalidate(dir)
		s.metrics.IndexReloads.Inc()
		s.logger.Info("index changed, cache invalidated", zap.String("dir", dir))
	}, watcher.WithLogger(s.logger))
	return s.watch.Start(ctx)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(ctx context.Context) error {
	if err := s.WatchIndex(ctx); err != nil {
		s.logger.Warn("index watcher not started", zap.Error(err))
	}
	addr := s.config.Server.Addr()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("Starting server", zap.String("addr", addr), zap.String("index_dir", s.engine.IndexDir()))
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.watch != nil {
		s.watch.Stop()
	}
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
