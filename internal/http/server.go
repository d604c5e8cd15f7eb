// Package http serves the RepoRadar JSON API: similarity search, manual
// indexing, health, and Prometheus metrics.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/reporadar/internal/logging"
	"github.com/fyrsmithlabs/reporadar/internal/repository"
	"github.com/fyrsmithlabs/reporadar/internal/vectorstore"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Indexer runs the indexing pipeline for a single repository.
// *indexer.Pipeline implements it.
type Indexer interface {
	IndexSingleRepo(ctx context.Context, owner, name string, force bool) repository.IndexResult
}

// Store is the subset of *vectorstore.Store the handlers read from.
type Store interface {
	GetVectors(ctx context.Context, id uint64) (purpose, stack []float32, ok bool, err error)
	SearchSimilar(ctx context.Context, q vectorstore.SearchQuery) ([]repository.SearchResult, error)
	Stats(ctx context.Context) (vectorstore.Stats, error)
}

// QuotaReporter exposes the last observed GitHub quota. *github.Client
// implements it.
type QuotaReporter interface {
	RateLimitRemaining() (remaining int, ok bool)
}

var _ Store = (*vectorstore.Store)(nil)

// Server provides the HTTP endpoints.
type Server struct {
	echo    *echo.Echo
	indexer Indexer
	store   Store
	quota   QuotaReporter
	logger  *logging.Logger
	config  *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host        string
	Port        int
	CORSOrigins []string

	// Requests per minute per client IP. Zero uses the defaults.
	SearchPerMinute int
	IndexPerMinute  int

	// Registry backs /metrics. nil creates a private registry.
	Registry *prometheus.Registry
}

const (
	defaultSearchPerMinute = 10
	defaultIndexPerMinute  = 5
)

// NewServer creates a new HTTP server. quota may be nil.
func NewServer(idx Indexer, store Store, quota QuotaReporter, logger *logging.Logger, cfg *Config) (*Server, error) {
	if idx == nil {
		return nil, errors.New("indexer cannot be nil")
	}
	if store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "0.0.0.0", Port: 8000}
	}
	if cfg.SearchPerMinute <= 0 {
		cfg.SearchPerMinute = defaultSearchPerMinute
	}
	if cfg.IndexPerMinute <= 0 {
		cfg.IndexPerMinute = defaultIndexPerMinute
	}
	if cfg.Registry == nil {
		cfg.Registry = prometheus.NewRegistry()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})
	if len(cfg.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins:     cfg.CORSOrigins,
			AllowCredentials: true,
		}))
	}
	e.Use(NewPromMetrics(cfg.Registry).Middleware())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())

	s := &Server{
		echo:    e,
		indexer: idx,
		store:   store,
		quota:   quota,
		logger:  logger,
		config:  cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	api := s.echo.Group("/api")
	api.POST("/search", s.handleSearch, perMinuteLimit(s.config.SearchPerMinute))
	api.POST("/index", s.handleIndex, perMinuteLimit(s.config.IndexPerMinute))
	api.GET("/health", s.handleHealth)

	s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.config.Registry, promhttp.HandlerOpts{})))
}

// Echo exposes the router so callers can mount extra routes.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully within
// shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(ctx, "starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
