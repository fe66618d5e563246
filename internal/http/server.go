// Package http serves the buildbuddy API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildbuddy/internal/catalog"
	"github.com/fyrsmithlabs/buildbuddy/internal/config"
	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
	"github.com/fyrsmithlabs/buildbuddy/internal/speech"
)

// Runner executes one pipeline run. *pipeline.Orchestrator implements it.
type Runner interface {
	RunPipeline(ctx context.Context, req pipeline.Request) (*pipeline.PipelineReport, error)
}

// Deps are the collaborators behind the API. Catalog and Speech are
// optional; their endpoints answer 503 and 400 when unset.
type Deps struct {
	Pipeline Runner
	Catalog  catalog.Searcher
	Speech   speech.Synthesizer
	// Health reports component states for GET /health.
	Health func() map[string]string
}

// Options configure a Server.
type Options struct {
	Server config.ServerConfig
	// RequestTimeout bounds one pipeline run. Zero means no limit beyond the
	// client connection.
	RequestTimeout time.Duration
	Version        string
}

// Server provides HTTP endpoints for buildbuddy.
type Server struct {
	echo    *echo.Echo
	deps    Deps
	opts    Options
	logger  *logging.Logger
	metrics *HTTPMetrics
}

// NewServer creates a new HTTP server.
func NewServer(deps Deps, logger *logging.Logger, opts Options) (*Server, error) {
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("pipeline runner cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if opts.Server.Host == "" {
		opts.Server.Host = "localhost"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		deps:    deps,
		opts:    opts,
		logger:  logger,
		metrics: NewHTTPMetrics(),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.requestContext)
	if len(opts.Server.AllowOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: opts.Server.AllowOrigins,
			AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAccept, echo.HeaderXRequestID},
		}))
	}
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

// requestContext attaches the request ID to the request context and logs
// every request once it completes.
func (s *Server) requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		reqID := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), reqID)
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}

		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return nil
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/", s.handleRoot)
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/build-pc", s.handleBuild)
	v1.POST("/build-pc/stream", s.handleBuildStream)
	v1.POST("/tts", s.handleTTS)
	v1.GET("/catalog/search", s.handleCatalogSearch)
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	addr := net.JoinHostPort(s.opts.Server.Host, strconv.Itoa(s.opts.Server.Port))
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	err := s.echo.Start(addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
