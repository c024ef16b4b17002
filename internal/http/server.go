// Package http provides the launchpad HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/launchpad/internal/humangate"
	"github.com/fyrsmithlabs/launchpad/internal/logging"
	"github.com/fyrsmithlabs/launchpad/internal/pipeline"
)

// Server serves the pipeline, workflow and approval-link endpoints.
type Server struct {
	echo      *echo.Echo
	pipelines pipeline.Service
	gate      humangate.Service
	limiter   *clientLimiter
	logger    *zap.Logger
	config    *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// TokenRPS and TokenBurst limit approval-link requests per client IP.
	TokenRPS   float64
	TokenBurst int
}

// NewServer creates a new HTTP server.
func NewServer(pipelines pipeline.Service, gate humangate.Service, logger *zap.Logger, cfg *Config) (*Server, error) {
	if pipelines == nil {
		return nil, fmt.Errorf("pipeline service cannot be nil")
	}
	if gate == nil {
		return nil, fmt.Errorf("approval service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:      e,
		pipelines: pipelines,
		gate:      gate,
		limiter:   newClientLimiter(cfg.TokenRPS, cfg.TokenBurst),
		logger:    logger,
		config:    cfg,
	}
	e.HTTPErrorHandler = s.handleError

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(s.correlate)
	e.Use(newRouteMetrics(logger).middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			ctx := c.Request().Context()
			logging.FromContext(ctx).Info(ctx, "http request",
				zap.String("method", c.Request().Method),
				zap.String("route", c.Path()),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	})

	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")

	pipelines := v1.Group("/pipelines", requireTenant)
	pipelines.POST("", s.handleStartPipeline)
	pipelines.GET("", s.handleListPipelines)
	pipelines.GET("/:id", s.handlePipelineProgress)
	pipelines.POST("/:id/feedback", s.handlePipelineFeedback)
	pipelines.POST("/:id/cancel", s.handleCancelPipeline)
	pipelines.POST("/:id/pause", s.handlePauseGeneration)
	pipelines.POST("/:id/resume", s.handleResumeGeneration)

	workflows := v1.Group("/workflows", requireTenant)
	workflows.POST("", s.handleCreateWorkflow)
	workflows.GET("", s.handleListWorkflows)
	workflows.GET("/metrics", s.handleWorkflowMetrics)
	workflows.GET("/:id", s.handleGetWorkflow)
	workflows.POST("/:id/remind", s.handleRemind)
	workflows.POST("/:id/cancel", s.handleCancelWorkflow)

	approve := v1.Group("/approve", s.rateLimit)
	approve.GET("/:token", s.handleGetApproval)
	approve.POST("/:token/feedback", s.handleApprovalFeedback)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
