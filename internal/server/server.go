// Package server provides the HTTP API for ragd.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/database"
	"github.com/fyrsmithlabs/ragd/internal/queue"
	"github.com/fyrsmithlabs/ragd/internal/search"
)

// Searcher runs retrieval queries.
type Searcher interface {
	Search(ctx context.Context, req search.Request) (*search.Response, error)
}

// Chatter runs chat turns.
type Chatter interface {
	Answer(ctx context.Context, req search.ChatRequest) (*search.ChatResponse, error)
}

// Embedder embeds ad-hoc text.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// JobQueue accepts ingestion jobs.
type JobQueue interface {
	Enqueue(ctx context.Context, job *queue.Job) error
}

// PendingLister pages pending documents for batch reprocessing,
// satisfied by *database.DB.
type PendingLister interface {
	PendingDocuments(ctx context.Context, orgID string, limit int) ([]database.Document, error)
}

// StatusReporter counts an organization's documents by status,
// satisfied by *database.DB.
type StatusReporter interface {
	DocumentStatusCounts(ctx context.Context, orgID string) (map[string]int64, error)
}

// JobRecorder persists queued-job rows, satisfied by *database.DB.
type JobRecorder interface {
	CreateJob(ctx context.Context, job *database.ProcessingJob) error
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) bool

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Deps bundles the services the handlers dispatch to.
type Deps struct {
	Searcher Searcher
	Chatter  Chatter
	Embedder Embedder
	Queue    JobQueue
	Pending  PendingLister
	Status   StatusReporter

	// Jobs mirrors accepted ingestion jobs into processing_jobs so
	// queue contents are inspectable after the fact. Optional.
	Jobs JobRecorder

	// HealthChecks maps dependency names (redis, database, ...) to
	// their probes, all run on GET /health.
	HealthChecks map[string]HealthCheck
}

// Server provides HTTP endpoints for ragd.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *zap.Logger
	config Config
}

// New creates the HTTP server.
func New(deps Deps, logger *zap.Logger, cfg Config) (*Server, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 8001
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		deps:   deps,
		logger: logger,
		config: cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	s.echo.GET("/processing-status", s.handleProcessingStatus)

	s.echo.POST("/search", s.handleSearch)
	s.echo.POST("/chat", s.handleChat)
	s.echo.POST("/embed", s.handleEmbed)
	s.echo.POST("/ingest", s.handleIngest)
	s.echo.POST("/process-batch", s.handleProcessBatch)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
