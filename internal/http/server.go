// Package http provides the learnd HTTP API.
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

	"github.com/fyrsmithlabs/learnd/internal/effectiveness"
	"github.com/fyrsmithlabs/learnd/internal/evaluation"
	"github.com/fyrsmithlabs/learnd/internal/indexer"
	"github.com/fyrsmithlabs/learnd/internal/knowledge"
	"github.com/fyrsmithlabs/learnd/internal/logging"
	"github.com/fyrsmithlabs/learnd/internal/retrieval"
	"github.com/fyrsmithlabs/learnd/internal/services"
)

// LearnAPI is the service surface exposed over HTTP.
// *services.LearnService implements it.
type LearnAPI interface {
	Retrieve(ctx context.Context, q retrieval.Query) ([]knowledge.Document, error)
	FeedbackContext(ctx context.Context, req services.FeedbackRequest) (*services.RenderedContext, error)
	ExerciseContext(ctx context.Context, req services.ExerciseRequest) (*services.RenderedContext, error)
	RecordOutcome(ctx context.Context, o effectiveness.Outcome) error
	RecordAttempt(ctx context.Context, a effectiveness.Attempt) error
	SetFeatureEnabledAt(ctx context.Context, userID string, at time.Time) error
	Effectiveness(ctx context.Context, id string) (*effectiveness.Stats, error)
	MostEffective(ctx context.Context, skillTag string, limit int) ([]knowledge.Document, error)
	LeastEffective(ctx context.Context, skillTag string, limit int) ([]knowledge.Document, error)
	ResetEffectiveness(ctx context.Context, id string) error
	PerformanceReport(ctx context.Context, days int) (*evaluation.PerformanceReport, error)
	ErrorReductionRate(ctx context.Context, q evaluation.ErrorReductionQuery) (*evaluation.ErrorReduction, error)
	SkillImprovementRate(ctx context.Context, userID, skillTag string, days int) (*evaluation.SkillImprovement, error)
	RAGImpactScore(ctx context.Context, userID string, days int) (*evaluation.RAGImpact, error)
	EmbeddingCoverage(ctx context.Context) (*indexer.Coverage, error)
}

// Server provides HTTP endpoints for learnd.
type Server struct {
	echo    *echo.Echo
	svc     LearnAPI
	logger  *zap.Logger
	config  *Config
	metrics *HTTPMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
	// Version is reported by /health.
	Version string
	// ReportDays is the window used by /reports/* without ?days.
	ReportDays int
}

func (c *Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// NewServer creates a new HTTP server.
func NewServer(svc LearnAPI, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, errors.New("learn service cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 9090}
	}
	if cfg.ReportDays <= 0 {
		cfg.ReportDays = 7
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		svc:     svc,
		logger:  logger,
		config:  cfg,
		metrics: NewHTTPMetrics(logger),
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		RequestIDHandler: func(c echo.Context, id string) {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		},
	}))
	e.Use(s.requestLogger())
	e.Use(s.metrics.MetricsMiddleware())

	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo write the response so the logged status is final.
				c.Error(err)
			}

			logging.For(c.Request().Context(), s.logger).Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/retrieve", s.handleRetrieve)
	v1.POST("/context/feedback", s.handleFeedbackContext)
	v1.POST("/context/exercise", s.handleExerciseContext)
	v1.POST("/outcomes", s.handleRecordOutcome)
	v1.POST("/attempts", s.handleRecordAttempt)
	v1.PUT("/users/:user_id/feature-anchor", s.handleSetFeatureAnchor)
	v1.GET("/knowledge/effective", s.handleRanked)
	v1.GET("/knowledge/:id/effectiveness", s.handleEffectiveness)
	v1.POST("/knowledge/:id/effectiveness/reset", s.handleReset)
	v1.GET("/reports/performance", s.handlePerformanceReport)
	v1.GET("/reports/error-reduction", s.handleErrorReduction)
	v1.GET("/reports/skill-improvement", s.handleSkillImprovement)
	v1.GET("/reports/rag-impact", s.handleRAGImpact)
	v1.GET("/embeddings/coverage", s.handleCoverage)
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled or the listener fails. Cancelling ctx
// does not drain in-flight requests; call Shutdown for that.
func (s *Server) Start(ctx context.Context) error {
	addr := s.config.addr()
	s.logger.Info("starting http server", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
