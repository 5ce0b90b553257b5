package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/learnd/internal/effectiveness"
	"github.com/fyrsmithlabs/learnd/internal/evaluation"
	"github.com/fyrsmithlabs/learnd/internal/knowledge"
	"github.com/fyrsmithlabs/learnd/internal/logging"
	"github.com/fyrsmithlabs/learnd/internal/retrieval"
	"github.com/fyrsmithlabs/learnd/internal/services"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

// DocumentsResponse wraps a document list. Embedding vectors are omitted.
type DocumentsResponse struct {
	Documents []knowledge.Document `json:"documents"`
	Count     int                  `json:"count"`
}

// RankedResponse is the response body for GET /api/v1/knowledge/effective.
type RankedResponse struct {
	Order     string               `json:"order"`
	SkillTag  string               `json:"skill_tag,omitempty"`
	Documents []knowledge.Document `json:"documents"`
}

// AcceptedResponse is returned for queued work.
type AcceptedResponse struct {
	Status string `json:"status"`
}

// FeatureAnchorRequest is the body of PUT /api/v1/users/:user_id/feature-anchor.
// A missing enabled_at means now.
type FeatureAnchorRequest struct {
	EnabledAt time.Time `json:"enabled_at,omitempty"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Version: s.config.Version})
}

func (s *Server) handleRetrieve(c echo.Context) error {
	var q retrieval.Query
	if err := c.Bind(&q); err != nil {
		return s.badBody(c, err)
	}
	docs, err := s.svc.Retrieve(c.Request().Context(), q)
	if err != nil {
		return s.apiError(c, err)
	}
	docs = withoutVectors(docs)
	return c.JSON(http.StatusOK, DocumentsResponse{Documents: docs, Count: len(docs)})
}

func (s *Server) handleFeedbackContext(c echo.Context) error {
	var req services.FeedbackRequest
	if err := c.Bind(&req); err != nil {
		return s.badBody(c, err)
	}
	out, err := s.svc.FeedbackContext(c.Request().Context(), req)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleExerciseContext(c echo.Context) error {
	var req services.ExerciseRequest
	if err := c.Bind(&req); err != nil {
		return s.badBody(c, err)
	}
	out, err := s.svc.ExerciseContext(c.Request().Context(), req)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRecordOutcome(c echo.Context) error {
	var o effectiveness.Outcome
	if err := c.Bind(&o); err != nil {
		return s.badBody(c, err)
	}
	req := c.Request()
	ctx := logging.WithUserID(req.Context(), o.UserID)
	c.SetRequest(req.WithContext(ctx))

	if err := s.svc.RecordOutcome(ctx, o); err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusAccepted, AcceptedResponse{Status: "accepted"})
}

func (s *Server) handleRecordAttempt(c echo.Context) error {
	var a effectiveness.Attempt
	if err := c.Bind(&a); err != nil {
		return s.badBody(c, err)
	}
	req := c.Request()
	ctx := logging.WithUserID(req.Context(), a.UserID)
	c.SetRequest(req.WithContext(ctx))

	if err := s.svc.RecordAttempt(ctx, a); err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusAccepted, AcceptedResponse{Status: "accepted"})
}

func (s *Server) handleSetFeatureAnchor(c echo.Context) error {
	var body FeatureAnchorRequest
	if err := c.Bind(&body); err != nil {
		return s.badBody(c, err)
	}
	if err := s.svc.SetFeatureEnabledAt(c.Request().Context(), c.Param("user_id"), body.EnabledAt); err != nil {
		return s.apiError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleEffectiveness(c echo.Context) error {
	stats, err := s.svc.Effectiveness(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, stats)
}

func (s *Server) handleReset(c echo.Context) error {
	if err := s.svc.ResetEffectiveness(c.Request().Context(), c.Param("id")); err != nil {
		return s.apiError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleRanked(c echo.Context) error {
	limit, err := intParam(c, "limit", 0)
	if err != nil {
		return s.apiError(c, err)
	}
	order := c.QueryParam("order")
	if order == "" {
		order = "most"
	}

	var rank func(ctx context.Context, skillTag string, limit int) ([]knowledge.Document, error)
	switch order {
	case "most":
		rank = s.svc.MostEffective
	case "least":
		rank = s.svc.LeastEffective
	default:
		return s.apiError(c, knowledge.NewValidationError("order", "must be most or least, got %q", order))
	}

	skillTag := c.QueryParam("skill_tag")
	docs, err := rank(c.Request().Context(), skillTag, limit)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, RankedResponse{Order: order, SkillTag: skillTag, Documents: withoutVectors(docs)})
}

func (s *Server) handlePerformanceReport(c echo.Context) error {
	days, err := intParam(c, "days", s.config.ReportDays)
	if err != nil {
		return s.apiError(c, err)
	}
	report, err := s.svc.PerformanceReport(c.Request().Context(), days)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

func (s *Server) handleErrorReduction(c echo.Context) error {
	days, err := intParam(c, "days", s.config.ReportDays)
	if err != nil {
		return s.apiError(c, err)
	}
	out, err := s.svc.ErrorReductionRate(c.Request().Context(), evaluation.ErrorReductionQuery{
		UserID:    c.QueryParam("user_id"),
		ErrorType: c.QueryParam("error_type"),
		Days:      days,
	})
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleSkillImprovement(c echo.Context) error {
	days, err := intParam(c, "days", s.config.ReportDays)
	if err != nil {
		return s.apiError(c, err)
	}
	out, err := s.svc.SkillImprovementRate(c.Request().Context(), c.QueryParam("user_id"), c.QueryParam("skill_tag"), days)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleRAGImpact(c echo.Context) error {
	days, err := intParam(c, "days", s.config.ReportDays)
	if err != nil {
		return s.apiError(c, err)
	}
	out, err := s.svc.RAGImpactScore(c.Request().Context(), c.QueryParam("user_id"), days)
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleCoverage(c echo.Context) error {
	cov, err := s.svc.EmbeddingCoverage(c.Request().Context())
	if err != nil {
		return s.apiError(c, err)
	}
	return c.JSON(http.StatusOK, cov)
}

func (s *Server) badBody(c echo.Context, err error) error {
	logging.For(c.Request().Context(), s.logger).Warn("invalid request body",
		zap.String("path", c.Path()), zap.Error(err))
	return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
}

// apiError maps service errors to HTTP status codes.
func (s *Server) apiError(c echo.Context, err error) error {
	var ve *knowledge.ValidationError
	switch {
	case errors.As(err, &ve):
		return echo.NewHTTPError(http.StatusBadRequest, ve.Error())
	case errors.Is(err, knowledge.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "knowledge document not found")
	case errors.Is(err, effectiveness.ErrQueueFull), errors.Is(err, effectiveness.ErrNotRunning):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case knowledge.IsStorage(err):
		logging.For(c.Request().Context(), s.logger).Error("storage unavailable",
			zap.String("path", c.Path()), zap.Error(err))
		return echo.NewHTTPError(http.StatusServiceUnavailable, "storage unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusGatewayTimeout, "request timed out")
	default:
		logging.For(c.Request().Context(), s.logger).Error("request failed",
			zap.String("path", c.Path()), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, knowledge.NewValidationError(name, "must be an integer, got %q", raw)
	}
	return v, nil
}

// withoutVectors copies docs with embedding vectors dropped.
func withoutVectors(docs []knowledge.Document) []knowledge.Document {
	out := make([]knowledge.Document, len(docs))
	for i, d := range docs {
		d.Embedding = nil
		out[i] = d
	}
	return out
}
