package http

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/launchpad/internal/humangate"
	"github.com/fyrsmithlabs/launchpad/internal/logging"
	"github.com/fyrsmithlabs/launchpad/internal/pipeline"
)

// PipelineListResponse is the response body for GET /api/v1/pipelines.
type PipelineListResponse struct {
	Pipelines []*pipeline.Execution `json:"pipelines"`
}

func (s *Server) handleStartPipeline(c echo.Context) error {
	var req pipeline.StartRequest
	if err := c.Bind(&req); err != nil {
		ctx := c.Request().Context()
		logging.FromContext(ctx).Warn(ctx, "invalid start request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	req.TenantID = tenantOf(c)

	e, err := s.pipelines.StartPipeline(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, e)
}

func (s *Server) handleListPipelines(c echo.Context) error {
	es, err := s.pipelines.List(c.Request().Context(), tenantOf(c))
	if err != nil {
		return err
	}
	if es == nil {
		es = []*pipeline.Execution{}
	}
	return c.JSON(http.StatusOK, PipelineListResponse{Pipelines: es})
}

func (s *Server) handlePipelineProgress(c echo.Context) error {
	p, err := s.pipelines.GetPipelineProgress(c.Request().Context(), c.Param("id"), tenantOf(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handlePipelineFeedback(c echo.Context) error {
	var fb humangate.Feedback
	if err := c.Bind(&fb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	e, err := s.pipelines.ProcessFounderFeedback(c.Request().Context(), c.Param("id"), tenantOf(c), fb)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handleCancelPipeline(c echo.Context) error {
	e, err := s.pipelines.Cancel(c.Request().Context(), c.Param("id"), tenantOf(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) handlePauseGeneration(c echo.Context) error {
	if err := s.pipelines.PauseGeneration(c.Request().Context(), c.Param("id"), tenantOf(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleResumeGeneration(c echo.Context) error {
	if err := s.pipelines.ResumeGeneration(c.Request().Context(), c.Param("id"), tenantOf(c)); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
