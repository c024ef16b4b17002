package http

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/launchpad/internal/humangate"
)

// WorkflowListResponse is the response body for GET /api/v1/workflows.
type WorkflowListResponse struct {
	Workflows []*humangate.Workflow `json:"workflows"`
}

// ReminderResponse is the response body for POST /api/v1/workflows/:id/remind.
type ReminderResponse struct {
	Sent bool `json:"sent"`
}

// CancelResponse is the response body for POST /api/v1/workflows/:id/cancel.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

func (s *Server) handleCreateWorkflow(c echo.Context) error {
	var req humangate.CreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	w, err := s.gate.CreateWorkflow(c.Request().Context(), req, tenantOf(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, w)
}

func (s *Server) handleListWorkflows(c echo.Context) error {
	status := humangate.Status(c.QueryParam("status"))
	if status != "" && !status.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown status "+strconv.Quote(string(status)))
	}
	ws, err := s.gate.List(c.Request().Context(), tenantOf(c), status)
	if err != nil {
		return err
	}
	if ws == nil {
		ws = []*humangate.Workflow{}
	}
	return c.JSON(http.StatusOK, WorkflowListResponse{Workflows: ws})
}

func (s *Server) handleGetWorkflow(c echo.Context) error {
	w, err := s.gate.Get(c.Request().Context(), c.Param("id"), tenantOf(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, w)
}

func (s *Server) handleRemind(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	// Reminders are not tenant-scoped in the service; check ownership first.
	if _, err := s.gate.Get(ctx, id, tenantOf(c)); err != nil {
		return err
	}
	sent, err := s.gate.SendReminder(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ReminderResponse{Sent: sent})
}

func (s *Server) handleCancelWorkflow(c echo.Context) error {
	ok, err := s.gate.CancelWorkflow(c.Request().Context(), c.Param("id"), tenantOf(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, CancelResponse{Cancelled: ok})
}

func (s *Server) handleWorkflowMetrics(c echo.Context) error {
	days := 0
	if v := c.QueryParam("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "days must be a positive integer")
		}
		days = n
	}
	m, err := s.gate.GetMetrics(c.Request().Context(), tenantOf(c), days)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}
