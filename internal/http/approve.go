package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/launchpad/internal/humangate"
	"github.com/fyrsmithlabs/launchpad/internal/pipeline"
)

// ApprovalView is what an approval link reveals about its workflow.
type ApprovalView struct {
	WorkflowID  string             `json:"workflow_id"`
	ProjectID   string             `json:"project_id"`
	Type        humangate.Type     `json:"workflow_type"`
	Status      humangate.Status   `json:"status"`
	Priority    humangate.Priority `json:"priority"`
	Title       string             `json:"title,omitempty"`
	Description string             `json:"description,omitempty"`
	Context     map[string]string  `json:"context,omitempty"`
	ExpiresAt   time.Time          `json:"expires_at"`
}

// ApprovalFeedbackResponse is the response body for POST /api/v1/approve/:token/feedback.
type ApprovalFeedbackResponse struct {
	WorkflowID      string           `json:"workflow_id"`
	Status          humangate.Status `json:"status"`
	ExecutionID     string           `json:"execution_id,omitempty"`
	ExecutionStatus pipeline.Status  `json:"execution_status,omitempty"`
}

func viewOf(w *humangate.Workflow) ApprovalView {
	return ApprovalView{
		WorkflowID:  w.ID,
		ProjectID:   w.ProjectID,
		Type:        w.Type,
		Status:      w.Status,
		Priority:    w.Priority,
		Title:       w.Title,
		Description: w.Description,
		Context:     w.Context,
		ExpiresAt:   w.ExpiresAt,
	}
}

// linkError hides the reason a token was unusable.
func linkError(err error) error {
	if errors.Is(err, humangate.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, linkNotFound)
	}
	return err
}

func (s *Server) handleGetApproval(c echo.Context) error {
	w, err := s.gate.GetByToken(c.Request().Context(), c.Param("token"))
	if err != nil {
		return linkError(err)
	}
	return c.JSON(http.StatusOK, viewOf(w))
}

func (s *Server) handleApprovalFeedback(c echo.Context) error {
	ctx := c.Request().Context()
	tok := c.Param("token")

	var fb humangate.Feedback
	if err := c.Bind(&fb); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	w, err := s.gate.GetByToken(ctx, tok)
	if err != nil {
		return linkError(err)
	}
	e, err := s.pipelines.SubmitFeedbackByToken(ctx, tok, fb)
	if err != nil {
		return linkError(err)
	}

	resp := ApprovalFeedbackResponse{WorkflowID: w.ID, Status: fb.Decision.Status()}
	if e != nil {
		resp.ExecutionID = e.ID
		resp.ExecutionStatus = e.Status
	}
	return c.JSON(http.StatusOK, resp)
}
