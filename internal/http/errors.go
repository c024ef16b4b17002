package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/launchpad/internal/humangate"
	"github.com/fyrsmithlabs/launchpad/internal/logging"
	"github.com/fyrsmithlabs/launchpad/internal/pipeline"
)

// linkNotFound is the single body returned for any unusable approval link,
// so callers cannot tell a forged token from an expired or missing one.
const linkNotFound = "approval link is invalid or has expired"

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusOf maps domain errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, humangate.ErrNotFound), errors.Is(err, pipeline.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, humangate.ErrNotPending), errors.Is(err, humangate.ErrExpired),
		errors.Is(err, pipeline.ErrInvalidState), errors.Is(err, pipeline.ErrRevisionLimit):
		return http.StatusConflict
	case errors.Is(err, humangate.ErrInvalidRequest), errors.Is(err, pipeline.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, pipeline.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// handleError renders every handler error as ErrorResponse.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	msg := http.StatusText(code)

	var he *echo.HTTPError
	if errors.As(err, &he) {
		code = he.Code
		if m, ok := he.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(code)
		}
	} else {
		code = statusOf(err)
		if code != http.StatusInternalServerError {
			msg = err.Error()
		}
	}

	ctx := c.Request().Context()
	if code >= http.StatusInternalServerError {
		logging.FromContext(ctx).Error(ctx, "request failed", zap.String("route", c.Path()), zap.Error(err))
	}

	if c.Request().Method == http.MethodHead {
		err = c.NoContent(code)
	} else {
		err = c.JSON(code, ErrorResponse{Error: msg})
	}
	if err != nil {
		logging.FromContext(ctx).Warn(ctx, "failed to write error response", zap.Error(err))
	}
}
