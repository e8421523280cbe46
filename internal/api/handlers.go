package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/trace"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/logging"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "workflow-engine"

// StatusClientClosedRequest is returned for cancelled executions.
const StatusClientClosedRequest = 499

// Pinger checks a backing store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HandleHealth reports service health. The store check degrades the status
// to 503 but never fails the request.
func (s *Server) HandleHealth(c echo.Context) error {
	status := models.HealthStatus{
		Status:    "ok",
		Service:   ServiceName,
		Version:   s.version,
		Timestamp: time.Now().UTC(),
		Checks:    map[string]string{},
	}
	code := http.StatusOK
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			status.Status = "degraded"
			status.Checks["store"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			status.Checks["store"] = "ok"
		}
	}
	return c.JSON(code, status)
}

// StatusFor maps an error kind to its HTTP status.
func StatusFor(kind workflow.ErrorKind) int {
	switch kind {
	case workflow.KindValidation:
		return http.StatusBadRequest
	case workflow.KindNotFound:
		return http.StatusNotFound
	case workflow.KindConflict:
		return http.StatusConflict
	case workflow.KindForbidden:
		return http.StatusForbidden
	case workflow.KindCapabilityFailure:
		return http.StatusBadGateway
	case workflow.KindCancelled:
		return StatusClientClosedRequest
	case workflow.KindNoMatchingBranch:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// ErrorHandler renders every error as an RFC 7807 Problem Details response.
func ErrorHandler(logger *logging.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		problem := models.ProblemDetails{
			Type:     "about:blank",
			Instance: c.Request().URL.Path,
		}
		var (
			he *echo.HTTPError
			we *workflow.Error
		)
		switch {
		case errors.As(err, &we):
			problem.Status = StatusFor(we.Kind)
			problem.Kind = string(we.Kind)
			problem.Detail = we.Error()
		case errors.As(err, &he):
			problem.Status = he.Code
			if msg, ok := he.Message.(string); ok {
				problem.Detail = msg
			} else if he.Internal != nil {
				problem.Detail = he.Internal.Error()
			}
		default:
			problem.Status = http.StatusInternalServerError
			problem.Detail = "internal error"
		}
		problem.Title = http.StatusText(problem.Status)
		if problem.Title == "" {
			problem.Title = "Client Closed Request"
		}
		if sc := trace.SpanContextFromContext(c.Request().Context()); sc.HasTraceID() {
			problem.TraceID = sc.TraceID().String()
		}

		if problem.Status >= http.StatusInternalServerError {
			logger.Error("request failed", "method", c.Request().Method, "path", c.Request().URL.Path, "error", err)
		} else {
			logger.Debug("request rejected", "method", c.Request().Method, "path", c.Request().URL.Path, "status", problem.Status, "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(problem.Status)
		} else {
			c.Response().Header().Set(echo.HeaderContentType, "application/problem+json")
			err = c.JSON(problem.Status, problem)
		}
		if err != nil {
			logger.Error("failed to write problem response", "error", err)
		}
	}
}
