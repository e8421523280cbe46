package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
)

type runRequest struct {
	Input map[string]any `json:"input"`
}

type resumeRequest struct {
	Feedback any `json:"feedback"`
}

func streaming(params RunWorkflowParams) bool {
	return params.Stream == nil || *params.Stream
}

// cancelOnLeave returns the action for a client that drops a streamed run,
// or nil when the execution should keep going.
func (s *Server) cancelOnLeave(c echo.Context, userID int64, runtimeUUID string, params RunWorkflowParams) func() {
	if params.CancelOnDisconnect == nil || !*params.CancelOnDisconnect {
		return nil
	}
	return func() {
		ctx := context.WithoutCancel(c.Request().Context())
		err := s.engine.Cancel(ctx, userID, runtimeUUID)
		switch {
		case err == nil:
			s.logger.Info("runtime cancelled after client left", "runtime_uuid", runtimeUUID)
		case errors.Is(err, workflow.ErrConflict):
			// already finished
		default:
			s.logger.Warn("cancel after client left failed", "runtime_uuid", runtimeUUID, "error", err)
		}
	}
}

// RunWorkflow starts an execution. By default the progress is streamed as
// server-sent events; with stream=false the call returns the instance once
// it suspends or finishes.
// (POST /api/v1/workflows/{uuid}/run)
func (s *Server) RunWorkflow(c echo.Context, uuid string, params RunWorkflowParams) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var body runRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}
	ctx := c.Request().Context()

	if !streaming(params) {
		ri, err := s.engine.Run(ctx, userID, uuid, body.Input)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, ri)
	}

	x, err := s.engine.Start(ctx, userID, uuid, body.Input, true)
	if err != nil {
		return err
	}
	return s.stream(c, x.Instance.UUID, x.Events, s.cancelOnLeave(c, userID, x.Instance.UUID, params))
}

// ResumeRuntime answers the waiting node of a suspended instance
// (POST /api/v1/runtimes/{uuid}/resume)
func (s *Server) ResumeRuntime(c echo.Context, uuid string, params RunWorkflowParams) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var body resumeRequest
	if err := bindBody(c, &body); err != nil {
		return err
	}
	ctx := c.Request().Context()

	if !streaming(params) {
		ri, err := s.engine.ResumeAndWait(ctx, userID, uuid, body.Feedback)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, ri)
	}

	x, err := s.engine.Resume(ctx, userID, uuid, body.Feedback, true)
	if err != nil {
		return err
	}
	return s.stream(c, uuid, x.Events, s.cancelOnLeave(c, userID, uuid, params))
}

// ObserveRuntime attaches to the event stream of an executing instance
// (GET /api/v1/runtimes/{uuid}/events)
func (s *Server) ObserveRuntime(c echo.Context, uuid string) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	sub, err := s.engine.Observe(c.Request().Context(), userID, uuid)
	if err != nil {
		return err
	}
	return s.stream(c, uuid, sub, nil)
}

// CancelRuntime stops an executing instance
// (POST /api/v1/runtimes/{uuid}/cancel)
func (s *Server) CancelRuntime(c echo.Context, uuid string) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := s.engine.Cancel(c.Request().Context(), userID, uuid); err != nil {
		return err
	}
	return c.NoContent(http.StatusAccepted)
}

// ListRuntimes pages through the caller's runs of a workflow
// (GET /api/v1/workflows/{uuid}/runtimes)
func (s *Server) ListRuntimes(c echo.Context, uuid string, params ListRuntimesParams) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	page, err := s.runtimes.List(c.Request().Context(), userID, uuid, pageRequest(params.Page, params.PageSize))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// ClearRuntimes soft deletes the caller's runs of a workflow
// (DELETE /api/v1/workflows/{uuid}/runtimes)
func (s *Server) ClearRuntimes(c echo.Context, uuid string) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	n, err := s.runtimes.Clear(c.Request().Context(), userID, uuid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"deleted": n})
}

// GetRuntime returns one runtime instance
// (GET /api/v1/runtimes/{uuid})
func (s *Server) GetRuntime(c echo.Context, uuid string) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	ri, err := s.runtimes.Get(c.Request().Context(), userID, uuid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ri)
}

// DeleteRuntime soft deletes one runtime instance
// (DELETE /api/v1/runtimes/{uuid})
func (s *Server) DeleteRuntime(c echo.Context, uuid string) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := s.runtimes.Delete(c.Request().Context(), userID, uuid); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListRuntimeNodes returns the executed nodes of an instance
// (GET /api/v1/runtimes/{uuid}/nodes)
func (s *Server) ListRuntimeNodes(c echo.Context, uuid string) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	nodes, err := s.runtimes.Nodes(c.Request().Context(), userID, uuid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, nodes)
}
