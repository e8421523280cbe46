// Package api contains the HTTP handlers for the workflow service
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/auth"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/engine"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/logging"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/services"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// Deps are the collaborators of the API server.
type Deps struct {
	Workflows *services.WorkflowService
	Runtimes  *services.RuntimeService
	Engine    *engine.Engine
	Registry  *workflow.Registry
	Operators *workflow.OperatorCatalog
	Pinger    Pinger
	Logger    *logging.Logger
	Version   string
}

// Server holds the dependencies for the API server.
type Server struct {
	workflows *services.WorkflowService
	runtimes  *services.RuntimeService
	engine    *engine.Engine
	registry  *workflow.Registry
	operators *workflow.OperatorCatalog
	pinger    Pinger
	logger    *logging.Logger
	version   string
}

var _ ServerInterface = (*Server)(nil)

// NewServer creates a new Server.
func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Operators == nil {
		d.Operators = workflow.NewOperatorCatalog()
	}
	if d.Version == "" {
		d.Version = "dev"
	}
	return &Server{
		workflows: d.Workflows,
		runtimes:  d.Runtimes,
		engine:    d.Engine,
		registry:  d.Registry,
		operators: d.Operators,
		pinger:    d.Pinger,
		logger:    d.Logger,
		version:   d.Version,
	}
}

// currentUser returns the id of the authenticated user.
func currentUser(c echo.Context) (int64, error) {
	user, ok := auth.UserFromContext(c.Request().Context())
	if !ok {
		return 0, echo.NewHTTPError(http.StatusUnauthorized, "User not found in context")
	}
	return user.ID, nil
}

func bindBody(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request body: "+err.Error())
	}
	return nil
}

// CreateWorkflow creates a workflow owned by the caller
// (POST /api/v1/workflows)
func (s *Server) CreateWorkflow(c echo.Context) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var in services.CreateWorkflowInput
	if err := bindBody(c, &in); err != nil {
		return err
	}
	detail, err := s.workflows.Create(c.Request().Context(), userID, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, detail)
}

// SearchWorkflows pages through the caller's or public workflows
// (GET /api/v1/workflows/search)
func (s *Server) SearchWorkflows(c echo.Context, params SearchWorkflowsParams) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	search := models.WorkflowSearch{IsPublic: params.IsPublic, PageRequest: pageRequest(params.Page, params.PageSize)}
	if params.Keyword != nil {
		search.Keyword = *params.Keyword
	}
	page, err := s.workflows.Search(c.Request().Context(), userID, search)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

// GetWorkflow returns a workflow with its graph
// (GET /api/v1/workflows/{uuid})
func (s *Server) GetWorkflow(c echo.Context, uuid string) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	detail, err := s.workflows.Get(c.Request().Context(), userID, uuid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

// UpdateWorkflow applies a versioned graph update
// (PUT /api/v1/workflows/{uuid})
func (s *Server) UpdateWorkflow(c echo.Context, uuid string) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var in services.UpdateWorkflowInput
	if err := bindBody(c, &in); err != nil {
		return err
	}
	detail, err := s.workflows.Update(c.Request().Context(), userID, uuid, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail)
}

// DeleteWorkflow soft deletes a workflow
// (DELETE /api/v1/workflows/{uuid})
func (s *Server) DeleteWorkflow(c echo.Context, uuid string) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	if err := s.workflows.Delete(c.Request().Context(), userID, uuid); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// CopyWorkflow copies a readable workflow into the caller's account
// (POST /api/v1/workflows/{uuid}/copy)
func (s *Server) CopyWorkflow(c echo.Context, uuid string) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	detail, err := s.workflows.Copy(c.Request().Context(), userID, uuid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, detail)
}

type toggle struct {
	Value *bool `json:"value"`
}

func (s *Server) setFlag(c echo.Context, uuid string, set func(userID int64, v bool) error) error {
	userID, err := currentUser(c)
	if err != nil {
		return err
	}
	var body toggle
	if err := bindBody(c, &body); err != nil {
		return err
	}
	if body.Value == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "value is required")
	}
	if err := set(userID, *body.Value); err != nil {
		return err
	}
	detail, err := s.workflows.Get(c.Request().Context(), userID, uuid)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, detail.Workflow)
}

// SetWorkflowEnabled toggles whether a workflow may run
// (POST /api/v1/workflows/{uuid}/enable)
func (s *Server) SetWorkflowEnabled(c echo.Context, uuid string) error {
	return s.setFlag(c, uuid, func(userID int64, v bool) error {
		return s.workflows.SetEnabled(c.Request().Context(), userID, uuid, v)
	})
}

// SetWorkflowPublic shares or unshares a workflow
// (POST /api/v1/workflows/{uuid}/public)
func (s *Server) SetWorkflowPublic(c echo.Context, uuid string) error {
	return s.setFlag(c, uuid, func(userID int64, v bool) error {
		return s.workflows.SetPublic(c.Request().Context(), userID, uuid, v)
	})
}

// ListComponents returns the registered node kinds
// (GET /api/v1/components)
func (s *Server) ListComponents(c echo.Context) error {
	return c.JSON(http.StatusOK, s.registry.List())
}

// ListOperators returns the switch operator catalog
// (GET /api/v1/operators)
func (s *Server) ListOperators(c echo.Context) error {
	return c.JSON(http.StatusOK, s.operators.List())
}

func pageRequest(page, size *int) models.PageRequest {
	var p models.PageRequest
	if page != nil {
		p.Page = *page
	}
	if size != nil {
		p.PageSize = *size
	}
	return p.Normalize()
}
