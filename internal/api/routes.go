package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/oapi-codegen/runtime"
)

// SearchWorkflowsParams defines parameters for SearchWorkflows.
type SearchWorkflowsParams struct {
	Keyword  *string `form:"keyword,omitempty" json:"keyword,omitempty"`
	IsPublic *bool   `form:"is_public,omitempty" json:"is_public,omitempty"`
	Page     *int    `form:"page,omitempty" json:"page,omitempty"`
	PageSize *int    `form:"page_size,omitempty" json:"page_size,omitempty"`
}

// ListRuntimesParams defines parameters for ListRuntimes.
type ListRuntimesParams struct {
	Page     *int `form:"page,omitempty" json:"page,omitempty"`
	PageSize *int `form:"page_size,omitempty" json:"page_size,omitempty"`
}

// RunWorkflowParams defines parameters for RunWorkflow.
type RunWorkflowParams struct {
	// Stream selects an SSE response; false waits for the first suspension
	// or terminal state and returns the instance.
	Stream *bool `form:"stream,omitempty" json:"stream,omitempty"`

	// CancelOnDisconnect cancels the execution when the client leaves a
	// streamed response before the final event.
	CancelOnDisconnect *bool `form:"cancel_on_disconnect,omitempty" json:"cancel_on_disconnect,omitempty"`
}

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (POST /workflows)
	CreateWorkflow(ctx echo.Context) error
	// (GET /workflows/search)
	SearchWorkflows(ctx echo.Context, params SearchWorkflowsParams) error
	// (GET /workflows/{uuid})
	GetWorkflow(ctx echo.Context, uuid string) error
	// (PUT /workflows/{uuid})
	UpdateWorkflow(ctx echo.Context, uuid string) error
	// (DELETE /workflows/{uuid})
	DeleteWorkflow(ctx echo.Context, uuid string) error
	// (POST /workflows/{uuid}/copy)
	CopyWorkflow(ctx echo.Context, uuid string) error
	// (POST /workflows/{uuid}/enable)
	SetWorkflowEnabled(ctx echo.Context, uuid string) error
	// (POST /workflows/{uuid}/public)
	SetWorkflowPublic(ctx echo.Context, uuid string) error
	// (POST /workflows/{uuid}/run)
	RunWorkflow(ctx echo.Context, uuid string, params RunWorkflowParams) error
	// (GET /workflows/{uuid}/runtimes)
	ListRuntimes(ctx echo.Context, uuid string, params ListRuntimesParams) error
	// (DELETE /workflows/{uuid}/runtimes)
	ClearRuntimes(ctx echo.Context, uuid string) error
	// (GET /runtimes/{uuid})
	GetRuntime(ctx echo.Context, uuid string) error
	// (DELETE /runtimes/{uuid})
	DeleteRuntime(ctx echo.Context, uuid string) error
	// (GET /runtimes/{uuid}/nodes)
	ListRuntimeNodes(ctx echo.Context, uuid string) error
	// (POST /runtimes/{uuid}/resume)
	ResumeRuntime(ctx echo.Context, uuid string, params RunWorkflowParams) error
	// (POST /runtimes/{uuid}/cancel)
	CancelRuntime(ctx echo.Context, uuid string) error
	// (GET /runtimes/{uuid}/events)
	ObserveRuntime(ctx echo.Context, uuid string) error
	// (GET /components)
	ListComponents(ctx echo.Context) error
	// (GET /operators)
	ListOperators(ctx echo.Context) error
}

// ServerInterfaceWrapper converts echo contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func bindUUID(ctx echo.Context) (string, error) {
	var uuid string
	err := runtime.BindStyledParameterWithOptions("simple", "uuid", ctx.Param("uuid"), &uuid,
		runtime.BindStyledParameterOptions{ParamLocation: runtime.ParamLocationPath, Explode: false, Required: true})
	if err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter uuid: "+err.Error())
	}
	return uuid, nil
}

func bindQuery(ctx echo.Context, name string, dest any) error {
	if err := runtime.BindQueryParameter("form", true, false, name, ctx.QueryParams(), dest); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid format for parameter "+name+": "+err.Error())
	}
	return nil
}

func (w *ServerInterfaceWrapper) CreateWorkflow(ctx echo.Context) error {
	return w.Handler.CreateWorkflow(ctx)
}

func (w *ServerInterfaceWrapper) SearchWorkflows(ctx echo.Context) error {
	var params SearchWorkflowsParams
	if err := bindQuery(ctx, "keyword", &params.Keyword); err != nil {
		return err
	}
	if err := bindQuery(ctx, "is_public", &params.IsPublic); err != nil {
		return err
	}
	if err := bindQuery(ctx, "page", &params.Page); err != nil {
		return err
	}
	if err := bindQuery(ctx, "page_size", &params.PageSize); err != nil {
		return err
	}
	return w.Handler.SearchWorkflows(ctx, params)
}

// withUUID adapts a handler that only takes the path uuid.
func (w *ServerInterfaceWrapper) withUUID(h func(echo.Context, string) error) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		uuid, err := bindUUID(ctx)
		if err != nil {
			return err
		}
		return h(ctx, uuid)
	}
}

func (w *ServerInterfaceWrapper) RunWorkflow(ctx echo.Context) error {
	uuid, err := bindUUID(ctx)
	if err != nil {
		return err
	}
	var params RunWorkflowParams
	if err := bindQuery(ctx, "stream", &params.Stream); err != nil {
		return err
	}
	if err := bindQuery(ctx, "cancel_on_disconnect", &params.CancelOnDisconnect); err != nil {
		return err
	}
	return w.Handler.RunWorkflow(ctx, uuid, params)
}

func (w *ServerInterfaceWrapper) ResumeRuntime(ctx echo.Context) error {
	uuid, err := bindUUID(ctx)
	if err != nil {
		return err
	}
	var params RunWorkflowParams
	if err := bindQuery(ctx, "stream", &params.Stream); err != nil {
		return err
	}
	if err := bindQuery(ctx, "cancel_on_disconnect", &params.CancelOnDisconnect); err != nil {
		return err
	}
	return w.Handler.ResumeRuntime(ctx, uuid, params)
}

func (w *ServerInterfaceWrapper) ListRuntimes(ctx echo.Context) error {
	uuid, err := bindUUID(ctx)
	if err != nil {
		return err
	}
	var params ListRuntimesParams
	if err := bindQuery(ctx, "page", &params.Page); err != nil {
		return err
	}
	if err := bindQuery(ctx, "page_size", &params.PageSize); err != nil {
		return err
	}
	return w.Handler.ListRuntimes(ctx, uuid, params)
}

// EchoRouter is the subset of echo routing used by RegisterHandlers; both
// *echo.Echo and *echo.Group satisfy it.
type EchoRouter interface {
	GET(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	POST(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	PUT(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
	DELETE(path string, h echo.HandlerFunc, m ...echo.MiddlewareFunc) *echo.Route
}

// RegisterHandlers adds each server route to the router.
func RegisterHandlers(router EchoRouter, si ServerInterface) {
	w := &ServerInterfaceWrapper{Handler: si}

	router.POST("/workflows", w.CreateWorkflow)
	router.GET("/workflows/search", w.SearchWorkflows)
	router.GET("/workflows/:uuid", w.withUUID(si.GetWorkflow))
	router.PUT("/workflows/:uuid", w.withUUID(si.UpdateWorkflow))
	router.DELETE("/workflows/:uuid", w.withUUID(si.DeleteWorkflow))
	router.POST("/workflows/:uuid/copy", w.withUUID(si.CopyWorkflow))
	router.POST("/workflows/:uuid/enable", w.withUUID(si.SetWorkflowEnabled))
	router.POST("/workflows/:uuid/public", w.withUUID(si.SetWorkflowPublic))
	router.POST("/workflows/:uuid/run", w.RunWorkflow)
	router.GET("/workflows/:uuid/runtimes", w.ListRuntimes)
	router.DELETE("/workflows/:uuid/runtimes", w.withUUID(si.ClearRuntimes))
	router.GET("/runtimes/:uuid", w.withUUID(si.GetRuntime))
	router.DELETE("/runtimes/:uuid", w.withUUID(si.DeleteRuntime))
	router.GET("/runtimes/:uuid/nodes", w.withUUID(si.ListRuntimeNodes))
	router.POST("/runtimes/:uuid/resume", w.ResumeRuntime)
	router.POST("/runtimes/:uuid/cancel", w.withUUID(si.CancelRuntime))
	router.GET("/runtimes/:uuid/events", w.withUUID(si.ObserveRuntime))
	router.GET("/components", si.ListComponents)
	router.GET("/operators", si.ListOperators)
}
