// Package mcp exposes the workflow engine as Model Context Protocol tools.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/auth"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/engine"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
)

type Server struct {
	mcpServer *server.MCPServer
	engine    *engine.Engine
	registry  *workflow.Registry
	operators *workflow.OperatorCatalog
}

func NewServer(eng *engine.Engine, registry *workflow.Registry, operators *workflow.OperatorCatalog, version string) *Server {
	s := &Server{
		mcpServer: server.NewMCPServer(
			"Workflow Engine",
			version,
			server.WithToolCapabilities(true),
		),
		engine:    eng,
		registry:  registry,
		operators: operators,
	}

	s.registerTools()
	return s
}

func (s *Server) GetMCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_operators",
			mcp.WithDescription("List the comparison operators available to switch conditions"),
		),
		s.handleListOperators,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"list_components",
			mcp.WithDescription("List the node kinds a workflow can use"),
		),
		s.handleListComponents,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"run_workflow",
			mcp.WithDescription("Run a workflow until it finishes or waits for user input"),
			mcp.WithString("workflow_uuid", mcp.Required(), mcp.Description("The workflow to run")),
			mcp.WithObject("input", mcp.Description("Run input, available to nodes through external slots")),
		),
		s.handleRunWorkflow,
	)

	s.mcpServer.AddTool(
		mcp.NewTool(
			"resume_workflow",
			mcp.WithDescription("Answer the waiting node of a suspended run and continue it"),
			mcp.WithString("runtime_uuid", mcp.Required(), mcp.Description("The suspended runtime instance")),
			mcp.WithString("feedback", mcp.Required(), mcp.Description("The answer for the waiting node")),
		),
		s.handleResumeWorkflow,
	)
}

func (s *Server) handleListOperators(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.operators.List())
}

func (s *Server) handleListComponents(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.registry.List())
}

func (s *Server) handleRunWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}

	workflowUUID, err := request.RequireString("workflow_uuid")
	if err != nil || workflowUUID == "" {
		return mcp.NewToolResultError("Missing required parameter: workflow_uuid"), nil
	}

	var input map[string]any
	if raw, ok := request.GetArguments()["input"]; ok && raw != nil {
		input, ok = raw.(map[string]any)
		if !ok {
			return mcp.NewToolResultError("Parameter input must be an object"), nil
		}
	}

	ri, err := s.engine.Run(ctx, user.ID, workflowUUID, input)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to run workflow: %v", err)), nil
	}
	return jsonResult(ri)
}

func (s *Server) handleResumeWorkflow(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return mcp.NewToolResultError("Not authenticated"), nil
	}

	runtimeUUID, err := request.RequireString("runtime_uuid")
	if err != nil || runtimeUUID == "" {
		return mcp.NewToolResultError("Missing required parameter: runtime_uuid"), nil
	}
	feedback, err := request.RequireString("feedback")
	if err != nil {
		return mcp.NewToolResultError("Missing required parameter: feedback"), nil
	}

	ri, err := s.engine.ResumeAndWait(ctx, user.ID, runtimeUUID, feedback)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resume workflow: %v", err)), nil
	}
	return jsonResult(ri)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

// MountHTTPHandlers serves the SSE transport under /mcp. The authenticated
// user of the SSE request is carried into every tool call.
func MountHTTPHandlers(mux *http.ServeMux, mcpServer *server.MCPServer) {
	sseServer := server.NewSSEServer(mcpServer,
		server.WithStaticBasePath("/mcp"),
		server.WithSSEContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if user, ok := auth.UserFromContext(r.Context()); ok {
				return auth.WithUser(ctx, user)
			}
			return ctx
		}),
	)

	mux.HandleFunc("/mcp", func(w http.ResponseWriter, r *http.Request) {
		// Direct POST for tool calls
		if r.Method == http.MethodPost {
			sseServer.ServeHTTP(w, r)
			return
		}
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	})

	mux.HandleFunc("/mcp/sse", sseServer.ServeHTTP)
	mux.HandleFunc("/mcp/message", sseServer.ServeHTTP)
}
