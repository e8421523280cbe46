package repository

import (
	"context"

	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// UserStore resolves the users that own workflows and runs.
type UserStore interface {
	// GetUserByEmail retrieves a user by email; ErrNotFound when missing.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	// CreateUser inserts a user and fills its ID and UUID.
	CreateUser(ctx context.Context, user *models.User) error
}

// GraphStore persists workflow definitions and their node/edge sets.
type GraphStore interface {
	// CreateWorkflow inserts a workflow together with an initial graph.
	CreateWorkflow(ctx context.Context, workflow *models.Workflow, graph *models.Graph) error
	// GetWorkflow retrieves a non-deleted workflow by UUID.
	GetWorkflow(ctx context.Context, uuid string) (*models.Workflow, error)
	// SetWorkflowEnabled toggles the enabled flag.
	SetWorkflowEnabled(ctx context.Context, uuid string, enabled bool) error
	// SetWorkflowPublic toggles the public flag.
	SetWorkflowPublic(ctx context.Context, uuid string, public bool) error
	// SoftDeleteWorkflow marks a workflow deleted; runtime history stays.
	SoftDeleteWorkflow(ctx context.Context, uuid string) error
	// SearchWorkflows pages through non-deleted workflows.
	SearchWorkflows(ctx context.Context, search models.WorkflowSearch) (*models.Page[models.Workflow], error)
	// LoadGraph returns the nodes and edges of a workflow.
	LoadGraph(ctx context.Context, workflowUUID string) (*models.Graph, error)
	// ReplaceGraph applies an upsert-and-delete in one transaction, provided
	// the workflow is still at expectedVersion; otherwise ErrConflict.
	ReplaceGraph(ctx context.Context, workflowUUID string, expectedVersion int, update *models.GraphUpdate) error
}

// RuntimeStore persists workflow executions.
type RuntimeStore interface {
	// CreateRuntimeInstance inserts a new instance.
	CreateRuntimeInstance(ctx context.Context, instance *models.RuntimeInstance) error
	// GetRuntimeInstance retrieves a non-deleted instance by UUID.
	GetRuntimeInstance(ctx context.Context, uuid string) (*models.RuntimeInstance, error)
	// TransitionRuntimeInstance writes t only if the instance is currently in
	// status from; otherwise ErrConflict.
	TransitionRuntimeInstance(ctx context.Context, uuid string, from models.RuntimeStatus, t models.RuntimeTransition) error
	// ListRuntimeInstances pages through a user's runs of a workflow, newest first.
	ListRuntimeInstances(ctx context.Context, workflowUUID string, userID int64, page models.PageRequest) (*models.Page[models.RuntimeInstance], error)
	// SoftDeleteRuntimeInstance marks one instance deleted.
	SoftDeleteRuntimeInstance(ctx context.Context, uuid string) error
	// ClearRuntimeInstances marks every run of a workflow by a user deleted.
	ClearRuntimeInstances(ctx context.Context, workflowUUID string, userID int64) (int64, error)
	// SaveRuntimeNode inserts a terminal node record.
	SaveRuntimeNode(ctx context.Context, runtimeUUID string, node *models.RuntimeNode) error
	// ListRuntimeNodes returns the node records of an instance in write order.
	ListRuntimeNodes(ctx context.Context, runtimeUUID string) ([]*models.RuntimeNode, error)
}

// Repository is the full persistence surface of the service.
type Repository interface {
	UserStore
	GraphStore
	RuntimeStore
	// Ping checks store connectivity.
	Ping(ctx context.Context) error
}
