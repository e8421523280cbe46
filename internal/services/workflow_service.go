package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/logging"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/repository"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// CreateWorkflowInput is the payload of a workflow creation.
type CreateWorkflowInput struct {
	Title    string         `json:"title"`
	Remark   string         `json:"remark"`
	IsPublic bool           `json:"is_public"`
	Nodes    []*models.Node `json:"nodes"`
	Edges    []*models.Edge `json:"edges"`
}

// UpdateWorkflowInput is the payload of a workflow update. Version must be
// the version the caller read; the graph update is applied on top of it.
type UpdateWorkflowInput struct {
	Title   string `json:"title"`
	Remark  string `json:"remark"`
	Version int    `json:"version"`
	models.GraphUpdate
}

// WorkflowService manages workflow definitions on behalf of a user.
type WorkflowService struct {
	store    repository.GraphStore
	registry *workflow.Registry
	logger   *logging.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(store repository.GraphStore, registry *workflow.Registry, logger *logging.Logger) *WorkflowService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &WorkflowService{store: store, registry: registry, logger: logger}
}

// Create validates and stores a new workflow owned by userID. A workflow
// created without nodes starts with a single start node.
func (s *WorkflowService) Create(ctx context.Context, userID int64, in CreateWorkflowInput) (*models.WorkflowDetail, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, workflow.Errorf(workflow.KindValidation, "title is required")
	}
	graph := &models.Graph{Nodes: in.Nodes, Edges: in.Edges}
	if len(graph.Nodes) == 0 {
		graph.Nodes = []*models.Node{{UUID: uuid.NewString(), Kind: "start", Title: "Start"}}
	}
	if err := workflow.ValidateGraph(graph, s.registry); err != nil {
		return nil, err
	}

	wf := &models.Workflow{
		UserID:   userID,
		Title:    in.Title,
		Remark:   in.Remark,
		IsPublic: in.IsPublic,
		IsEnable: true,
	}
	if err := s.store.CreateWorkflow(ctx, wf, graph); err != nil {
		return nil, err
	}
	s.logger.Info("workflow created", "workflow_uuid", wf.UUID, "user_id", userID, "nodes", len(graph.Nodes))
	return s.detail(ctx, wf)
}

// Copy deep copies a workflow the user can read into a new private
// workflow owned by the user.
func (s *WorkflowService) Copy(ctx context.Context, userID int64, sourceUUID string) (*models.WorkflowDetail, error) {
	src, err := s.readable(ctx, userID, sourceUUID)
	if err != nil {
		return nil, err
	}
	graph, err := s.store.LoadGraph(ctx, sourceUUID)
	if err != nil {
		return nil, err
	}

	wf := &models.Workflow{
		UserID:   userID,
		Title:    src.Title,
		Remark:   src.Remark,
		IsEnable: true,
	}
	if err := s.store.CreateWorkflow(ctx, wf, workflow.CloneGraph(graph)); err != nil {
		return nil, err
	}
	s.logger.Info("workflow copied", "source_uuid", sourceUUID, "workflow_uuid", wf.UUID, "user_id", userID)
	return s.detail(ctx, wf)
}

// Update changes title and remark and applies the graph update. The
// resulting graph is validated as a whole before anything is written.
func (s *WorkflowService) Update(ctx context.Context, userID int64, workflowUUID string, in UpdateWorkflowInput) (*models.WorkflowDetail, error) {
	wf, err := s.owned(ctx, userID, workflowUUID)
	if err != nil {
		return nil, err
	}
	if in.Version != wf.Version {
		return nil, workflow.Errorf(workflow.KindConflict, "workflow %s is at version %d, not %d", workflowUUID, wf.Version, in.Version)
	}

	current, err := s.store.LoadGraph(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}
	next := workflow.ApplyUpdate(current, &in.GraphUpdate)
	if err := workflow.ValidateGraph(next, s.registry); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = wf.Title
	}
	update := in.GraphUpdate
	update.Info = &models.WorkflowInfo{Title: title, Remark: in.Remark}
	if err := s.store.ReplaceGraph(ctx, workflowUUID, in.Version, &update); err != nil {
		return nil, err
	}
	s.logger.Info("workflow updated", "workflow_uuid", workflowUUID, "version", in.Version+1)

	updated, err := s.store.GetWorkflow(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, updated)
}

// Get returns a workflow with its graph.
func (s *WorkflowService) Get(ctx context.Context, userID int64, workflowUUID string) (*models.WorkflowDetail, error) {
	wf, err := s.readable(ctx, userID, workflowUUID)
	if err != nil {
		return nil, err
	}
	return s.detail(ctx, wf)
}

// SetEnabled enables or disables a workflow for execution.
func (s *WorkflowService) SetEnabled(ctx context.Context, userID int64, workflowUUID string, enabled bool) error {
	if _, err := s.owned(ctx, userID, workflowUUID); err != nil {
		return err
	}
	return s.store.SetWorkflowEnabled(ctx, workflowUUID, enabled)
}

// SetPublic shares or unshares a workflow.
func (s *WorkflowService) SetPublic(ctx context.Context, userID int64, workflowUUID string, public bool) error {
	if _, err := s.owned(ctx, userID, workflowUUID); err != nil {
		return err
	}
	return s.store.SetWorkflowPublic(ctx, workflowUUID, public)
}

// Delete soft deletes a workflow. Its runtime history is kept.
func (s *WorkflowService) Delete(ctx context.Context, userID int64, workflowUUID string) error {
	if _, err := s.owned(ctx, userID, workflowUUID); err != nil {
		return err
	}
	if err := s.store.SoftDeleteWorkflow(ctx, workflowUUID); err != nil {
		return err
	}
	s.logger.Info("workflow deleted", "workflow_uuid", workflowUUID, "user_id", userID)
	return nil
}

// Search pages through the user's workflows, or through public workflows
// when search.IsPublic is true.
func (s *WorkflowService) Search(ctx context.Context, userID int64, search models.WorkflowSearch) (*models.Page[models.Workflow], error) {
	search.UserID = userID
	search.Keyword = strings.TrimSpace(search.Keyword)
	return s.store.SearchWorkflows(ctx, search)
}

func (s *WorkflowService) readable(ctx context.Context, userID int64, workflowUUID string) (*models.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}
	if !wf.ReadableBy(userID) {
		return nil, workflow.Errorf(workflow.KindForbidden, "workflow %s is not shared", workflowUUID)
	}
	return wf, nil
}

func (s *WorkflowService) owned(ctx context.Context, userID int64, workflowUUID string) (*models.Workflow, error) {
	wf, err := s.store.GetWorkflow(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}
	if wf.UserID != userID {
		return nil, workflow.Errorf(workflow.KindForbidden, "workflow %s belongs to another user", workflowUUID)
	}
	return wf, nil
}

func (s *WorkflowService) detail(ctx context.Context, wf *models.Workflow) (*models.WorkflowDetail, error) {
	graph, err := s.store.LoadGraph(ctx, wf.UUID)
	if err != nil {
		return nil, err
	}
	return &models.WorkflowDetail{Workflow: wf, Nodes: graph.Nodes, Edges: graph.Edges}, nil
}
