package services

import (
	"context"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/logging"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/repository"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// RuntimeService exposes the execution history of a user.
type RuntimeService struct {
	store  repository.RuntimeStore
	logger *logging.Logger
}

// NewRuntimeService creates a new RuntimeService.
func NewRuntimeService(store repository.RuntimeStore, logger *logging.Logger) *RuntimeService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &RuntimeService{store: store, logger: logger}
}

// List pages through the user's runs of a workflow, newest first. Runs of a
// soft-deleted workflow stay listable.
func (s *RuntimeService) List(ctx context.Context, userID int64, workflowUUID string, page models.PageRequest) (*models.Page[models.RuntimeInstance], error) {
	return s.store.ListRuntimeInstances(ctx, workflowUUID, userID, page)
}

// Get returns one of the user's runtime instances.
func (s *RuntimeService) Get(ctx context.Context, userID int64, runtimeUUID string) (*models.RuntimeInstance, error) {
	ri, err := s.store.GetRuntimeInstance(ctx, runtimeUUID)
	if err != nil {
		return nil, err
	}
	if ri.UserID != userID {
		return nil, workflow.Errorf(workflow.KindForbidden, "runtime %s belongs to another user", runtimeUUID)
	}
	return ri, nil
}

// Nodes returns the executed nodes of a runtime instance in execution order.
func (s *RuntimeService) Nodes(ctx context.Context, userID int64, runtimeUUID string) ([]*models.RuntimeNode, error) {
	if _, err := s.Get(ctx, userID, runtimeUUID); err != nil {
		return nil, err
	}
	return s.store.ListRuntimeNodes(ctx, runtimeUUID)
}

// Delete soft deletes one runtime instance.
func (s *RuntimeService) Delete(ctx context.Context, userID int64, runtimeUUID string) error {
	if _, err := s.Get(ctx, userID, runtimeUUID); err != nil {
		return err
	}
	return s.store.SoftDeleteRuntimeInstance(ctx, runtimeUUID)
}

// Clear soft deletes every run of a workflow by the user.
func (s *RuntimeService) Clear(ctx context.Context, userID int64, workflowUUID string) (int64, error) {
	n, err := s.store.ClearRuntimeInstances(ctx, workflowUUID, userID)
	if err != nil {
		return 0, err
	}
	s.logger.Info("runtime history cleared", "workflow_uuid", workflowUUID, "user_id", userID, "count", n)
	return n, nil
}
