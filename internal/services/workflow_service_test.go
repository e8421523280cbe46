package services_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/components"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/repository"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/services"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

const (
	alice int64 = 1
	bob   int64 = 2
)

func newWorkflowService(t *testing.T) (*services.WorkflowService, *repository.InMemoryStore) {
	t.Helper()
	reg, err := components.NewRegistry(components.Deps{})
	require.NoError(t, err)
	store := repository.NewInMemoryStore()
	return services.NewWorkflowService(store, reg, nil), store
}

func greeting() services.CreateWorkflowInput {
	return services.CreateWorkflowInput{
		Title: "Greeting",
		Nodes: []*models.Node{
			{UUID: "start", Kind: components.KindStart, Title: "Start"},
			{
				UUID: "hello", Kind: components.KindTemplate, Title: "Hello",
				NodeConfig: json.RawMessage(`{"template":"hello {{.name}}"}`),
				InputConfig: models.InputConfig{Slots: []models.InputSlot{
					{Name: "name", Source: models.InputSourceNodeOutput, NodeUUID: "start", Key: "name"},
				}},
			},
		},
		Edges: []*models.Edge{{UUID: "e1", SourceNodeUUID: "start", TargetNodeUUID: "hello"}},
	}
}

func TestWorkflowService_CreateDefaultsToStartNode(t *testing.T) {
	svc, _ := newWorkflowService(t)

	d, err := svc.Create(context.Background(), alice, services.CreateWorkflowInput{Title: "Empty"})
	require.NoError(t, err)
	assert.Equal(t, alice, d.UserID)
	assert.Equal(t, 1, d.Version)
	assert.True(t, d.IsEnable)
	require.Len(t, d.Nodes, 1)
	assert.Equal(t, components.KindStart, d.Nodes[0].Kind)
	assert.Empty(t, d.Edges)
}

func TestWorkflowService_CreateValidates(t *testing.T) {
	svc, _ := newWorkflowService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, alice, services.CreateWorkflowInput{Title: "  "})
	assert.ErrorIs(t, err, workflow.ErrValidation)

	in := greeting()
	in.Edges = append(in.Edges, &models.Edge{UUID: "e2", SourceNodeUUID: "hello", TargetNodeUUID: "start"})
	_, err = svc.Create(ctx, alice, in)
	assert.ErrorIs(t, err, workflow.ErrValidation, "cycles are rejected")

	in = greeting()
	in.Nodes[1].Kind = "teleport"
	_, err = svc.Create(ctx, alice, in)
	assert.ErrorIs(t, err, workflow.ErrValidation)
}

func TestWorkflowService_Update(t *testing.T) {
	svc, _ := newWorkflowService(t)
	ctx := context.Background()
	d, err := svc.Create(ctx, alice, greeting())
	require.NoError(t, err)

	updated, err := svc.Update(ctx, alice, d.UUID, services.UpdateWorkflowInput{
		Title:   "Greeting v2",
		Version: d.Version,
		GraphUpdate: models.GraphUpdate{
			Nodes: []*models.Node{{UUID: "end", Kind: components.KindEnd, Title: "End"}},
			Edges: []*models.Edge{{UUID: "e2", SourceNodeUUID: "hello", TargetNodeUUID: "end"}},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Greeting v2", updated.Title)
	assert.Equal(t, d.Version+1, updated.Version)
	assert.Len(t, updated.Nodes, 3)
	assert.Len(t, updated.Edges, 2)

	t.Run("stale version conflicts", func(t *testing.T) {
		_, err := svc.Update(ctx, alice, d.UUID, services.UpdateWorkflowInput{Version: d.Version})
		assert.ErrorIs(t, err, workflow.ErrConflict)
	})

	t.Run("invalid result is not written", func(t *testing.T) {
		_, err := svc.Update(ctx, alice, d.UUID, services.UpdateWorkflowInput{
			Version: updated.Version,
			GraphUpdate: models.GraphUpdate{
				Edges: []*models.Edge{{UUID: "e3", SourceNodeUUID: "end", TargetNodeUUID: "start"}},
			},
		})
		assert.ErrorIs(t, err, workflow.ErrValidation)

		got, err := svc.Get(ctx, alice, d.UUID)
		require.NoError(t, err)
		assert.Equal(t, updated.Version, got.Version)
		assert.Len(t, got.Edges, 2)
	})

	t.Run("deleting a node drops its edges", func(t *testing.T) {
		got, err := svc.Update(ctx, alice, d.UUID, services.UpdateWorkflowInput{
			Version:     updated.Version,
			GraphUpdate: models.GraphUpdate{DeletedNodeUUIDs: []string{"end"}},
		})
		require.NoError(t, err)
		assert.Len(t, got.Nodes, 2)
		assert.Len(t, got.Edges, 1)
		assert.Equal(t, "Greeting v2", got.Title, "an empty title keeps the current one")
	})

	t.Run("non-owner is forbidden", func(t *testing.T) {
		_, err := svc.Update(ctx, bob, d.UUID, services.UpdateWorkflowInput{Version: updated.Version + 1})
		assert.ErrorIs(t, err, workflow.ErrForbidden)
	})
}

// racingStore lets another writer commit between the service's version
// check and its graph write.
type racingStore struct {
	*repository.InMemoryStore
	armed bool
}

func (s *racingStore) LoadGraph(ctx context.Context, workflowUUID string) (*models.Graph, error) {
	if s.armed {
		s.armed = false
		wf, err := s.GetWorkflow(ctx, workflowUUID)
		if err != nil {
			return nil, err
		}
		if err := s.ReplaceGraph(ctx, workflowUUID, wf.Version, &models.GraphUpdate{}); err != nil {
			return nil, err
		}
	}
	return s.InMemoryStore.LoadGraph(ctx, workflowUUID)
}

func TestWorkflowService_UpdateLosingRaceWritesNothing(t *testing.T) {
	ctx := context.Background()
	reg, err := components.NewRegistry(components.Deps{})
	require.NoError(t, err)
	store := &racingStore{InMemoryStore: repository.NewInMemoryStore()}
	svc := services.NewWorkflowService(store, reg, nil)

	d, err := svc.Create(ctx, alice, greeting())
	require.NoError(t, err)
	store.armed = true

	_, err = svc.Update(ctx, alice, d.UUID, services.UpdateWorkflowInput{
		Title:   "Renamed",
		Remark:  "new remark",
		Version: d.Version,
		GraphUpdate: models.GraphUpdate{
			Nodes: []*models.Node{{UUID: "end", Kind: components.KindEnd, Title: "End"}},
			Edges: []*models.Edge{{UUID: "e2", SourceNodeUUID: "hello", TargetNodeUUID: "end"}},
		},
	})
	require.ErrorIs(t, err, workflow.ErrConflict)

	got, err := svc.Get(ctx, alice, d.UUID)
	require.NoError(t, err)
	assert.Equal(t, "Greeting", got.Title)
	assert.Empty(t, got.Remark)
	assert.Equal(t, d.Version+1, got.Version, "only the competing write landed")
	assert.Len(t, got.Nodes, 2)
}

func TestWorkflowService_Sharing(t *testing.T) {
	svc, _ := newWorkflowService(t)
	ctx := context.Background()
	d, err := svc.Create(ctx, alice, greeting())
	require.NoError(t, err)

	_, err = svc.Get(ctx, bob, d.UUID)
	assert.ErrorIs(t, err, workflow.ErrForbidden)
	assert.ErrorIs(t, svc.SetPublic(ctx, bob, d.UUID, true), workflow.ErrForbidden)

	require.NoError(t, svc.SetPublic(ctx, alice, d.UUID, true))
	got, err := svc.Get(ctx, bob, d.UUID)
	require.NoError(t, err)
	assert.True(t, got.IsPublic)

	public := true
	page, err := svc.Search(ctx, bob, models.WorkflowSearch{IsPublic: &public, Keyword: " greet "})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, d.UUID, page.Records[0].UUID)

	page, err = svc.Search(ctx, bob, models.WorkflowSearch{})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Total, "bob owns nothing")

	assert.ErrorIs(t, svc.Delete(ctx, bob, d.UUID), workflow.ErrForbidden)
	require.NoError(t, svc.Delete(ctx, alice, d.UUID))
	_, err = svc.Get(ctx, alice, d.UUID)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestWorkflowService_CopyIsIndependent(t *testing.T) {
	svc, _ := newWorkflowService(t)
	ctx := context.Background()
	src, err := svc.Create(ctx, alice, greeting())
	require.NoError(t, err)

	_, err = svc.Copy(ctx, bob, src.UUID)
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	require.NoError(t, svc.SetPublic(ctx, alice, src.UUID, true))
	cp, err := svc.Copy(ctx, bob, src.UUID)
	require.NoError(t, err)
	assert.NotEqual(t, src.UUID, cp.UUID)
	assert.Equal(t, bob, cp.UserID)
	assert.False(t, cp.IsPublic)
	require.Len(t, cp.Nodes, 2)

	ids := map[string]bool{}
	for _, n := range cp.Nodes {
		assert.NotEqual(t, "start", n.UUID)
		assert.NotEqual(t, "hello", n.UUID)
		ids[n.UUID] = true
	}
	require.Len(t, cp.Edges, 1)
	assert.True(t, ids[cp.Edges[0].SourceNodeUUID])
	assert.True(t, ids[cp.Edges[0].TargetNodeUUID])
	for _, n := range cp.Nodes {
		for _, s := range n.InputConfig.Slots {
			assert.True(t, ids[s.NodeUUID], "slot references are remapped into the copy")
		}
	}

	_, err = svc.Update(ctx, bob, cp.UUID, services.UpdateWorkflowInput{
		Version:     cp.Version,
		GraphUpdate: models.GraphUpdate{DeletedNodeUUIDs: []string{cp.Nodes[1].UUID}},
	})
	require.NoError(t, err)

	orig, err := svc.Get(ctx, alice, src.UUID)
	require.NoError(t, err)
	assert.Len(t, orig.Nodes, 2)
	assert.Len(t, orig.Edges, 1)
}

func TestWorkflowService_SetEnabled(t *testing.T) {
	svc, _ := newWorkflowService(t)
	ctx := context.Background()
	d, err := svc.Create(ctx, alice, greeting())
	require.NoError(t, err)

	require.NoError(t, svc.SetEnabled(ctx, alice, d.UUID, false))
	got, err := svc.Get(ctx, alice, d.UUID)
	require.NoError(t, err)
	assert.False(t, got.IsEnable)
	assert.ErrorIs(t, svc.SetEnabled(ctx, bob, d.UUID, true), workflow.ErrForbidden)
}
