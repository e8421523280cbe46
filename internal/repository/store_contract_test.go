package repository

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

func sampleGraph() *models.Graph {
	start, end := uuid.NewString(), uuid.NewString()
	return &models.Graph{
		Nodes: []*models.Node{
			{UUID: start, Kind: "start", Title: "Start"},
			{
				UUID: end, Kind: "end", Title: "End",
				InputConfig: models.InputConfig{Slots: []models.InputSlot{
					{Name: "result", Source: models.InputSourceNodeOutput, NodeUUID: start, Key: "q"},
				}},
				NodeConfig: json.RawMessage(`{"note":"x"}`),
			},
		},
		Edges: []*models.Edge{{UUID: uuid.NewString(), SourceNodeUUID: start, TargetNodeUUID: end}},
	}
}

// runStoreContract exercises the behaviour every Repository implementation shares.
func runStoreContract(t *testing.T, store Repository) {
	ctx := context.Background()

	owner := &models.User{Email: uuid.NewString() + "@example.com", Name: "Owner"}
	require.NoError(t, store.CreateUser(ctx, owner))
	require.NotZero(t, owner.ID)

	t.Run("Users", func(t *testing.T) {
		got, err := store.GetUserByEmail(ctx, owner.Email)
		require.NoError(t, err)
		assert.Equal(t, owner.ID, got.ID)

		_, err = store.GetUserByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, workflow.ErrNotFound)
	})

	t.Run("Workflow create and graph round trip", func(t *testing.T) {
		g := sampleGraph()
		wf := &models.Workflow{UserID: owner.ID, Title: "Round trip", IsEnable: true}
		require.NoError(t, store.CreateWorkflow(ctx, wf, g))
		assert.Equal(t, 1, wf.Version)

		loaded, err := store.LoadGraph(ctx, wf.UUID)
		require.NoError(t, err)
		require.Len(t, loaded.Nodes, 2)
		require.Len(t, loaded.Edges, 1)
		assert.Equal(t, g.Nodes[0].UUID, loaded.Nodes[0].UUID)
		assert.Equal(t, g.Nodes[1].InputConfig, loaded.Nodes[1].InputConfig)
		assert.JSONEq(t, `{"note":"x"}`, string(loaded.Nodes[1].NodeConfig))

		_, err = store.LoadGraph(ctx, uuid.NewString())
		assert.ErrorIs(t, err, workflow.ErrNotFound)
	})

	t.Run("ReplaceGraph bumps version and rejects stale writes", func(t *testing.T) {
		g := sampleGraph()
		wf := &models.Workflow{UserID: owner.ID, Title: "Versioned", IsEnable: true}
		require.NoError(t, store.CreateWorkflow(ctx, wf, g))

		extra := &models.Node{UUID: uuid.NewString(), Kind: "template", Title: "Extra"}
		update := &models.GraphUpdate{
			Nodes:            []*models.Node{extra},
			Edges:            []*models.Edge{{UUID: uuid.NewString(), SourceNodeUUID: g.Nodes[0].UUID, TargetNodeUUID: extra.UUID}},
			DeletedNodeUUIDs: []string{g.Nodes[1].UUID},
		}
		require.NoError(t, store.ReplaceGraph(ctx, wf.UUID, 1, update))

		loaded, err := store.LoadGraph(ctx, wf.UUID)
		require.NoError(t, err)
		require.Len(t, loaded.Nodes, 2)
		assert.Nil(t, loaded.Node(g.Nodes[1].UUID))
		require.Len(t, loaded.Edges, 1, "edge into the deleted node goes with it")
		assert.Equal(t, extra.UUID, loaded.Edges[0].TargetNodeUUID)

		got, err := store.GetWorkflow(ctx, wf.UUID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.Version)

		err = store.ReplaceGraph(ctx, wf.UUID, 1, &models.GraphUpdate{
			Info: &models.WorkflowInfo{Title: "Stale rename"},
		})
		assert.ErrorIs(t, err, workflow.ErrConflict)
		got, err = store.GetWorkflow(ctx, wf.UUID)
		require.NoError(t, err)
		assert.Equal(t, wf.Title, got.Title, "a stale write changes nothing")
	})

	t.Run("Flags, search and soft delete", func(t *testing.T) {
		wf := &models.Workflow{UserID: owner.ID, Title: "Searchable Pipeline " + uuid.NewString(), IsEnable: true}
		require.NoError(t, store.CreateWorkflow(ctx, wf, nil))

		require.NoError(t, store.ReplaceGraph(ctx, wf.UUID, 1, &models.GraphUpdate{
			Info: &models.WorkflowInfo{Title: wf.Title, Remark: "remark"},
		}))
		require.NoError(t, store.SetWorkflowEnabled(ctx, wf.UUID, false))
		require.NoError(t, store.SetWorkflowPublic(ctx, wf.UUID, true))

		got, err := store.GetWorkflow(ctx, wf.UUID)
		require.NoError(t, err)
		assert.Equal(t, "remark", got.Remark)
		assert.False(t, got.IsEnable)
		assert.True(t, got.IsPublic)

		public := true
		page, err := store.SearchWorkflows(ctx, models.WorkflowSearch{Keyword: "searchable pipeline", IsPublic: &public})
		require.NoError(t, err)
		require.Equal(t, 1, page.Total)
		assert.Equal(t, wf.UUID, page.Records[0].UUID)

		private := false
		page, err = store.SearchWorkflows(ctx, models.WorkflowSearch{Keyword: "searchable pipeline", IsPublic: &private, UserID: owner.ID})
		require.NoError(t, err)
		assert.Equal(t, 0, page.Total)

		require.NoError(t, store.SoftDeleteWorkflow(ctx, wf.UUID))
		_, err = store.GetWorkflow(ctx, wf.UUID)
		assert.ErrorIs(t, err, workflow.ErrNotFound)
		assert.ErrorIs(t, store.SetWorkflowPublic(ctx, wf.UUID, false), workflow.ErrNotFound)
	})

	t.Run("Runtime lifecycle", func(t *testing.T) {
		g := sampleGraph()
		wf := &models.Workflow{UserID: owner.ID, Title: "Runs", IsEnable: true}
		require.NoError(t, store.CreateWorkflow(ctx, wf, g))

		ri := &models.RuntimeInstance{
			UserID:        owner.ID,
			WorkflowUUID:  wf.UUID,
			Input:         map[string]any{"q": "hello"},
			Status:        models.RuntimeStatusRunning,
			GraphSnapshot: g,
		}
		require.NoError(t, store.CreateRuntimeInstance(ctx, ri))

		got, err := store.GetRuntimeInstance(ctx, ri.UUID)
		require.NoError(t, err)
		assert.Equal(t, "hello", got.Input["q"])
		require.NotNil(t, got.GraphSnapshot)
		assert.Len(t, got.GraphSnapshot.Nodes, 2)

		rn := &models.RuntimeNode{
			NodeUUID: g.Nodes[0].UUID, NodeTitle: "Start", Kind: "start",
			Input: map[string]any{}, Output: map[string]any{"q": "hello"}, Status: models.NodeStatusCompleted,
		}
		require.NoError(t, store.SaveRuntimeNode(ctx, ri.UUID, rn))

		require.NoError(t, store.TransitionRuntimeInstance(ctx, ri.UUID, models.RuntimeStatusRunning, models.RuntimeTransition{
			To: models.RuntimeStatusSuspended, WaitingNodeUUID: g.Nodes[1].UUID,
		}))
		err = store.TransitionRuntimeInstance(ctx, ri.UUID, models.RuntimeStatusRunning, models.RuntimeTransition{To: models.RuntimeStatusCompleted})
		assert.ErrorIs(t, err, workflow.ErrConflict)

		require.NoError(t, store.TransitionRuntimeInstance(ctx, ri.UUID, models.RuntimeStatusSuspended, models.RuntimeTransition{To: models.RuntimeStatusRunning}))
		require.NoError(t, store.TransitionRuntimeInstance(ctx, ri.UUID, models.RuntimeStatusRunning, models.RuntimeTransition{
			To: models.RuntimeStatusCompleted, Output: map[string]any{"result": "hello"},
		}))

		got, err = store.GetRuntimeInstance(ctx, ri.UUID)
		require.NoError(t, err)
		assert.Equal(t, models.RuntimeStatusCompleted, got.Status)
		assert.Equal(t, "hello", got.Output["result"])
		assert.Empty(t, got.WaitingNodeUUID)

		nodes, err := store.ListRuntimeNodes(ctx, ri.UUID)
		require.NoError(t, err)
		require.Len(t, nodes, 1)
		assert.Equal(t, "hello", nodes[0].Output["q"])
		assert.Equal(t, models.NodeStatusCompleted, nodes[0].Status)

		second := &models.RuntimeInstance{UserID: owner.ID, WorkflowUUID: wf.UUID, Status: models.RuntimeStatusRunning, GraphSnapshot: g}
		require.NoError(t, store.CreateRuntimeInstance(ctx, second))

		page, err := store.ListRuntimeInstances(ctx, wf.UUID, owner.ID, models.PageRequest{})
		require.NoError(t, err)
		require.Equal(t, 2, page.Total)
		assert.Equal(t, second.UUID, page.Records[0].UUID, "newest first")
		assert.Nil(t, page.Records[0].GraphSnapshot)

		require.NoError(t, store.SoftDeleteRuntimeInstance(ctx, second.UUID))
		_, err = store.GetRuntimeInstance(ctx, second.UUID)
		assert.ErrorIs(t, err, workflow.ErrNotFound)

		cleared, err := store.ClearRuntimeInstances(ctx, wf.UUID, owner.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), cleared)

		page, err = store.ListRuntimeInstances(ctx, wf.UUID, owner.ID, models.PageRequest{})
		require.NoError(t, err)
		assert.Equal(t, 0, page.Total)
	})

	t.Run("Missing runtime", func(t *testing.T) {
		missing := uuid.NewString()
		_, err := store.GetRuntimeInstance(ctx, missing)
		assert.ErrorIs(t, err, workflow.ErrNotFound)
		err = store.TransitionRuntimeInstance(ctx, missing, models.RuntimeStatusSuspended, models.RuntimeTransition{To: models.RuntimeStatusRunning})
		assert.ErrorIs(t, err, workflow.ErrNotFound)
		assert.ErrorIs(t, store.SaveRuntimeNode(ctx, missing, &models.RuntimeNode{NodeUUID: "n", Status: models.NodeStatusCompleted}), workflow.ErrNotFound)
	})
}

func TestInMemoryStore(t *testing.T) {
	runStoreContract(t, NewInMemoryStore())
}

func TestInMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	g := sampleGraph()
	wf := &models.Workflow{UserID: 1, Title: "Copies"}
	require.NoError(t, store.CreateWorkflow(ctx, wf, g))

	g.Nodes[0].Title = "mutated after create"
	loaded, err := store.LoadGraph(ctx, wf.UUID)
	require.NoError(t, err)
	assert.Equal(t, "Start", loaded.Nodes[0].Title)

	loaded.Nodes[0].Title = "mutated after load"
	again, err := store.LoadGraph(ctx, wf.UUID)
	require.NoError(t, err)
	assert.Equal(t, "Start", again.Nodes[0].Title)
}
