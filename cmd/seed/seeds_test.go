package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/components"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/engine"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/repository"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/services"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

func TestEmbeddedSeedsAreValid(t *testing.T) {
	seeds, err := loadSeeds(seedsYAML)
	require.NoError(t, err)
	require.Len(t, seeds, 3)

	registry, err := components.NewRegistry(components.Deps{})
	require.NoError(t, err)

	for _, seed := range seeds {
		in, err := seed.input()
		require.NoError(t, err, seed.Title)
		graph := &models.Graph{Nodes: in.Nodes, Edges: in.Edges}
		assert.NoError(t, workflow.ValidateGraph(graph, registry), seed.Title)
	}
}

func TestSeedInput_RemapsIDs(t *testing.T) {
	seeds, err := loadSeeds([]byte(`
workflows:
  - title: Tiny
    nodes:
      - {id: a, kind: start, title: A}
      - id: b
        kind: end
        title: B
        inputs:
          - {name: x, source: node_output, node_uuid: a, key: x}
    edges:
      - {from: a, to: b}
`))
	require.NoError(t, err)
	in, err := seeds[0].input()
	require.NoError(t, err)

	require.Len(t, in.Nodes, 2)
	require.Len(t, in.Edges, 1)
	a, b := in.Nodes[0], in.Nodes[1]
	assert.NotEqual(t, "a", a.UUID)
	assert.Equal(t, a.UUID, in.Edges[0].SourceNodeUUID)
	assert.Equal(t, b.UUID, in.Edges[0].TargetNodeUUID)
	assert.Equal(t, a.UUID, b.InputConfig.Slots[0].NodeUUID)
	assert.Empty(t, a.NodeConfig)
}

func TestSeedInput_UnknownNode(t *testing.T) {
	seeds, err := loadSeeds([]byte(`
workflows:
  - title: Broken
    nodes:
      - {id: a, kind: start, title: A}
    edges:
      - {from: a, to: nowhere}
`))
	require.NoError(t, err)
	_, err = seeds[0].input()
	assert.ErrorContains(t, err, "nowhere")
}

func TestGreetingSeedRuns(t *testing.T) {
	ctx := context.Background()
	seeds, err := loadSeeds(seedsYAML)
	require.NoError(t, err)

	store := repository.NewInMemoryStore()
	registry, err := components.NewRegistry(components.Deps{})
	require.NoError(t, err)
	svc := services.NewWorkflowService(store, registry, nil)
	eng := engine.New(store, registry)
	t.Cleanup(func() { _ = eng.Shutdown(ctx) })

	var greeting *seedWorkflow
	for i := range seeds {
		if seeds[i].Title == "Greeting" {
			greeting = &seeds[i]
		}
	}
	require.NotNil(t, greeting)
	in, err := greeting.input()
	require.NoError(t, err)
	detail, err := svc.Create(ctx, 1, in)
	require.NoError(t, err)

	ri, err := eng.Run(ctx, 1, detail.UUID, nil)
	require.NoError(t, err)
	require.Equal(t, models.RuntimeStatusSuspended, ri.Status)
	assert.Equal(t, "What is your name?", ri.StatusRemark)

	ri, err = eng.ResumeAndWait(ctx, 1, ri.UUID, "Ada")
	require.NoError(t, err)
	require.Equal(t, models.RuntimeStatusCompleted, ri.Status)
	assert.Equal(t, map[string]any{"greeting": "Hello, Ada!"}, ri.Output)
}
