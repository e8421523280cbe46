package engine_test

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/components"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/engine"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/repository"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/stream"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

const owner int64 = 7

// blocker waits until its context ends.
type blocker struct{}

func (blocker) Info() models.ComponentInfo { return models.ComponentInfo{Kind: "block", Title: "Block"} }
func (blocker) ConfigSchema() *jsonschema.Schema { return nil }
func (blocker) Execute(ctx context.Context, _ *models.Node, _ workflow.Inputs, _ *workflow.ExecContext) workflow.Result {
	<-ctx.Done()
	return workflow.FailedWith(ctx.Err())
}

// gauge records how many of its executions overlap.
type gauge struct {
	cur, peak atomic.Int32
}

func (g *gauge) Info() models.ComponentInfo { return models.ComponentInfo{Kind: "gauge", Title: "Gauge"} }
func (g *gauge) ConfigSchema() *jsonschema.Schema { return nil }
func (g *gauge) Execute(_ context.Context, n *models.Node, _ workflow.Inputs, _ *workflow.ExecContext) workflow.Result {
	now := g.cur.Add(1)
	for {
		seen := g.peak.Load()
		if now <= seen || g.peak.CompareAndSwap(seen, now) {
			break
		}
	}
	time.Sleep(30 * time.Millisecond)
	g.cur.Add(-1)
	return workflow.Completed(map[string]any{"output": n.UUID})
}

type fixture struct {
	store  *repository.InMemoryStore
	engine *engine.Engine
	gauge  *gauge
}

func newFixture(t *testing.T, opts ...engine.Option) *fixture {
	t.Helper()
	reg, err := components.NewRegistry(components.Deps{})
	require.NoError(t, err)
	g := &gauge{}
	require.NoError(t, reg.Register(blocker{}))
	require.NoError(t, reg.Register(g))

	store := repository.NewInMemoryStore()
	e := engine.New(store, reg, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return &fixture{store: store, engine: e, gauge: g}
}

type builder struct {
	g models.Graph
}

func (b *builder) node(id, kind, cfg string, slots ...models.InputSlot) *builder {
	n := &models.Node{UUID: id, Kind: kind, Title: id, InputConfig: models.InputConfig{Slots: slots}}
	if cfg != "" {
		n.NodeConfig = json.RawMessage(cfg)
	}
	b.g.Nodes = append(b.g.Nodes, n)
	return b
}

func (b *builder) edge(from, to string) *builder { return b.branch(from, "", to) }

func (b *builder) branch(from, handle, to string) *builder {
	b.g.Edges = append(b.g.Edges, &models.Edge{
		UUID: from + "->" + to, SourceNodeUUID: from, SourceHandle: handle, TargetNodeUUID: to,
	})
	return b
}

func output(name, nodeUUID, key string) models.InputSlot {
	return models.InputSlot{Name: name, Source: models.InputSourceNodeOutput, NodeUUID: nodeUUID, Key: key}
}

func (f *fixture) create(t *testing.T, b *builder) string {
	t.Helper()
	wf := &models.Workflow{UserID: owner, Title: t.Name(), IsEnable: true}
	require.NoError(t, f.store.CreateWorkflow(context.Background(), wf, &b.g))
	return wf.UUID
}

func (f *fixture) nodes(t *testing.T, runtimeUUID string) map[string]*models.RuntimeNode {
	t.Helper()
	rows, err := f.store.ListRuntimeNodes(context.Background(), runtimeUUID)
	require.NoError(t, err)
	out := make(map[string]*models.RuntimeNode, len(rows))
	for _, rn := range rows {
		out[rn.NodeUUID] = rn
	}
	return out
}

func drain(t *testing.T, sub *stream.Subscription) []models.ExecutionEvent {
	t.Helper()
	var out []models.ExecutionEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("event stream did not close")
		}
	}
}

const bigSmallSwitch = `{"cases":[
	{"handle":"big","conditions":[{"input":"n","operator":"greater_than","operand":10}]},
	{"handle":"small","conditions":[{"operator":"default"}]}
]}`

func bigSmall() *builder {
	b := &builder{}
	return b.
		node("start", components.KindStart, "").
		node("switch", components.KindSwitch, bigSmallSwitch, output("n", "start", "n")).
		node("big", components.KindTemplate, `{"template":"big {{.n}}"}`, output("n", "start", "n")).
		node("small", components.KindTemplate, `{"template":"small {{.n}}"}`, output("n", "start", "n")).
		node("end", components.KindEnd, "", output("big", "big", ""), output("small", "small", "")).
		edge("start", "switch").
		branch("switch", "big", "big").
		branch("switch", "small", "small").
		edge("big", "end").
		edge("small", "end")
}

func TestRun_SwitchTakesOneBranch(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, bigSmall())

	tests := []struct {
		n        int
		taken    string
		skipped  string
		expected map[string]any
	}{
		{n: 15, taken: "big", skipped: "small", expected: map[string]any{"big": "big 15"}},
		{n: 5, taken: "small", skipped: "big", expected: map[string]any{"small": "small 5"}},
	}
	for _, tt := range tests {
		ri, err := f.engine.Run(context.Background(), owner, wf, map[string]any{"n": tt.n})
		require.NoError(t, err)
		assert.Equal(t, models.RuntimeStatusCompleted, ri.Status)
		assert.Equal(t, tt.expected, ri.Output)

		nodes := f.nodes(t, ri.UUID)
		assert.Len(t, nodes, 4)
		assert.Contains(t, nodes, tt.taken)
		assert.NotContains(t, nodes, tt.skipped)
		assert.Equal(t, tt.taken, nodes["switch"].SelectedHandle)
		for _, rn := range nodes {
			assert.Equal(t, models.NodeStatusCompleted, rn.Status)
		}
	}
}

func TestRun_EqualsOrDefault(t *testing.T) {
	f := newFixture(t)
	b := &builder{}
	b.node("start", components.KindStart, "").
		node("switch", components.KindSwitch, `{"cases":[
			{"handle":"a","conditions":[{"input":"x","operator":"equals","operand":"A"}]},
			{"handle":"other","conditions":[{"operator":"default"}]}
		]}`, output("x", "start", "x")).
		node("a", components.KindEnd, "").
		node("other", components.KindEnd, "").
		edge("start", "switch").
		branch("switch", "a", "a").
		branch("switch", "other", "other")
	wf := f.create(t, b)

	for input, handle := range map[string]string{"A": "a", "B": "other"} {
		ri, err := f.engine.Run(context.Background(), owner, wf, map[string]any{"x": input})
		require.NoError(t, err)
		require.Equal(t, models.RuntimeStatusCompleted, ri.Status)
		assert.Equal(t, handle, f.nodes(t, ri.UUID)["switch"].SelectedHandle)
	}
}

func TestRun_NoMatchingBranchFails(t *testing.T) {
	f := newFixture(t)
	b := &builder{}
	b.node("start", components.KindStart, "").
		node("switch", components.KindSwitch, `{"cases":[
			{"handle":"a","conditions":[{"input":"x","operator":"equals","operand":"A"}]}
		]}`, output("x", "start", "x")).
		node("a", components.KindEnd, "").
		edge("start", "switch").
		branch("switch", "a", "a")
	wf := f.create(t, b)

	ri, err := f.engine.Run(context.Background(), owner, wf, map[string]any{"x": "B"})
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeStatusFailed, ri.Status)
	assert.Equal(t, string(workflow.KindNoMatchingBranch), ri.ErrorKind)

	nodes := f.nodes(t, ri.UUID)
	require.Len(t, nodes, 2)
	assert.Equal(t, models.NodeStatusFailed, nodes["switch"].Status)
	assert.Equal(t, string(workflow.KindNoMatchingBranch), nodes["switch"].ErrorKind)
	assert.NotContains(t, nodes, "a")
}

func askFlow() *builder {
	b := &builder{}
	return b.
		node("start", components.KindStart, "").
		node("ask", components.KindUserInput, `{"prompt":"Proceed?"}`).
		node("end", components.KindEnd, "", output("answer", "ask", "")).
		edge("start", "ask").
		edge("ask", "end")
}

func TestRun_SuspendAndResume(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, askFlow())
	ctx := context.Background()

	ri, err := f.engine.Run(ctx, owner, wf, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeStatusSuspended, ri.Status)
	assert.Equal(t, "ask", ri.WaitingNodeUUID)
	assert.Equal(t, "Proceed?", ri.StatusRemark)

	nodes := f.nodes(t, ri.UUID)
	require.Len(t, nodes, 1)
	assert.Contains(t, nodes, "start")

	ri, err = f.engine.ResumeAndWait(ctx, owner, ri.UUID, "yes")
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeStatusCompleted, ri.Status)
	assert.Equal(t, map[string]any{"answer": "yes"}, ri.Output)
	assert.Empty(t, ri.WaitingNodeUUID)

	nodes = f.nodes(t, ri.UUID)
	require.Len(t, nodes, 3)
	assert.Equal(t, "yes", nodes["ask"].Input[workflow.FeedbackKey])
	assert.Equal(t, "yes", nodes["ask"].Output["output"])

	_, err = f.engine.Resume(ctx, owner, ri.UUID, "again", false)
	assert.ErrorIs(t, err, workflow.ErrConflict, "completed instances cannot be resumed")
}

func TestResume_ConcurrentResumesOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, askFlow())
	ctx := context.Background()

	ri, err := f.engine.Run(ctx, owner, wf, nil)
	require.NoError(t, err)
	require.Equal(t, models.RuntimeStatusSuspended, ri.Status)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		won       atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			x, err := f.engine.Resume(ctx, owner, ri.UUID, "yes", false)
			if err != nil {
				if assert.ErrorIs(t, err, workflow.ErrConflict) {
					conflicts.Add(1)
				}
				return
			}
			won.Add(1)
			<-x.Done()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), won.Load())
	assert.Equal(t, int32(attempts-1), conflicts.Load())

	final, err := f.store.GetRuntimeInstance(ctx, ri.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeStatusCompleted, final.Status)
	assert.Len(t, f.nodes(t, ri.UUID), 3, "no node ran twice")
}

func TestResume_UsesGraphSnapshot(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, askFlow())
	ctx := context.Background()

	ri, err := f.engine.Run(ctx, owner, wf, nil)
	require.NoError(t, err)
	require.Equal(t, models.RuntimeStatusSuspended, ri.Status)

	require.NoError(t, f.store.ReplaceGraph(ctx, wf, 1, &models.GraphUpdate{DeletedNodeUUIDs: []string{"end"}}))

	ri, err = f.engine.ResumeAndWait(ctx, owner, ri.UUID, "ok")
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeStatusCompleted, ri.Status)
	assert.Equal(t, map[string]any{"answer": "ok"}, ri.Output)
}

func TestResume_ObjectFeedbackFillsExternalInputs(t *testing.T) {
	f := newFixture(t)
	external := func(name string) models.InputSlot {
		return models.InputSlot{Name: name, Source: models.InputSourceExternal, Key: name}
	}
	b := &builder{}
	b.node("start", components.KindStart, "").
		node("ask", components.KindUserInput, `{"prompt":"Where to?"}`).
		node("greet", components.KindTemplate, `{"template":"hello {{.city}} from {{.origin}}"}`, external("city"), external("origin")).
		node("end", components.KindEnd, "", output("greeting", "greet", "")).
		edge("start", "ask").
		edge("ask", "greet").
		edge("greet", "end")
	wf := f.create(t, b)
	ctx := context.Background()

	ri, err := f.engine.Run(ctx, owner, wf, map[string]any{"origin": "Bergen"})
	require.NoError(t, err)
	require.Equal(t, models.RuntimeStatusSuspended, ri.Status)

	ri, err = f.engine.ResumeAndWait(ctx, owner, ri.UUID, map[string]any{"city": "Oslo"})
	require.NoError(t, err)
	require.Equal(t, models.RuntimeStatusCompleted, ri.Status)
	assert.Equal(t, map[string]any{"greeting": "hello Oslo from Bergen"}, ri.Output)
	assert.Equal(t, map[string]any{"origin": "Bergen"}, ri.Input, "the stored run input is unchanged")

	nodes := f.nodes(t, ri.UUID)
	assert.Equal(t, "Oslo", nodes["greet"].Input["city"])
}

func TestRunStreaming_EventsAreOrderedAndEndTheStream(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, bigSmall())

	x, err := f.engine.Start(context.Background(), owner, wf, map[string]any{"n": 20}, true)
	require.NoError(t, err)
	require.NotNil(t, x.Events)

	events := drain(t, x.Events)
	require.NotEmpty(t, events)
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Seq)
		assert.Equal(t, x.Instance.UUID, ev.RuntimeUUID)
	}
	last := events[len(events)-1]
	assert.Equal(t, models.EventInstanceCompleted, last.Type)
	assert.Equal(t, map[string]any{"big": "big 20"}, last.Output)

	// every node starts before it completes, and predecessors complete first
	position := map[string]int{}
	for i, ev := range events {
		if ev.Type == models.EventNodeCompleted {
			position[ev.NodeUUID] = i
		}
	}
	assert.Less(t, position["start"], position["switch"])
	assert.Less(t, position["switch"], position["big"])
	assert.Less(t, position["big"], position["end"])
	assert.NotContains(t, position, "small")
}

func TestRunStreaming_SuspensionClosesStream(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, askFlow())

	x, err := f.engine.Start(context.Background(), owner, wf, nil, true)
	require.NoError(t, err)
	events := drain(t, x.Events)
	last := events[len(events)-1]
	assert.Equal(t, models.EventInstanceSuspended, last.Type)
	assert.Equal(t, "ask", last.NodeUUID)
	assert.Equal(t, "Proceed?", last.Prompt)

	y, err := f.engine.Resume(context.Background(), owner, x.Instance.UUID, "fine", true)
	require.NoError(t, err)
	events = drain(t, y.Events)
	assert.Equal(t, models.EventInstanceCompleted, events[len(events)-1].Type)
}

func TestRunStreaming_DisconnectDoesNotStopExecution(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, bigSmall())

	x, err := f.engine.Start(context.Background(), owner, wf, map[string]any{"n": 1}, true)
	require.NoError(t, err)
	x.Events.Close()

	<-x.Done()
	ri, err := f.store.GetRuntimeInstance(context.Background(), x.Instance.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeStatusCompleted, ri.Status)
}

func TestRun_ExecutionOutlivesRequestContext(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, bigSmall())

	ctx, cancel := context.WithCancel(context.Background())
	x, err := f.engine.Start(ctx, owner, wf, map[string]any{"n": 1}, false)
	require.NoError(t, err)
	cancel()

	<-x.Done()
	ri, err := f.store.GetRuntimeInstance(context.Background(), x.Instance.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeStatusCompleted, ri.Status)
}

func blockFlow() *builder {
	b := &builder{}
	return b.
		node("start", components.KindStart, "").
		node("wait", "block", "").
		node("end", components.KindEnd, "").
		edge("start", "wait").
		edge("wait", "end")
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, blockFlow())
	ctx := context.Background()

	x, err := f.engine.Start(ctx, owner, wf, nil, true)
	require.NoError(t, err)

	for ev := range x.Events.Events() {
		if ev.Type == models.EventNodeStarted && ev.NodeUUID == "wait" {
			break
		}
	}
	require.NoError(t, f.engine.Cancel(ctx, owner, x.Instance.UUID))
	<-x.Done()

	ri, err := f.store.GetRuntimeInstance(ctx, x.Instance.UUID)
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeStatusFailed, ri.Status)
	assert.Equal(t, string(workflow.KindCancelled), ri.ErrorKind)

	nodes := f.nodes(t, ri.UUID)
	require.Contains(t, nodes, "wait")
	assert.Equal(t, models.NodeStatusFailed, nodes["wait"].Status)
	assert.Equal(t, string(workflow.KindCancelled), nodes["wait"].ErrorKind)
	assert.NotContains(t, nodes, "end")

	assert.ErrorIs(t, f.engine.Cancel(ctx, owner, ri.UUID), workflow.ErrConflict)
}

func TestNodeTimeout(t *testing.T) {
	f := newFixture(t, engine.WithNodeTimeout(50*time.Millisecond))
	wf := f.create(t, blockFlow())

	ri, err := f.engine.Run(context.Background(), owner, wf, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeStatusFailed, ri.Status)
	assert.Equal(t, string(workflow.KindCancelled), ri.ErrorKind)
}

func TestObserve(t *testing.T) {
	f := newFixture(t)
	wf := f.create(t, blockFlow())
	ctx := context.Background()

	x, err := f.engine.Start(ctx, owner, wf, nil, false)
	require.NoError(t, err)

	sub, err := f.engine.Observe(ctx, owner, x.Instance.UUID)
	require.NoError(t, err)
	require.NoError(t, f.engine.Cancel(ctx, owner, x.Instance.UUID))

	events := drain(t, sub)
	require.NotEmpty(t, events)
	assert.Equal(t, models.EventInstanceFailed, events[len(events)-1].Type)

	<-x.Done()
	_, err = f.engine.Observe(ctx, owner, x.Instance.UUID)
	assert.ErrorIs(t, err, workflow.ErrConflict)
}

func TestRun_BoundedParallelism(t *testing.T) {
	f := newFixture(t, engine.WithMaxParallel(2))
	b := &builder{}
	b.node("start", components.KindStart, "")
	for _, id := range []string{"g1", "g2", "g3", "g4"} {
		b.node(id, "gauge", "").edge("start", id)
	}
	b.node("end", components.KindEnd, "")
	for _, id := range []string{"g1", "g2", "g3", "g4"} {
		b.edge(id, "end")
	}
	wf := f.create(t, b)

	ri, err := f.engine.Run(context.Background(), owner, wf, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeStatusCompleted, ri.Status)
	assert.Len(t, f.nodes(t, ri.UUID), 6)
	assert.LessOrEqual(t, f.gauge.peak.Load(), int32(2))
	assert.GreaterOrEqual(t, f.gauge.peak.Load(), int32(1))
}

func TestRunStreaming_FanOutFanInRespectsEdges(t *testing.T) {
	f := newFixture(t, engine.WithMaxParallel(3))
	b := &builder{}
	b.node("start", components.KindStart, "")
	for _, id := range []string{"a", "b", "c", "d", "join"} {
		b.node(id, "gauge", "")
	}
	b.node("end", components.KindEnd, "", output("joined", "join", "")).
		edge("start", "a").
		edge("start", "b").
		edge("start", "c").
		edge("a", "d").
		edge("b", "join").
		edge("c", "join").
		edge("d", "join").
		edge("join", "end").
		edge("a", "end")
	wf := f.create(t, b)

	x, err := f.engine.Start(context.Background(), owner, wf, nil, true)
	require.NoError(t, err)
	events := drain(t, x.Events)
	require.NotEmpty(t, events)
	require.Equal(t, models.EventInstanceCompleted, events[len(events)-1].Type)
	assert.Equal(t, map[string]any{"joined": "join"}, events[len(events)-1].Output)
	assert.Greater(t, f.gauge.peak.Load(), int32(1), "independent branches overlap")

	started := map[string][]int64{}
	completed := map[string][]int64{}
	for _, ev := range events {
		switch ev.Type {
		case models.EventNodeStarted:
			started[ev.NodeUUID] = append(started[ev.NodeUUID], ev.Seq)
		case models.EventNodeCompleted:
			completed[ev.NodeUUID] = append(completed[ev.NodeUUID], ev.Seq)
		}
	}

	rows, err := f.store.ListRuntimeNodes(context.Background(), x.Instance.UUID)
	require.NoError(t, err)
	require.Len(t, rows, len(b.g.Nodes), "one record per node")
	nodes := f.nodes(t, x.Instance.UUID)
	for _, n := range b.g.Nodes {
		require.Len(t, started[n.UUID], 1, "%s starts once", n.UUID)
		require.Len(t, completed[n.UUID], 1, "%s completes once", n.UUID)
		require.Contains(t, nodes, n.UUID)
		assert.Equal(t, models.NodeStatusCompleted, nodes[n.UUID].Status)
	}

	for _, e := range b.g.Edges {
		src, dst := e.SourceNodeUUID, e.TargetNodeUUID
		assert.Less(t, completed[src][0], started[dst][0], "%s completes before %s starts", src, dst)
		assert.False(t, nodes[dst].CreatedAt.Before(nodes[src].CreatedAt), "%s is recorded no earlier than %s", dst, src)
	}
}

func TestRun_NodeFailureStopsExecution(t *testing.T) {
	f := newFixture(t)
	b := &builder{}
	b.node("start", components.KindStart, "").
		node("render", components.KindTemplate, `{"template":"{{.missing}}"}`).
		node("end", components.KindEnd, "").
		edge("start", "render").
		edge("render", "end")
	wf := f.create(t, b)

	ri, err := f.engine.Run(context.Background(), owner, wf, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeStatusFailed, ri.Status)
	assert.Equal(t, string(workflow.KindValidation), ri.ErrorKind)
	assert.NotContains(t, f.nodes(t, ri.UUID), "end")
}

func TestRun_RequiredInputMissing(t *testing.T) {
	f := newFixture(t)
	b := &builder{}
	b.node("start", components.KindStart, "",
		models.InputSlot{Name: "q", Source: models.InputSourceExternal, Required: true})
	wf := f.create(t, b)

	ri, err := f.engine.Run(context.Background(), owner, wf, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RuntimeStatusFailed, ri.Status)
	assert.Equal(t, string(workflow.KindValidation), ri.ErrorKind)
	assert.Equal(t, models.NodeStatusFailed, f.nodes(t, ri.UUID)["start"].Status)
}

func TestRun_Access(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.create(t, askFlow())

	_, err := f.engine.Run(ctx, owner+1, wf, nil)
	assert.ErrorIs(t, err, workflow.ErrForbidden)

	require.NoError(t, f.store.SetWorkflowPublic(ctx, wf, true))
	ri, err := f.engine.Run(ctx, owner+1, wf, nil)
	require.NoError(t, err)
	assert.Equal(t, owner+1, ri.UserID)

	_, err = f.engine.Resume(ctx, owner, ri.UUID, "x", false)
	assert.ErrorIs(t, err, workflow.ErrForbidden, "runs belong to whoever started them")

	require.NoError(t, f.store.SetWorkflowEnabled(ctx, wf, false))
	_, err = f.engine.Run(ctx, owner, wf, nil)
	assert.ErrorIs(t, err, workflow.ErrValidation)

	_, err = f.engine.Run(ctx, owner, "missing", nil)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestRun_RuntimeHistorySurvivesWorkflowDeletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	wf := f.create(t, bigSmall())

	ri, err := f.engine.Run(ctx, owner, wf, map[string]any{"n": 3})
	require.NoError(t, err)
	require.NoError(t, f.store.SoftDeleteWorkflow(ctx, wf))

	page, err := f.store.ListRuntimeInstances(ctx, wf, owner, models.PageRequest{})
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, ri.UUID, page.Records[0].UUID)
	assert.Len(t, f.nodes(t, ri.UUID), 4)
}
