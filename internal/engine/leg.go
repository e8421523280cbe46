package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/logging"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// leg is one uninterrupted stretch of execution: from start or resume to
// the next suspension or terminal state.
type leg struct {
	engine *Engine
	ri     *models.RuntimeInstance
	sched  *schedule
	resume *resumeInput
	input  map[string]any
	logger *logging.Logger
}

type outcome struct {
	node   *models.Node
	result workflow.Result
}

func (l *leg) run(ctx context.Context) {
	e := l.engine
	l.logger = e.logger.With("runtime_uuid", l.ri.UUID, "workflow_uuid", l.ri.WorkflowUUID)
	l.input = l.runInput()

	ctx, span := e.tracer.Start(ctx, "workflow.leg", trace.WithAttributes(
		attribute.String("runtime.uuid", l.ri.UUID),
		attribute.String("workflow.uuid", l.ri.WorkflowUUID),
		attribute.Int("workflow.node_count", len(l.sched.graph.Nodes)),
		attribute.Bool("runtime.resumed", l.resume != nil),
	))
	defer span.End()

	// Store writes must land even when the leg is being cancelled.
	persist := context.WithoutCancel(ctx)

	for {
		if err := ctx.Err(); err != nil {
			l.fail(persist, span, workflow.Wrap(workflow.KindCancelled, err, "execution cancelled"))
			return
		}

		batch := l.sched.ready()
		if len(batch) == 0 {
			l.complete(persist, span)
			return
		}

		outcomes, err := l.dispatch(ctx, persist, batch)
		if err != nil {
			l.fail(persist, span, workflow.Wrap(workflow.KindCapabilityFailure, err, "persisting node result"))
			return
		}

		var failed, awaiting *outcome
		for i := range outcomes {
			o := &outcomes[i]
			switch o.result.Kind {
			case workflow.ResultCompleted:
				l.sched.complete(o.node.UUID, o.result.Handle, o.result.Output)
			case workflow.ResultFailed:
				l.sched.state[o.node.UUID] = stateFailed
				if failed == nil {
					failed = o
				}
			case workflow.ResultAwaitingInput:
				if awaiting == nil {
					awaiting = o
				}
			}
		}

		switch {
		case failed != nil:
			l.fail(persist, span, failed.result.Err)
			return
		case awaiting != nil:
			l.suspend(persist, span, awaiting.node, awaiting.result.Prompt)
			return
		}
	}
}

// runInput is what external slots read during this leg. Feedback shaped as
// an object overlays the run input for the rest of a resumed leg.
func (l *leg) runInput() map[string]any {
	if l.resume == nil {
		return l.ri.Input
	}
	fb, ok := l.resume.feedback.(map[string]any)
	if !ok || len(fb) == 0 {
		return l.ri.Input
	}
	merged := make(map[string]any, len(l.ri.Input)+len(fb))
	maps.Copy(merged, l.ri.Input)
	maps.Copy(merged, fb)
	return merged
}

// dispatch runs one batch of ready nodes, at most maxParallel at a time.
// Outcomes are returned in batch order; events go out in completion order.
func (l *leg) dispatch(ctx, persist context.Context, batch []*models.Node) ([]outcome, error) {
	outcomes := make([]outcome, len(batch))
	g := new(errgroup.Group)
	g.SetLimit(l.engine.maxParallel)
	for i, n := range batch {
		g.Go(func() error {
			in, res := l.execute(ctx, n)
			outcomes[i] = outcome{node: n, result: res}
			return l.record(persist, n, in, res)
		})
	}
	return outcomes, g.Wait()
}

func (l *leg) execute(ctx context.Context, n *models.Node) (in workflow.Inputs, res workflow.Result) {
	e := l.engine
	started := time.Now()
	ctx, span := e.tracer.Start(ctx, "workflow.node", trace.WithAttributes(
		attribute.String("node.uuid", n.UUID),
		attribute.String("node.kind", n.Kind),
	))
	defer func() {
		if res.Kind == workflow.ResultFailed {
			span.SetStatus(codes.Error, res.Err.Error())
		}
		span.SetAttributes(attribute.String("node.result", res.Kind.String()))
		span.End()
		e.ins.node(ctx, n.Kind, res.Kind.String(), time.Since(started))
	}()

	e.broker.Publish(models.ExecutionEvent{
		Type:        models.EventNodeStarted,
		RuntimeUUID: l.ri.UUID,
		NodeUUID:    n.UUID,
		NodeTitle:   n.Title,
	})
	l.logger.Debug("node started", "node_uuid", n.UUID, "kind", n.Kind)

	in, err := workflow.ResolveInputs(n, l.sched.outputs, l.input)
	if err != nil {
		return nil, workflow.FailedWith(err)
	}
	if l.resume != nil && l.resume.nodeUUID == n.UUID {
		in = workflow.MergeFeedback(in, l.resume.feedback)
	}

	comp, ok := e.registry.Lookup(n.Kind)
	if !ok {
		return in, workflow.FailedWith(&workflow.Error{Kind: workflow.KindValidation, NodeUUID: n.UUID, Msg: "unknown component kind " + n.Kind})
	}

	nodeCtx := ctx
	if e.nodeTimeout > 0 {
		var cancel context.CancelFunc
		nodeCtx, cancel = context.WithTimeout(ctx, e.nodeTimeout)
		defer cancel()
	}

	res = l.invoke(nodeCtx, comp, n, in)
	if res.Kind == workflow.ResultFailed {
		if res.Err == nil {
			res.Err = workflow.Errorf(workflow.KindCapabilityFailure, "node failed without detail")
		}
		if ctxErr := nodeCtx.Err(); ctxErr != nil && res.Err.Kind != workflow.KindCancelled {
			res.Err = workflow.Wrap(workflow.KindCancelled, ctxErr, res.Err.Error())
		}
		if res.Err.NodeUUID == "" {
			c := *res.Err
			c.NodeUUID = n.UUID
			res.Err = &c
		}
	}
	return in, res
}

// invoke calls the component, turning a panic into a failure.
func (l *leg) invoke(ctx context.Context, comp workflow.Component, n *models.Node, in workflow.Inputs) (res workflow.Result) {
	defer func() {
		if p := recover(); p != nil {
			l.logger.Error("component panicked", "node_uuid", n.UUID, "kind", n.Kind, "panic", p)
			res = workflow.Failed(workflow.KindCapabilityFailure, fmt.Sprintf("component %s panicked: %v", n.Kind, p))
		}
	}()
	logger := l.logger.With("node_uuid", n.UUID)
	return comp.Execute(logging.WithContext(ctx, logger), n, in, &workflow.ExecContext{
		RuntimeUUID:  l.ri.UUID,
		WorkflowUUID: l.ri.WorkflowUUID,
		UserID:       l.ri.UserID,
		RunInput:     l.input,
		Logger:       logger,
	})
}

// record persists a terminal node result and publishes its event. Awaiting
// nodes leave no record; they run again on resume.
func (l *leg) record(ctx context.Context, n *models.Node, in workflow.Inputs, res workflow.Result) error {
	if res.Kind == workflow.ResultAwaitingInput {
		return nil
	}
	if in == nil {
		in = workflow.Inputs{}
	}
	rn := &models.RuntimeNode{
		NodeUUID:  n.UUID,
		NodeTitle: n.Title,
		Kind:      n.Kind,
		Input:     map[string]any(in),
	}
	ev := models.ExecutionEvent{RuntimeUUID: l.ri.UUID, NodeUUID: n.UUID, NodeTitle: n.Title}
	switch res.Kind {
	case workflow.ResultCompleted:
		rn.Status = models.NodeStatusCompleted
		rn.Output = res.Output
		rn.SelectedHandle = res.Handle
		ev.Type = models.EventNodeCompleted
		ev.Output = res.Output
	case workflow.ResultFailed:
		rn.Status = models.NodeStatusFailed
		rn.StatusRemark = res.Err.Error()
		rn.ErrorKind = string(res.Err.Kind)
		ev.Type = models.EventNodeFailed
		ev.ErrorKind = rn.ErrorKind
		ev.StatusRemark = rn.StatusRemark
	}
	if err := l.engine.store.SaveRuntimeNode(ctx, l.ri.UUID, rn); err != nil {
		return fmt.Errorf("save runtime node %s: %w", n.UUID, err)
	}
	l.engine.broker.Publish(ev)
	l.logger.Debug("node finished", "node_uuid", n.UUID, "result", res.Kind.String())
	return nil
}

func (l *leg) complete(ctx context.Context, span trace.Span) {
	output := l.sched.result()
	err := l.engine.store.TransitionRuntimeInstance(ctx, l.ri.UUID, models.RuntimeStatusRunning, models.RuntimeTransition{
		To:     models.RuntimeStatusCompleted,
		Output: output,
	})
	if err != nil {
		l.abandon(ctx, span, err)
		return
	}
	l.engine.broker.Publish(models.ExecutionEvent{
		Type:        models.EventInstanceCompleted,
		RuntimeUUID: l.ri.UUID,
		Output:      output,
	})
	l.engine.ins.leg(ctx, "completed")
	l.logger.Info("runtime completed")
}

func (l *leg) suspend(ctx context.Context, span trace.Span, n *models.Node, prompt string) {
	err := l.engine.store.TransitionRuntimeInstance(ctx, l.ri.UUID, models.RuntimeStatusRunning, models.RuntimeTransition{
		To:              models.RuntimeStatusSuspended,
		StatusRemark:    prompt,
		WaitingNodeUUID: n.UUID,
	})
	if err != nil {
		l.abandon(ctx, span, err)
		return
	}
	span.SetAttributes(attribute.String("runtime.waiting_node", n.UUID))
	l.engine.broker.Publish(models.ExecutionEvent{
		Type:        models.EventInstanceSuspended,
		RuntimeUUID: l.ri.UUID,
		NodeUUID:    n.UUID,
		NodeTitle:   n.Title,
		Prompt:      prompt,
	})
	l.engine.ins.leg(ctx, "suspended")
	l.logger.Info("runtime suspended", "waiting_node_uuid", n.UUID)
}

func (l *leg) fail(ctx context.Context, span trace.Span, cause *workflow.Error) {
	span.SetStatus(codes.Error, cause.Error())
	err := l.engine.store.TransitionRuntimeInstance(ctx, l.ri.UUID, models.RuntimeStatusRunning, models.RuntimeTransition{
		To:           models.RuntimeStatusFailed,
		StatusRemark: cause.Error(),
		ErrorKind:    string(cause.Kind),
	})
	if err != nil {
		l.abandon(ctx, span, err)
		return
	}
	l.engine.broker.Publish(models.ExecutionEvent{
		Type:         models.EventInstanceFailed,
		RuntimeUUID:  l.ri.UUID,
		NodeUUID:     cause.NodeUUID,
		ErrorKind:    string(cause.Kind),
		StatusRemark: cause.Error(),
	})
	l.engine.ins.leg(ctx, "failed")
	l.logger.Warn("runtime failed", "error_kind", cause.Kind, "node_uuid", cause.NodeUUID, "error", cause.Msg)
}

// abandon handles a final transition that could not be written. Subscribers
// still get a terminal event so their streams close.
func (l *leg) abandon(ctx context.Context, span trace.Span, err error) {
	kind := workflow.KindOf(err)
	if kind == "" {
		kind = workflow.KindCapabilityFailure
	}
	span.RecordError(err)
	l.logger.Error("runtime state could not be persisted", "error", err)
	if errors.Is(err, workflow.ErrConflict) {
		l.logger.Warn("runtime changed state concurrently")
	}
	l.engine.broker.Publish(models.ExecutionEvent{
		Type:         models.EventInstanceFailed,
		RuntimeUUID:  l.ri.UUID,
		ErrorKind:    string(kind),
		StatusRemark: err.Error(),
	})
	l.engine.ins.leg(ctx, "abandoned")
}
