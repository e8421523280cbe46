// Package engine executes workflow graphs. Each execution leg runs on its
// own goroutine, detached from the request that started it, and reports
// progress through a stream.Broker.
package engine

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/logging"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/stream"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

const instrumentationName = "github.com/bbenst/langchain4j-aideepin-sub001/internal/engine"

// Store is the persistence the engine needs.
type Store interface {
	GetWorkflow(ctx context.Context, uuid string) (*models.Workflow, error)
	LoadGraph(ctx context.Context, workflowUUID string) (*models.Graph, error)
	CreateRuntimeInstance(ctx context.Context, instance *models.RuntimeInstance) error
	GetRuntimeInstance(ctx context.Context, uuid string) (*models.RuntimeInstance, error)
	TransitionRuntimeInstance(ctx context.Context, uuid string, from models.RuntimeStatus, t models.RuntimeTransition) error
	SaveRuntimeNode(ctx context.Context, runtimeUUID string, node *models.RuntimeNode) error
	ListRuntimeNodes(ctx context.Context, runtimeUUID string) ([]*models.RuntimeNode, error)
}

// Engine runs, suspends, resumes and cancels workflow executions.
type Engine struct {
	store       Store
	registry    *workflow.Registry
	broker      *stream.Broker
	logger      *logging.Logger
	tracer      trace.Tracer
	meter       metric.Meter
	ins         *instruments
	maxParallel int
	nodeTimeout time.Duration
	runTimeout  time.Duration

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *logging.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for run and node spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithMeter sets the meter used for execution metrics.
func WithMeter(meter metric.Meter) Option {
	return func(e *Engine) {
		if meter != nil {
			e.meter = meter
		}
	}
}

// WithBroker sets the event broker. By default the engine owns one.
func WithBroker(b *stream.Broker) Option {
	return func(e *Engine) {
		if b != nil {
			e.broker = b
		}
	}
}

// WithMaxParallel bounds how many ready nodes run at once.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

// WithNodeTimeout bounds a single node execution. Zero disables it.
func WithNodeTimeout(d time.Duration) Option {
	return func(e *Engine) { e.nodeTimeout = d }
}

// WithRunTimeout bounds one execution leg. Zero disables it.
func WithRunTimeout(d time.Duration) Option {
	return func(e *Engine) { e.runTimeout = d }
}

// New creates an Engine.
// Defaults: discard logger, global tracer and meter, maxParallel 4, no timeouts.
func New(store Store, registry *workflow.Registry, opts ...Option) *Engine {
	e := &Engine{
		store:       store,
		registry:    registry,
		logger:      logging.Discard(),
		tracer:      otel.Tracer(instrumentationName),
		meter:       otel.Meter(instrumentationName),
		maxParallel: 4,
		active:      make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.broker == nil {
		e.broker = stream.NewBroker(64)
	}
	e.ins = newInstruments(e.meter)
	return e
}

// Broker returns the event broker.
func (e *Engine) Broker() *stream.Broker { return e.broker }

// Execution is a started execution leg.
type Execution struct {
	// Instance is the runtime instance as it was when the leg started.
	Instance *models.RuntimeInstance
	// Events is set for streaming legs; it closes after the final event.
	Events *stream.Subscription
	done   chan struct{}
}

// Done is closed once the leg has suspended, completed or failed.
func (x *Execution) Done() <-chan struct{} { return x.done }

// Start validates the workflow, creates a runtime instance and starts
// executing it. With subscribe set the returned Execution carries an event
// subscription that sees every event of the leg.
func (e *Engine) Start(ctx context.Context, userID int64, workflowUUID string, input map[string]any, subscribe bool) (*Execution, error) {
	wf, err := e.store.GetWorkflow(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}
	if !wf.ReadableBy(userID) {
		return nil, workflow.Errorf(workflow.KindForbidden, "workflow %s is not shared", workflowUUID)
	}
	if !wf.IsEnable {
		return nil, workflow.Errorf(workflow.KindValidation, "workflow %s is disabled", workflowUUID)
	}
	graph, err := e.store.LoadGraph(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}
	if err := workflow.ValidateGraph(graph, e.registry); err != nil {
		return nil, err
	}
	if input == nil {
		input = map[string]any{}
	}

	ri := &models.RuntimeInstance{
		UserID:        userID,
		WorkflowUUID:  workflowUUID,
		Input:         input,
		Status:        models.RuntimeStatusRunning,
		GraphSnapshot: graph,
	}
	if err := e.store.CreateRuntimeInstance(ctx, ri); err != nil {
		return nil, err
	}
	sched, err := newSchedule(graph, nil)
	if err != nil {
		return nil, err
	}
	e.logger.Info("runtime started", "runtime_uuid", ri.UUID, "workflow_uuid", workflowUUID, "user_id", userID)
	return e.launch(ctx, ri, sched, nil, subscribe)
}

// Resume wakes a suspended instance. The waiting node is re-entered with
// feedback merged into its input. Only one of several concurrent resumes
// wins; the others get a conflict.
func (e *Engine) Resume(ctx context.Context, userID int64, runtimeUUID string, feedback any, subscribe bool) (*Execution, error) {
	ri, err := e.owned(ctx, userID, runtimeUUID)
	if err != nil {
		return nil, err
	}
	if ri.Status != models.RuntimeStatusSuspended {
		return nil, workflow.Errorf(workflow.KindConflict, "runtime %s is %s, not suspended", runtimeUUID, ri.Status)
	}
	if ri.GraphSnapshot == nil {
		return nil, workflow.Errorf(workflow.KindValidation, "runtime %s has no graph snapshot", runtimeUUID)
	}
	done, err := e.store.ListRuntimeNodes(ctx, runtimeUUID)
	if err != nil {
		return nil, err
	}
	sched, err := newSchedule(ri.GraphSnapshot, done)
	if err != nil {
		return nil, err
	}

	waiting := ri.WaitingNodeUUID
	err = e.store.TransitionRuntimeInstance(ctx, runtimeUUID, models.RuntimeStatusSuspended, models.RuntimeTransition{
		To:           models.RuntimeStatusRunning,
		StatusRemark: "resumed",
	})
	if err != nil {
		return nil, err
	}
	ri.Status = models.RuntimeStatusRunning
	ri.StatusRemark = "resumed"
	ri.WaitingNodeUUID = ""

	e.logger.Info("runtime resumed", "runtime_uuid", runtimeUUID, "waiting_node_uuid", waiting)
	return e.launch(ctx, ri, sched, &resumeInput{nodeUUID: waiting, feedback: feedback}, subscribe)
}

// Run starts an execution and waits until it suspends, completes or fails.
// The returned instance reflects the persisted outcome. Cancelling ctx stops
// the wait, not the execution.
func (e *Engine) Run(ctx context.Context, userID int64, workflowUUID string, input map[string]any) (*models.RuntimeInstance, error) {
	x, err := e.Start(ctx, userID, workflowUUID, input, false)
	if err != nil {
		return nil, err
	}
	return e.wait(ctx, x)
}

// ResumeAndWait resumes an instance and waits for the leg to end.
func (e *Engine) ResumeAndWait(ctx context.Context, userID int64, runtimeUUID string, feedback any) (*models.RuntimeInstance, error) {
	x, err := e.Resume(ctx, userID, runtimeUUID, feedback, false)
	if err != nil {
		return nil, err
	}
	return e.wait(ctx, x)
}

func (e *Engine) wait(ctx context.Context, x *Execution) (*models.RuntimeInstance, error) {
	select {
	case <-x.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return e.store.GetRuntimeInstance(context.WithoutCancel(ctx), x.Instance.UUID)
}

// Observe attaches to a running instance's event stream.
func (e *Engine) Observe(ctx context.Context, userID int64, runtimeUUID string) (*stream.Subscription, error) {
	ri, err := e.owned(ctx, userID, runtimeUUID)
	if err != nil {
		return nil, err
	}
	sub, err := e.broker.Subscribe(runtimeUUID)
	if err != nil {
		return nil, workflow.Errorf(workflow.KindConflict, "runtime %s is %s, not executing", runtimeUUID, ri.Status)
	}
	return sub, nil
}

// Cancel stops a running instance. The node in flight is recorded failed
// and the instance fails with kind cancelled.
func (e *Engine) Cancel(ctx context.Context, userID int64, runtimeUUID string) error {
	ri, err := e.owned(ctx, userID, runtimeUUID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	cancel, ok := e.active[runtimeUUID]
	e.mu.Unlock()
	if !ok {
		return workflow.Errorf(workflow.KindConflict, "runtime %s is %s, not executing here", runtimeUUID, ri.Status)
	}
	cancel()
	e.logger.Info("runtime cancel requested", "runtime_uuid", runtimeUUID)
	return nil
}

// Shutdown waits for executing legs to finish. When ctx ends first the
// remaining legs are cancelled and awaited.
func (e *Engine) Shutdown(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
	}

	e.mu.Lock()
	for _, cancel := range e.active {
		cancel()
	}
	e.mu.Unlock()
	<-finished
	return ctx.Err()
}

func (e *Engine) owned(ctx context.Context, userID int64, runtimeUUID string) (*models.RuntimeInstance, error) {
	ri, err := e.store.GetRuntimeInstance(ctx, runtimeUUID)
	if err != nil {
		return nil, err
	}
	if ri.UserID != userID {
		return nil, workflow.Errorf(workflow.KindForbidden, "runtime %s belongs to another user", runtimeUUID)
	}
	return ri, nil
}

type resumeInput struct {
	nodeUUID string
	feedback any
}

// launch registers the leg and starts it on its own goroutine. The leg's
// context survives the caller's cancellation.
func (e *Engine) launch(ctx context.Context, ri *models.RuntimeInstance, sched *schedule, resume *resumeInput, subscribe bool) (*Execution, error) {
	runCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if e.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, e.runTimeout)
	} else {
		runCtx, cancel = context.WithCancel(runCtx)
	}

	e.broker.Open(ri.UUID)
	x := &Execution{Instance: ri, done: make(chan struct{})}
	if subscribe {
		sub, err := e.broker.Subscribe(ri.UUID)
		if err != nil {
			cancel()
			return nil, err
		}
		x.Events = sub
	}

	e.mu.Lock()
	e.active[ri.UUID] = cancel
	e.mu.Unlock()
	e.wg.Add(1)

	r := &leg{engine: e, ri: ri, sched: sched, resume: resume}
	go func() {
		defer e.wg.Done()
		defer close(x.done)
		defer func() {
			e.mu.Lock()
			delete(e.active, ri.UUID)
			e.mu.Unlock()
			cancel()
		}()
		r.run(runCtx)
	}()
	return x, nil
}
