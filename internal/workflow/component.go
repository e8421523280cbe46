package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/logging"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// Inputs are the resolved input values of one node execution, keyed by slot name.
type Inputs map[string]any

// FeedbackKey is the input key under which resume feedback is merged.
const FeedbackKey = "feedback"

// TerminalKind is the node kind whose outputs form the instance output.
const TerminalKind = "end"

// ResultKind tags the variant held by a Result.
type ResultKind int

const (
	ResultCompleted ResultKind = iota
	ResultAwaitingInput
	ResultFailed
)

func (k ResultKind) String() string {
	switch k {
	case ResultCompleted:
		return "completed"
	case ResultAwaitingInput:
		return "awaiting_input"
	case ResultFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Result is the outcome of executing one node.
type Result struct {
	Kind   ResultKind
	Output map[string]any
	Handle string // outgoing edge handle chosen by branching kinds
	Prompt string // question shown to the user while awaiting input
	Err    *Error
}

// Completed proceeds along every outgoing edge.
func Completed(output map[string]any) Result {
	return Result{Kind: ResultCompleted, Output: output}
}

// CompletedVia proceeds only along edges carrying handle.
func CompletedVia(handle string, output map[string]any) Result {
	return Result{Kind: ResultCompleted, Output: output, Handle: handle}
}

// AwaitingInput suspends the whole runtime instance.
func AwaitingInput(prompt string) Result {
	return Result{Kind: ResultAwaitingInput, Prompt: prompt}
}

// Failed terminates the runtime instance.
func Failed(kind ErrorKind, detail string) Result {
	return Result{Kind: ResultFailed, Err: &Error{Kind: kind, Msg: detail}}
}

// FailedWith classifies err. Context errors become cancelled, unclassified
// errors are treated as capability failures.
func FailedWith(err error) Result {
	var we *Error
	switch {
	case errors.As(err, &we):
		return Result{Kind: ResultFailed, Err: we}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Result{Kind: ResultFailed, Err: Wrap(KindCancelled, err, "execution cancelled")}
	default:
		return Result{Kind: ResultFailed, Err: Wrap(KindCapabilityFailure, err, "capability call failed")}
	}
}

// ExecContext carries per-instance data into a node execution.
type ExecContext struct {
	RuntimeUUID  string
	WorkflowUUID string
	UserID       int64
	RunInput     map[string]any
	Logger       *logging.Logger
}

// Component is the execution contract every node kind implements.
type Component interface {
	Info() models.ComponentInfo
	// ConfigSchema describes node_config. A nil schema accepts any object.
	ConfigSchema() *jsonschema.Schema
	Execute(ctx context.Context, node *models.Node, in Inputs, ec *ExecContext) Result
}

// NodeValidator is implemented by kinds with graph-level configuration rules.
type NodeValidator interface {
	ValidateNode(node *models.Node, g *models.Graph) error
}

type registration struct {
	component Component
	schema    *jsonschema.Resolved
	enabled   bool
}

// Registry maps kind names to component implementations.
type Registry struct {
	mu    sync.RWMutex
	kinds map[string]*registration
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{kinds: make(map[string]*registration)}
}

// Register adds a component under its kind. Kinds must be unique.
func (r *Registry) Register(c Component) error {
	info := c.Info()
	if info.Kind == "" {
		return Errorf(KindValidation, "component kind is empty")
	}
	reg := &registration{component: c, enabled: true}
	if s := c.ConfigSchema(); s != nil {
		resolved, err := s.Resolve(nil)
		if err != nil {
			return Wrap(KindValidation, err, "invalid config schema for "+info.Kind)
		}
		reg.schema = resolved
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.kinds[info.Kind]; exists {
		return Errorf(KindConflict, "component %q already registered", info.Kind)
	}
	r.kinds[info.Kind] = reg
	r.order = append(r.order, info.Kind)
	return nil
}

// SetEnabled toggles whether new graphs may use a kind.
func (r *Registry) SetEnabled(kind string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.kinds[kind]
	if !ok {
		return Errorf(KindNotFound, "component %q", kind)
	}
	reg.enabled = enabled
	return nil
}

// Lookup returns the component registered for kind, enabled or not.
func (r *Registry) Lookup(kind string) (Component, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.kinds[kind]
	if !ok {
		return nil, false
	}
	return reg.component, true
}

// List returns the enabled kinds in registration order.
func (r *Registry) List() []models.ComponentInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ComponentInfo, 0, len(r.order))
	for _, kind := range r.order {
		reg := r.kinds[kind]
		if !reg.enabled {
			continue
		}
		info := reg.component.Info()
		info.IsEnable = true
		out = append(out, info)
	}
	return out
}

// ValidateNode checks a node's kind and node_config against the registry.
func (r *Registry) ValidateNode(node *models.Node, g *models.Graph) error {
	r.mu.RLock()
	reg, ok := r.kinds[node.Kind]
	r.mu.RUnlock()
	if !ok {
		return &Error{Kind: KindValidation, NodeUUID: node.UUID, Msg: "unknown component kind " + node.Kind}
	}
	if !reg.enabled {
		return &Error{Kind: KindValidation, NodeUUID: node.UUID, Msg: "component kind " + node.Kind + " is disabled"}
	}
	if reg.schema != nil {
		var instance any = map[string]any{}
		if len(node.NodeConfig) > 0 {
			if err := json.Unmarshal(node.NodeConfig, &instance); err != nil {
				return &Error{Kind: KindValidation, NodeUUID: node.UUID, Msg: "node_config is not valid JSON", Cause: err}
			}
		}
		if err := reg.schema.Validate(instance); err != nil {
			return &Error{Kind: KindValidation, NodeUUID: node.UUID, Msg: "node_config does not match schema", Cause: err}
		}
	}
	if v, ok := reg.component.(NodeValidator); ok {
		if err := v.ValidateNode(node, g); err != nil {
			var we *Error
			if errors.As(err, &we) {
				return we
			}
			return &Error{Kind: KindValidation, NodeUUID: node.UUID, Msg: err.Error()}
		}
	}
	return nil
}

// Close releases components that hold resources.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, kind := range r.order {
		if c, ok := r.kinds[kind].component.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	r.kinds = make(map[string]*registration)
	r.order = nil
	return errors.Join(errs...)
}

// DecodeConfig unmarshals a node's node_config into dst.
func DecodeConfig(node *models.Node, dst any) error {
	if len(node.NodeConfig) == 0 {
		return nil
	}
	if err := json.Unmarshal(node.NodeConfig, dst); err != nil {
		return &Error{Kind: KindValidation, NodeUUID: node.UUID, Msg: "cannot decode node_config", Cause: err}
	}
	return nil
}
