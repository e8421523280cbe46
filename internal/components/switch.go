package components

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// Case logic values.
const (
	LogicAnd = "and"
	LogicOr  = "or"
)

// Condition compares one input against an operand.
type Condition struct {
	Input    string `json:"input"`
	Operator string `json:"operator"`
	Operand  any    `json:"operand,omitempty"`
}

// Case is one branch of a switch node.
type Case struct {
	Handle     string      `json:"handle"`
	Logic      string      `json:"logic,omitempty"` // and (default) or or
	Conditions []Condition `json:"conditions"`
}

// SwitchConfig is the node_config of a switch node.
type SwitchConfig struct {
	Cases []Case `json:"cases"`
}

// Switch selects the first case whose conditions hold and proceeds only
// along the edges carrying that case's handle.
type Switch struct {
	ops *workflow.OperatorCatalog
}

// NewSwitch creates a switch component evaluating with ops.
func NewSwitch(ops *workflow.OperatorCatalog) *Switch {
	return &Switch{ops: ops}
}

func (s *Switch) Info() models.ComponentInfo {
	return models.ComponentInfo{Kind: KindSwitch, Title: "Switch", Remark: "Routes execution to the first matching case"}
}

func (s *Switch) ConfigSchema() *jsonschema.Schema {
	condition := object([]string{"operator"}, map[string]*jsonschema.Schema{
		"input":    str(),
		"operator": nonEmpty(),
		"operand":  {},
	})
	kase := object([]string{"handle", "conditions"}, map[string]*jsonschema.Schema{
		"handle":     nonEmpty(),
		"logic":      {Type: "string", Enum: []any{LogicAnd, LogicOr}},
		"conditions": {Type: "array", Items: condition, MinItems: ptr(1)},
	})
	return object([]string{"cases"}, map[string]*jsonschema.Schema{
		"cases": {Type: "array", Items: kase, MinItems: ptr(1)},
	})
}

// ValidateNode checks that case handles and outgoing edges correspond one to
// one, that every operator exists and that conditions read declared slots.
func (s *Switch) ValidateNode(node *models.Node, g *models.Graph) error {
	var cfg SwitchConfig
	if err := workflow.DecodeConfig(node, &cfg); err != nil {
		return err
	}
	slots := make(map[string]bool, len(node.InputConfig.Slots))
	for _, slot := range node.InputConfig.Slots {
		slots[slot.Name] = true
	}
	handles := make(map[string]bool, len(cfg.Cases))
	for _, c := range cfg.Cases {
		if handles[c.Handle] {
			return fmt.Errorf("duplicate case handle %q", c.Handle)
		}
		handles[c.Handle] = true
		for _, cond := range c.Conditions {
			if _, ok := s.ops.Get(cond.Operator); !ok {
				return fmt.Errorf("case %q uses unknown operator %q", c.Handle, cond.Operator)
			}
			if cond.Operator == workflow.OpDefault {
				continue
			}
			if cond.Input == "" {
				return fmt.Errorf("case %q has a condition without input", c.Handle)
			}
			if !slots[cond.Input] {
				return fmt.Errorf("case %q reads input %q which is not a declared slot", c.Handle, cond.Input)
			}
		}
	}

	wired := make(map[string]bool)
	for _, e := range g.Outgoing(node.UUID) {
		if !handles[e.SourceHandle] {
			return fmt.Errorf("edge %s leaves through %q which is not a case handle", e.UUID, e.SourceHandle)
		}
		wired[e.SourceHandle] = true
	}
	for _, c := range cfg.Cases {
		if !wired[c.Handle] {
			return fmt.Errorf("case %q has no outgoing edge", c.Handle)
		}
	}
	return nil
}

func (s *Switch) Execute(_ context.Context, node *models.Node, in workflow.Inputs, _ *workflow.ExecContext) workflow.Result {
	var cfg SwitchConfig
	if err := workflow.DecodeConfig(node, &cfg); err != nil {
		return workflow.FailedWith(err)
	}
	for _, c := range cfg.Cases {
		ok, err := s.matches(c, in)
		if err != nil {
			return workflow.FailedWith(&workflow.Error{Kind: workflow.KindValidation, NodeUUID: node.UUID,
				Msg: fmt.Sprintf("case %q", c.Handle), Cause: err})
		}
		if ok {
			return workflow.CompletedVia(c.Handle, map[string]any{models.DefaultOutputKey: c.Handle})
		}
	}
	return workflow.FailedWith(&workflow.Error{Kind: workflow.KindNoMatchingBranch, NodeUUID: node.UUID,
		Msg: "no case matched"})
}

func (s *Switch) matches(c Case, in workflow.Inputs) (bool, error) {
	or := strings.EqualFold(c.Logic, LogicOr)
	for _, cond := range c.Conditions {
		ok, err := s.ops.Evaluate(cond.Operator, in[cond.Input], cond.Operand)
		if err != nil {
			return false, err
		}
		if or && ok {
			return true, nil
		}
		if !or && !ok {
			return false, nil
		}
	}
	return !or, nil
}
