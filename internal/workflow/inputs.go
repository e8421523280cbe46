package workflow

import (
	"fmt"

	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// ResolveInputs computes the input values of node from the outputs of
// already completed nodes and the external run input.
//
// Outputs of nodes that never ran (skipped branch) resolve to nothing; a
// required slot that resolves to nothing is a validation error.
func ResolveInputs(node *models.Node, outputs map[string]map[string]any, external map[string]any) (Inputs, error) {
	in := make(Inputs, len(node.InputConfig.Slots))
	for _, s := range node.InputConfig.Slots {
		var (
			value any
			found bool
		)
		switch s.Source {
		case models.InputSourceLiteral:
			value, found = s.Value, true
		case models.InputSourceExternal:
			key := s.Key
			if key == "" {
				key = s.Name
			}
			value, found = external[key]
		case models.InputSourceNodeOutput:
			key := s.Key
			if key == "" {
				key = models.DefaultOutputKey
			}
			if out, ok := outputs[s.NodeUUID]; ok {
				value, found = out[key]
			}
		default:
			return nil, &Error{Kind: KindValidation, NodeUUID: node.UUID, Msg: fmt.Sprintf("input slot %q has unknown source %q", s.Name, s.Source)}
		}

		if !found || value == nil {
			if s.Required {
				return nil, &Error{Kind: KindValidation, NodeUUID: node.UUID, Msg: fmt.Sprintf("required input %q has no value", s.Name)}
			}
			continue
		}
		in[s.Name] = value
	}
	return in, nil
}

// MergeFeedback returns a copy of in with feedback stored under FeedbackKey.
func MergeFeedback(in Inputs, feedback any) Inputs {
	merged := make(Inputs, len(in)+1)
	for k, v := range in {
		merged[k] = v
	}
	merged[FeedbackKey] = feedback
	return merged
}
