package engine

import (
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

type nodeState int

const (
	statePending nodeState = iota
	stateCompleted
	stateSkipped
	stateFailed
)

// schedule tracks which nodes of one instance have run. It is rebuilt from
// the graph snapshot and the persisted runtime nodes, so it carries nothing
// that is not also in the store.
type schedule struct {
	graph   *models.Graph
	order   []string // topological, declaration order tie-break
	state   map[string]nodeState
	handles map[string]string // selected handle of completed branching nodes
	outputs map[string]map[string]any
}

func newSchedule(g *models.Graph, done []*models.RuntimeNode) (*schedule, error) {
	order, err := workflow.TopologicalOrder(g)
	if err != nil {
		return nil, err
	}
	s := &schedule{
		graph:   g,
		order:   order,
		state:   make(map[string]nodeState, len(g.Nodes)),
		handles: make(map[string]string),
		outputs: make(map[string]map[string]any),
	}
	for _, rn := range done {
		switch rn.Status {
		case models.NodeStatusCompleted:
			s.complete(rn.NodeUUID, rn.SelectedHandle, rn.Output)
		case models.NodeStatusFailed:
			s.state[rn.NodeUUID] = stateFailed
		}
	}
	return s, nil
}

func (s *schedule) complete(nodeUUID, handle string, output map[string]any) {
	s.state[nodeUUID] = stateCompleted
	if handle != "" {
		s.handles[nodeUUID] = handle
	}
	if output == nil {
		output = map[string]any{}
	}
	s.outputs[nodeUUID] = output
}

// edgeState is resolved (live or dead) once its source has finished.
func (s *schedule) edgeState(e *models.Edge) (resolved, live bool) {
	switch s.state[e.SourceNodeUUID] {
	case stateCompleted:
		handle, branched := s.handles[e.SourceNodeUUID]
		return true, !branched || e.SourceHandle == handle
	case stateSkipped:
		return true, false
	default:
		return false, false
	}
}

// ready marks every pending node whose incoming edges are all dead as
// skipped, then returns the pending nodes that can run now in topological
// order. A node is runnable when it has no incoming edges, or all of them
// are resolved and at least one is live.
func (s *schedule) ready() []*models.Node {
	for changed := true; changed; {
		changed = false
		for _, id := range s.order {
			if s.state[id] != statePending {
				continue
			}
			incoming := s.graph.Incoming(id)
			if len(incoming) == 0 {
				continue
			}
			resolved, live := s.inbound(incoming)
			if resolved && !live {
				s.state[id] = stateSkipped
				changed = true
			}
		}
	}

	var out []*models.Node
	for _, id := range s.order {
		if s.state[id] != statePending {
			continue
		}
		incoming := s.graph.Incoming(id)
		if len(incoming) == 0 {
			out = append(out, s.graph.Node(id))
			continue
		}
		if resolved, live := s.inbound(incoming); resolved && live {
			out = append(out, s.graph.Node(id))
		}
	}
	return out
}

func (s *schedule) inbound(edges []*models.Edge) (resolved, live bool) {
	resolved = true
	for _, e := range edges {
		r, l := s.edgeState(e)
		resolved = resolved && r
		live = live || l
	}
	return resolved, live
}

// result computes the instance output: the output of the single executed
// end node, or every executed end node keyed by uuid. Without executed end
// nodes the executed sinks are used the same way.
func (s *schedule) result() map[string]any {
	var picked []string
	for _, id := range s.order {
		if s.state[id] == stateCompleted && s.graph.Node(id).Kind == workflow.TerminalKind {
			picked = append(picked, id)
		}
	}
	if len(picked) == 0 {
		for _, id := range s.order {
			if s.state[id] == stateCompleted && len(s.graph.Outgoing(id)) == 0 {
				picked = append(picked, id)
			}
		}
	}
	switch len(picked) {
	case 0:
		return map[string]any{}
	case 1:
		return s.outputs[picked[0]]
	default:
		out := make(map[string]any, len(picked))
		for _, id := range picked {
			out[id] = s.outputs[id]
		}
		return out
	}
}
