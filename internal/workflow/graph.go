package workflow

import (
	"fmt"
	"sort"

	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// ValidateGraph performs structural and per-kind validation on a graph.
// It checks for missing titles, duplicate ids, dangling and self-referential
// edges, cycles, input references that are not ancestors, and node_config
// against the registry. Any violation returns a validation *Error.
func ValidateGraph(g *models.Graph, reg *Registry) error {
	nodeIDs := make(map[string]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		if n.UUID == "" {
			return Errorf(KindValidation, "node without uuid")
		}
		if nodeIDs[n.UUID] {
			return Errorf(KindValidation, "duplicate node uuid: %q", n.UUID)
		}
		if n.Title == "" {
			return &Error{Kind: KindValidation, NodeUUID: n.UUID, Msg: "node title is required"}
		}
		nodeIDs[n.UUID] = true
	}

	edgeIDs := make(map[string]bool, len(g.Edges))
	for _, e := range g.Edges {
		if e.UUID == "" {
			return Errorf(KindValidation, "edge without uuid")
		}
		if edgeIDs[e.UUID] {
			return Errorf(KindValidation, "duplicate edge uuid: %q", e.UUID)
		}
		edgeIDs[e.UUID] = true
		if e.SourceNodeUUID == e.TargetNodeUUID {
			return Errorf(KindValidation, "self-referential edge: %q", e.UUID)
		}
		if !nodeIDs[e.SourceNodeUUID] {
			return Errorf(KindValidation, "edge %q references unknown node: %q", e.UUID, e.SourceNodeUUID)
		}
		if !nodeIDs[e.TargetNodeUUID] {
			return Errorf(KindValidation, "edge %q references unknown node: %q", e.UUID, e.TargetNodeUUID)
		}
	}

	if _, err := TopologicalOrder(g); err != nil {
		return err
	}

	for _, n := range g.Nodes {
		if err := validateInputConfig(n, g); err != nil {
			return err
		}
		if reg != nil {
			if err := reg.ValidateNode(n, g); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalOrder returns node uuids in Kahn order, breaking ties by
// declaration order. A cycle is a validation error.
func TopologicalOrder(g *models.Graph) ([]string, error) {
	indegree := make(map[string]int, len(g.Nodes))
	position := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		indegree[n.UUID] = 0
		position[n.UUID] = i
	}
	for _, e := range g.Edges {
		indegree[e.TargetNodeUUID]++
	}

	var queue []string
	for _, n := range g.Nodes {
		if indegree[n.UUID] == 0 {
			queue = append(queue, n.UUID)
		}
	}

	order := make([]string, 0, len(g.Nodes))
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, id)

		var next []string
		for _, e := range g.Outgoing(id) {
			indegree[e.TargetNodeUUID]--
			if indegree[e.TargetNodeUUID] == 0 {
				next = append(next, e.TargetNodeUUID)
			}
		}
		sort.SliceStable(next, func(i, j int) bool { return position[next[i]] < position[next[j]] })
		queue = append(queue, next...)
	}

	if len(order) != len(g.Nodes) {
		var stuck []string
		for id, d := range indegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, Errorf(KindValidation, "cycle detected involving nodes %v", stuck)
	}
	return order, nil
}

// Ancestors returns every node from which nodeUUID is reachable.
func Ancestors(g *models.Graph, nodeUUID string) map[string]bool {
	seen := make(map[string]bool)
	stack := []string{nodeUUID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, e := range g.Incoming(id) {
			if !seen[e.SourceNodeUUID] {
				seen[e.SourceNodeUUID] = true
				stack = append(stack, e.SourceNodeUUID)
			}
		}
	}
	return seen
}

func validateInputConfig(n *models.Node, g *models.Graph) error {
	names := make(map[string]bool, len(n.InputConfig.Slots))
	var ancestors map[string]bool
	for _, s := range n.InputConfig.Slots {
		if s.Name == "" {
			return &Error{Kind: KindValidation, NodeUUID: n.UUID, Msg: "input slot without name"}
		}
		if names[s.Name] {
			return &Error{Kind: KindValidation, NodeUUID: n.UUID, Msg: fmt.Sprintf("duplicate input slot %q", s.Name)}
		}
		names[s.Name] = true

		switch s.Source {
		case models.InputSourceLiteral, models.InputSourceExternal:
		case models.InputSourceNodeOutput:
			if ancestors == nil {
				ancestors = Ancestors(g, n.UUID)
			}
			if !ancestors[s.NodeUUID] {
				return &Error{Kind: KindValidation, NodeUUID: n.UUID,
					Msg: fmt.Sprintf("input slot %q references %q which is not a predecessor", s.Name, s.NodeUUID)}
			}
		default:
			return &Error{Kind: KindValidation, NodeUUID: n.UUID,
				Msg: fmt.Sprintf("input slot %q has unknown source %q", s.Name, s.Source)}
		}
	}
	return nil
}
