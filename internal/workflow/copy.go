package workflow

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// CloneGraph deep copies g, giving every node and edge a fresh uuid while
// keeping the wiring: edge endpoints and node_output input references are
// remapped to the new node uuids. Surrogate ids are cleared.
func CloneGraph(g *models.Graph) *models.Graph {
	remap := make(map[string]string, len(g.Nodes))
	for _, n := range g.Nodes {
		remap[n.UUID] = uuid.New().String()
	}

	out := &models.Graph{
		Nodes: make([]*models.Node, 0, len(g.Nodes)),
		Edges: make([]*models.Edge, 0, len(g.Edges)),
	}
	for _, n := range g.Nodes {
		c := *n
		c.ID = 0
		c.WorkflowID = 0
		c.UUID = remap[n.UUID]
		c.NodeConfig = append(json.RawMessage(nil), n.NodeConfig...)
		c.InputConfig.Slots = make([]models.InputSlot, len(n.InputConfig.Slots))
		for i, s := range n.InputConfig.Slots {
			if s.Source == models.InputSourceNodeOutput {
				if mapped, ok := remap[s.NodeUUID]; ok {
					s.NodeUUID = mapped
				}
			}
			c.InputConfig.Slots[i] = s
		}
		out.Nodes = append(out.Nodes, &c)
	}
	for _, e := range g.Edges {
		c := *e
		c.ID = 0
		c.WorkflowID = 0
		c.UUID = uuid.New().String()
		c.SourceNodeUUID = remap[e.SourceNodeUUID]
		c.TargetNodeUUID = remap[e.TargetNodeUUID]
		out.Edges = append(out.Edges, &c)
	}
	return out
}

// ApplyUpdate returns the graph that results from applying u to current:
// listed uuids are removed, then nodes and edges are upserted by uuid.
// Edges touching a deleted node are dropped with it.
func ApplyUpdate(current *models.Graph, u *models.GraphUpdate) *models.Graph {
	deletedNodes := toSet(u.DeletedNodeUUIDs)
	deletedEdges := toSet(u.DeletedEdgeUUIDs)

	out := &models.Graph{}
	nodeIndex := make(map[string]int)
	for _, n := range current.Nodes {
		if deletedNodes[n.UUID] {
			continue
		}
		nodeIndex[n.UUID] = len(out.Nodes)
		out.Nodes = append(out.Nodes, n)
	}
	for _, n := range u.Nodes {
		if i, ok := nodeIndex[n.UUID]; ok {
			out.Nodes[i] = n
			continue
		}
		nodeIndex[n.UUID] = len(out.Nodes)
		out.Nodes = append(out.Nodes, n)
	}

	edgeIndex := make(map[string]int)
	keep := func(e *models.Edge) bool {
		return !deletedEdges[e.UUID] && !deletedNodes[e.SourceNodeUUID] && !deletedNodes[e.TargetNodeUUID]
	}
	for _, e := range current.Edges {
		if !keep(e) {
			continue
		}
		edgeIndex[e.UUID] = len(out.Edges)
		out.Edges = append(out.Edges, e)
	}
	for _, e := range u.Edges {
		if i, ok := edgeIndex[e.UUID]; ok {
			out.Edges[i] = e
			continue
		}
		edgeIndex[e.UUID] = len(out.Edges)
		out.Edges = append(out.Edges, e)
	}
	return out
}

func toSet(ids []string) map[string]bool {
	s := make(map[string]bool, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}
