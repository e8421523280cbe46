package models

import (
	"encoding/json"
	"time"
)

// Workflow is a named, owned graph definition.
type Workflow struct {
	ID        int64     `json:"-"`
	UUID      string    `json:"uuid"`       // Stable external ID
	UserID    int64     `json:"user_id"`    // Owner
	Version   int       `json:"version"`    // Bumped on every graph write
	Title     string    `json:"title"`
	Remark    string    `json:"remark"`
	IsPublic  bool      `json:"is_public"`
	IsEnable  bool      `json:"is_enable"`
	IsDeleted bool      `json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReadableBy reports whether userID may view and run the workflow.
func (w *Workflow) ReadableBy(userID int64) bool {
	return w.UserID == userID || w.IsPublic
}

// InputSource tells the engine where an input slot gets its value.
type InputSource string

const (
	InputSourceLiteral    InputSource = "literal"
	InputSourceNodeOutput InputSource = "node_output"
	InputSourceExternal   InputSource = "external"
)

// DefaultOutputKey is the output key used when a slot does not name one.
const DefaultOutputKey = "output"

// InputSlot declares one named input of a node.
type InputSlot struct {
	Name     string      `json:"name" yaml:"name"`
	Source   InputSource `json:"source" yaml:"source"`
	Value    any         `json:"value,omitempty" yaml:"value,omitempty"`         // literal
	NodeUUID string      `json:"node_uuid,omitempty" yaml:"node_uuid,omitempty"` // node_output
	Key      string      `json:"key,omitempty" yaml:"key,omitempty"`             // output key or external input key
	Required bool        `json:"required,omitempty" yaml:"required,omitempty"`
}

// InputConfig is the per-node input declaration.
type InputConfig struct {
	Slots []InputSlot `json:"slots" yaml:"slots"`
}

// Node is one vertex of a workflow.
type Node struct {
	ID          int64           `json:"-"`
	UUID        string          `json:"uuid"`
	WorkflowID  int64           `json:"-"`
	Kind        string          `json:"kind"`
	Title       string          `json:"title"`
	Remark      string          `json:"remark"`
	InputConfig InputConfig     `json:"input_config"`
	NodeConfig  json.RawMessage `json:"node_config,omitempty"`
	PositionX   float64         `json:"position_x"`
	PositionY   float64         `json:"position_y"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Edge is a directed arc between two nodes of a workflow.
type Edge struct {
	ID             int64     `json:"-"`
	UUID           string    `json:"uuid"`
	WorkflowID     int64     `json:"-"`
	SourceNodeUUID string    `json:"source_node_uuid"`
	SourceHandle   string    `json:"source_handle,omitempty"`
	TargetNodeUUID string    `json:"target_node_uuid"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Graph is the node/edge set of a workflow.
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// Node returns the node with the given uuid, or nil.
func (g *Graph) Node(uuid string) *Node {
	for _, n := range g.Nodes {
		if n.UUID == uuid {
			return n
		}
	}
	return nil
}

// Outgoing returns the edges leaving a node in declaration order.
func (g *Graph) Outgoing(nodeUUID string) []*Edge {
	var out []*Edge
	for _, e := range g.Edges {
		if e.SourceNodeUUID == nodeUUID {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns the edges entering a node.
func (g *Graph) Incoming(nodeUUID string) []*Edge {
	var in []*Edge
	for _, e := range g.Edges {
		if e.TargetNodeUUID == nodeUUID {
			in = append(in, e)
		}
	}
	return in
}

// WorkflowInfo is the descriptive part of a workflow.
type WorkflowInfo struct {
	Title  string
	Remark string
}

// GraphUpdate is an atomic upsert-and-delete against a workflow graph.
type GraphUpdate struct {
	Nodes            []*Node  `json:"nodes"`
	Edges            []*Edge  `json:"edges"`
	DeletedNodeUUIDs []string `json:"deleted_node_uuids"`
	DeletedEdgeUUIDs []string `json:"deleted_edge_uuids"`

	// Info, when set, replaces title and remark in the same write.
	Info *WorkflowInfo `json:"-"`
}

// WorkflowDetail is a workflow together with its graph.
type WorkflowDetail struct {
	*Workflow
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges"`
}

// WorkflowSearch filters a workflow search
type WorkflowSearch struct {
	Keyword  string
	IsPublic *bool
	UserID   int64 // when IsPublic is not true, only this owner's workflows match
	PageRequest
}
