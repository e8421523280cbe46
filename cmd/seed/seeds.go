package main

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/services"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

//go:embed seeds.yaml
var seedsYAML []byte

type seedFile struct {
	Workflows []seedWorkflow `yaml:"workflows"`
}

type seedWorkflow struct {
	Title  string     `yaml:"title"`
	Remark string     `yaml:"remark"`
	Public bool       `yaml:"public"`
	Nodes  []seedNode `yaml:"nodes"`
	Edges  []seedEdge `yaml:"edges"`
}

type seedNode struct {
	ID     string             `yaml:"id"`
	Kind   string             `yaml:"kind"`
	Title  string             `yaml:"title"`
	Inputs []models.InputSlot `yaml:"inputs"`
	Config map[string]any     `yaml:"config"`
}

type seedEdge struct {
	From   string `yaml:"from"`
	To     string `yaml:"to"`
	Handle string `yaml:"handle"`
}

func loadSeeds(data []byte) ([]seedWorkflow, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse seeds: %w", err)
	}
	return f.Workflows, nil
}

// input converts a seed into a creation payload. Local ids become fresh
// UUIDs, in edges and in input slots alike.
func (w seedWorkflow) input() (services.CreateWorkflowInput, error) {
	ids := make(map[string]string, len(w.Nodes))
	for _, n := range w.Nodes {
		if _, dup := ids[n.ID]; dup {
			return services.CreateWorkflowInput{}, fmt.Errorf("%s: duplicate node id %q", w.Title, n.ID)
		}
		ids[n.ID] = uuid.NewString()
	}
	resolve := func(id string) (string, error) {
		if u, ok := ids[id]; ok {
			return u, nil
		}
		return "", fmt.Errorf("%s: unknown node id %q", w.Title, id)
	}

	in := services.CreateWorkflowInput{Title: w.Title, Remark: w.Remark, IsPublic: w.Public}
	for i, n := range w.Nodes {
		node := &models.Node{
			UUID:      ids[n.ID],
			Kind:      n.Kind,
			Title:     n.Title,
			PositionX: float64(i) * 240,
		}
		for _, slot := range n.Inputs {
			if slot.Source == models.InputSourceNodeOutput {
				u, err := resolve(slot.NodeUUID)
				if err != nil {
					return in, err
				}
				slot.NodeUUID = u
			}
			node.InputConfig.Slots = append(node.InputConfig.Slots, slot)
		}
		if n.Config != nil {
			raw, err := json.Marshal(n.Config)
			if err != nil {
				return in, fmt.Errorf("%s: node %q config: %w", w.Title, n.ID, err)
			}
			node.NodeConfig = raw
		}
		in.Nodes = append(in.Nodes, node)
	}
	for _, e := range w.Edges {
		from, err := resolve(e.From)
		if err != nil {
			return in, err
		}
		to, err := resolve(e.To)
		if err != nil {
			return in, err
		}
		in.Edges = append(in.Edges, &models.Edge{
			UUID:           uuid.NewString(),
			SourceNodeUUID: from,
			SourceHandle:   e.Handle,
			TargetNodeUUID: to,
		})
	}
	return in, nil
}
