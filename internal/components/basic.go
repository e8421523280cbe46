package components

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// Start is the entry node. Its output is the run input overlaid with the
// node's own resolved slots.
type Start struct{}

func (Start) Info() models.ComponentInfo {
	return models.ComponentInfo{Kind: KindStart, Title: "Start", Remark: "Entry point; exposes the run input"}
}

func (Start) ConfigSchema() *jsonschema.Schema { return object(nil, nil) }

func (Start) Execute(_ context.Context, _ *models.Node, in workflow.Inputs, ec *workflow.ExecContext) workflow.Result {
	out := make(map[string]any, len(ec.RunInput)+len(in))
	for k, v := range ec.RunInput {
		out[k] = v
	}
	for k, v := range in {
		out[k] = v
	}
	return workflow.Completed(out)
}

// End marks a terminal node. Its resolved inputs become the instance output.
type End struct{}

func (End) Info() models.ComponentInfo {
	return models.ComponentInfo{Kind: KindEnd, Title: "End", Remark: "Collects the workflow result"}
}

func (End) ConfigSchema() *jsonschema.Schema { return object(nil, nil) }

func (End) Execute(_ context.Context, _ *models.Node, in workflow.Inputs, _ *workflow.ExecContext) workflow.Result {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return workflow.Completed(out)
}

type templateConfig struct {
	Template string `json:"template"`
}

// Template renders a text/template over its inputs into "output".
type Template struct{}

func (Template) Info() models.ComponentInfo {
	return models.ComponentInfo{Kind: KindTemplate, Title: "Template", Remark: "Renders text from the node inputs"}
}

func (Template) ConfigSchema() *jsonschema.Schema {
	return object([]string{"template"}, map[string]*jsonschema.Schema{"template": nonEmpty()})
}

func (Template) Execute(_ context.Context, node *models.Node, in workflow.Inputs, _ *workflow.ExecContext) workflow.Result {
	var cfg templateConfig
	if err := workflow.DecodeConfig(node, &cfg); err != nil {
		return workflow.FailedWith(err)
	}
	text, err := render(node.UUID, cfg.Template, in)
	if err != nil {
		return workflow.Failed(workflow.KindValidation, err.Error())
	}
	return workflow.Completed(map[string]any{models.DefaultOutputKey: text})
}

type userInputConfig struct {
	Prompt string `json:"prompt"`
}

// UserInput pauses the instance until feedback arrives, then passes the
// feedback on as its output.
type UserInput struct{}

func (UserInput) Info() models.ComponentInfo {
	return models.ComponentInfo{Kind: KindUserInput, Title: "User input", Remark: "Suspends the run until the user answers"}
}

func (UserInput) ConfigSchema() *jsonschema.Schema {
	return object(nil, map[string]*jsonschema.Schema{"prompt": str()})
}

func (UserInput) Execute(_ context.Context, node *models.Node, in workflow.Inputs, _ *workflow.ExecContext) workflow.Result {
	if feedback, ok := in[workflow.FeedbackKey]; ok {
		return workflow.Completed(map[string]any{models.DefaultOutputKey: feedback})
	}
	var cfg userInputConfig
	if err := workflow.DecodeConfig(node, &cfg); err != nil {
		return workflow.FailedWith(err)
	}
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = node.Title
	}
	return workflow.AwaitingInput(prompt)
}
