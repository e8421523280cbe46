package components

import (
	"context"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/services"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

type llmCallConfig struct {
	Prompt      string  `json:"prompt"`
	System      string  `json:"system"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// LLMCall renders its prompt template over the inputs and returns the model
// completion as "output".
type LLMCall struct {
	model services.ModelInvoker
}

// NewLLMCall creates an llm-call component using model.
func NewLLMCall(model services.ModelInvoker) *LLMCall {
	return &LLMCall{model: model}
}

func (c *LLMCall) Info() models.ComponentInfo {
	return models.ComponentInfo{Kind: KindLLMCall, Title: "LLM call", Remark: "Sends a rendered prompt to the language model"}
}

func (c *LLMCall) ConfigSchema() *jsonschema.Schema {
	return object([]string{"prompt"}, map[string]*jsonschema.Schema{
		"prompt":      nonEmpty(),
		"system":      str(),
		"model":       str(),
		"temperature": {Type: "number", Minimum: ptr(0.0), Maximum: ptr(2.0)},
		"max_tokens":  {Type: "integer", Minimum: ptr(1.0)},
	})
}

func (c *LLMCall) Execute(ctx context.Context, node *models.Node, in workflow.Inputs, ec *workflow.ExecContext) workflow.Result {
	if c.model == nil {
		return workflow.Failed(workflow.KindCapabilityFailure, "no language model configured")
	}
	var cfg llmCallConfig
	if err := workflow.DecodeConfig(node, &cfg); err != nil {
		return workflow.FailedWith(err)
	}
	prompt, err := render(node.UUID, cfg.Prompt, in)
	if err != nil {
		return workflow.Failed(workflow.KindValidation, err.Error())
	}
	system, err := render(node.UUID+"-system", cfg.System, in)
	if err != nil {
		return workflow.Failed(workflow.KindValidation, err.Error())
	}

	text, err := c.model.Complete(ctx, services.CompletionRequest{
		Model:       cfg.Model,
		System:      system,
		Prompt:      prompt,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	})
	if err != nil {
		return workflow.FailedWith(err)
	}
	if ec != nil && ec.Logger != nil {
		ec.Logger.Debug("llm call completed", "node_uuid", node.UUID, "chars", len(text))
	}
	return workflow.Completed(map[string]any{models.DefaultOutputKey: text})
}
