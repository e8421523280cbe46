// Package components implements the built-in node kinds.
package components

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/services"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
)

// Kind names of the built-in components.
const (
	KindStart             = "start"
	KindEnd               = workflow.TerminalKind
	KindTemplate          = "template"
	KindLLMCall           = "llm-call"
	KindSwitch            = "switch"
	KindKnowledgeRetrieve = "knowledge-retrieve"
	KindUserInput         = "user-input"
)

// Deps are the capabilities the built-in components call out to. Nil
// capabilities make the corresponding nodes fail with capability_failure.
type Deps struct {
	Operators *workflow.OperatorCatalog
	Model     services.ModelInvoker
	Retriever services.Retriever
}

// RegisterAll registers every built-in kind on reg.
func RegisterAll(reg *workflow.Registry, deps Deps) error {
	ops := deps.Operators
	if ops == nil {
		ops = workflow.NewOperatorCatalog()
	}
	for _, c := range []workflow.Component{
		Start{},
		End{},
		Template{},
		NewLLMCall(deps.Model),
		NewSwitch(ops),
		NewKnowledgeRetrieve(deps.Retriever),
		UserInput{},
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding every built-in kind.
func NewRegistry(deps Deps) (*workflow.Registry, error) {
	reg := workflow.NewRegistry()
	if err := RegisterAll(reg, deps); err != nil {
		return nil, err
	}
	return reg, nil
}

func object(required []string, props map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", Properties: props, Required: required}
}

func str() *jsonschema.Schema { return &jsonschema.Schema{Type: "string"} }

func nonEmpty() *jsonschema.Schema { return &jsonschema.Schema{Type: "string", MinLength: ptr(1)} }

func ptr[T any](v T) *T { return &v }

// render executes a text/template over the node inputs. Referencing an
// input that did not resolve is an error.
func render(name, text string, data workflow.Inputs) (string, error) {
	tmpl, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse template: %w", err)
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, map[string]any(data)); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
