package components

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/services"
	"github.com/bbenst/langchain4j-aideepin-sub001/internal/workflow"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

const defaultTopK = 3

// QueryInput is the input slot knowledge-retrieve searches with.
const QueryInput = "query"

type retrieveConfig struct {
	KnowledgeBaseUUID string  `json:"knowledge_base_uuid"`
	TopK              int     `json:"top_k"`
	MinScore          float64 `json:"min_score"`
}

// KnowledgeRetrieve searches a knowledge base with its "query" input. The
// output holds the joined passages under "output" and the raw passages
// under "documents".
type KnowledgeRetrieve struct {
	retriever services.Retriever
}

// NewKnowledgeRetrieve creates a knowledge-retrieve component using r.
func NewKnowledgeRetrieve(r services.Retriever) *KnowledgeRetrieve {
	return &KnowledgeRetrieve{retriever: r}
}

func (c *KnowledgeRetrieve) Info() models.ComponentInfo {
	return models.ComponentInfo{Kind: KindKnowledgeRetrieve, Title: "Knowledge retrieval", Remark: "Looks up passages in a knowledge base"}
}

func (c *KnowledgeRetrieve) ConfigSchema() *jsonschema.Schema {
	return object([]string{"knowledge_base_uuid"}, map[string]*jsonschema.Schema{
		"knowledge_base_uuid": nonEmpty(),
		"top_k":               {Type: "integer", Minimum: ptr(1.0), Maximum: ptr(50.0)},
		"min_score":           {Type: "number", Minimum: ptr(0.0)},
	})
}

func (c *KnowledgeRetrieve) Execute(ctx context.Context, node *models.Node, in workflow.Inputs, _ *workflow.ExecContext) workflow.Result {
	if c.retriever == nil {
		return workflow.Failed(workflow.KindCapabilityFailure, "no knowledge base configured")
	}
	var cfg retrieveConfig
	if err := workflow.DecodeConfig(node, &cfg); err != nil {
		return workflow.FailedWith(err)
	}
	query := strings.TrimSpace(fmt.Sprint(in[QueryInput]))
	if in[QueryInput] == nil || query == "" {
		return workflow.Failed(workflow.KindValidation, "input \"query\" is empty")
	}
	if cfg.TopK == 0 {
		cfg.TopK = defaultTopK
	}

	docs, err := c.retriever.Retrieve(ctx, services.RetrievalRequest{
		KnowledgeBaseUUID: cfg.KnowledgeBaseUUID,
		Query:             query,
		TopK:              cfg.TopK,
		MinScore:          cfg.MinScore,
	})
	if err != nil {
		return workflow.FailedWith(err)
	}

	texts := make([]string, 0, len(docs))
	documents := make([]any, 0, len(docs))
	for _, d := range docs {
		texts = append(texts, d.Content)
		documents = append(documents, map[string]any{"content": d.Content, "score": d.Score, "source": d.Source})
	}
	return workflow.Completed(map[string]any{
		models.DefaultOutputKey: strings.Join(texts, "\n\n"),
		"documents":             documents,
	})
}
