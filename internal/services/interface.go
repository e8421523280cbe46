package services

import "context"

// CompletionRequest is a single prompt sent to a language model.
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	Temperature float64
	MaxTokens   int
}

// ModelInvoker is the LLM capability used by llm-call nodes.
type ModelInvoker interface {
	// Complete returns the completion text for a prompt.
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// Document is one passage returned by a knowledge-base search.
type Document struct {
	Content string         `json:"content"`
	Score   float64        `json:"score"`
	Source  string         `json:"source,omitempty"`
	Meta    map[string]any `json:"metadata,omitempty"`
}

// RetrievalRequest is a knowledge-base search.
type RetrievalRequest struct {
	KnowledgeBaseUUID string  `json:"knowledge_base_uuid"`
	Query             string  `json:"query"`
	TopK              int     `json:"top_k"`
	MinScore          float64 `json:"min_score,omitempty"`
}

// Retriever is the knowledge-base capability used by knowledge-retrieve nodes.
type Retriever interface {
	// Retrieve returns the passages matching a query, best first.
	Retrieve(ctx context.Context, req RetrievalRequest) ([]Document, error)
}
