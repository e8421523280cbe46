package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/logging"
)

// HTTPRetriever is an HTTP implementation of the Retriever interface. It
// talks to the knowledge-base sidecar.
type HTTPRetriever struct {
	url    string
	client *http.Client
}

// NewHTTPRetriever creates a new HTTPRetriever. A zero timeout means no
// client-side deadline beyond the caller's context.
func NewHTTPRetriever(url string, timeout time.Duration) *HTTPRetriever {
	return &HTTPRetriever{url: url, client: &http.Client{Timeout: timeout}}
}

// Retrieve posts the search to <url>/search and decodes the documents.
func (c *HTTPRetriever) Retrieve(ctx context.Context, r RetrievalRequest) ([]Document, error) {
	requestBody, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/search", bytes.NewBuffer(requestBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	logger := logging.FromContext(ctx)
	logger.Debug("retrieval request", "knowledge_base_uuid", r.KnowledgeBaseUUID, "top_k", r.TopK)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Warn("retrieval service returned an error", "status", resp.StatusCode)
		return nil, fmt.Errorf("failed to retrieve documents: status code %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}

	var result struct {
		Documents []Document `json:"documents"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response body: %w", err)
	}

	return result.Documents, nil
}
