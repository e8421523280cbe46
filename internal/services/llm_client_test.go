package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/services"
)

// fakeModel records the last call and answers with a fixed reply.
type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (m *fakeModel) GenerateContent(_ context.Context, messages []llms.MessageContent, opts ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	m.options = llms.CallOptions{}
	for _, opt := range opts {
		opt(&m.options)
	}
	if m.err != nil {
		return nil, m.err
	}
	if m.reply == "" {
		return &llms.ContentResponse{}, nil
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: m.reply}}}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, opts ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, opts...)
}

func TestLangChainInvoker_Complete(t *testing.T) {
	model := &fakeModel{reply: "42"}
	inv := services.NewLangChainInvoker(model, "default-model")

	out, err := inv.Complete(context.Background(), services.CompletionRequest{
		System:      "be brief",
		Prompt:      "meaning of life?",
		Temperature: 0.2,
		MaxTokens:   16,
	})
	require.NoError(t, err)
	assert.Equal(t, "42", out)

	require.Len(t, model.messages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, model.messages[0].Role)
	assert.Equal(t, llms.TextPart("be brief"), model.messages[0].Parts[0])
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[1].Role)
	assert.Equal(t, llms.TextPart("meaning of life?"), model.messages[1].Parts[0])
	assert.Equal(t, "default-model", model.options.Model)
	assert.InDelta(t, 0.2, model.options.Temperature, 1e-9)
	assert.Equal(t, 16, model.options.MaxTokens)
}

func TestLangChainInvoker_RequestModelOverridesDefault(t *testing.T) {
	model := &fakeModel{reply: "ok"}
	inv := services.NewLangChainInvoker(model, "default-model")

	_, err := inv.Complete(context.Background(), services.CompletionRequest{Model: "other", Prompt: "hi"})
	require.NoError(t, err)
	require.Len(t, model.messages, 1, "no system message without a system prompt")
	assert.Equal(t, "other", model.options.Model)
}

func TestLangChainInvoker_Errors(t *testing.T) {
	_, err := services.NewLangChainInvoker(&fakeModel{err: errors.New("quota")}, "").
		Complete(context.Background(), services.CompletionRequest{Prompt: "hi"})
	assert.ErrorContains(t, err, "quota")

	_, err = services.NewLangChainInvoker(&fakeModel{}, "").
		Complete(context.Background(), services.CompletionRequest{Prompt: "hi"})
	assert.ErrorContains(t, err, "no choices")
}

func TestNewModelInvoker(t *testing.T) {
	_, err := services.NewModelInvoker(services.LLMConfig{Provider: "openai"})
	assert.Error(t, err, "openai needs a key")

	_, err = services.NewModelInvoker(services.LLMConfig{Provider: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unknown llm provider")

	inv, err := services.NewModelInvoker(services.LLMConfig{Provider: "ollama", Model: "llama3"})
	require.NoError(t, err)
	assert.NotNil(t, inv)
}
