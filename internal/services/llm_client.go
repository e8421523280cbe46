package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	Provider string // openai or ollama
	BaseURL  string
	APIKey   string
	Model    string
}

// LangChainInvoker is a ModelInvoker backed by a langchaingo model.
type LangChainInvoker struct {
	model        llms.Model
	defaultModel string
}

// NewLangChainInvoker wraps an existing langchaingo model.
func NewLangChainInvoker(model llms.Model, defaultModel string) *LangChainInvoker {
	return &LangChainInvoker{model: model, defaultModel: defaultModel}
}

// NewModelInvoker builds a LangChainInvoker for the configured provider.
func NewModelInvoker(cfg LLMConfig) (*LangChainInvoker, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "openai":
		if cfg.APIKey == "" {
			return nil, errors.New("openai provider requires an api key")
		}
		opts := []openai.Option{openai.WithToken(cfg.APIKey)}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create openai client: %w", err)
		}
		return NewLangChainInvoker(client, cfg.Model), nil
	case "ollama":
		serverURL := cfg.BaseURL
		if serverURL == "" {
			serverURL = "http://localhost:11434"
		}
		opts := []ollama.Option{ollama.WithServerURL(serverURL)}
		if cfg.Model != "" {
			opts = append(opts, ollama.WithModel(cfg.Model))
		}
		client, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("create ollama client: %w", err)
		}
		return NewLangChainInvoker(client, cfg.Model), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}

// Complete sends the prompt as a single human message, preceded by the
// system message when one is set, and returns the first choice.
func (i *LangChainInvoker) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var messages []llms.MessageContent
	if req.System != "" {
		messages = append(messages, llms.MessageContent{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(req.System)},
		})
	}
	messages = append(messages, llms.MessageContent{
		Role:  llms.ChatMessageTypeHuman,
		Parts: []llms.ContentPart{llms.TextPart(req.Prompt)},
	})

	var opts []llms.CallOption
	model := req.Model
	if model == "" {
		model = i.defaultModel
	}
	if model != "" {
		opts = append(opts, llms.WithModel(model))
	}
	if req.Temperature > 0 {
		opts = append(opts, llms.WithTemperature(req.Temperature))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := i.model.GenerateContent(ctx, messages, opts...)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", errors.New("model returned no choices")
	}
	return resp.Choices[0].Content, nil
}
