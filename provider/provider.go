package provider

import (
	"context"
	"errors"

	"github.com/recallhq/recall/config"
	openai_provider "github.com/recallhq/recall/provider/openai"
)

// Client identifies an LLM provider implementation.
type Client string

const (
	OpenAI    Client = "openai"
	Anthropic Client = "anthropic"
)

// Message is one turn of a conversation handed to the completion model.
type Message = openai_provider.Message

// Provider is the interface all LLM implementations must satisfy.
type Provider interface {
	// CreateEmbedding converts texts into fixed-dimensionality vectors,
	// preserving input order.
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
	// Answer produces a completion for the supplied conversation.
	Answer(ctx context.Context, messages []Message) (string, error)
}

// Classified provider failures. Rate-limit and network errors are retryable
// by the caller; quota errors are terminal.
var (
	ErrRateLimited   = openai_provider.ErrRateLimited
	ErrQuotaExceeded = openai_provider.ErrQuotaExceeded
	ErrNetwork       = openai_provider.ErrNetwork
)

// NewProvider creates an LLM client from configuration.
func NewProvider(cfg config.LLMConfig) (Provider, error) {
	switch Client(cfg.Provider) {
	case OpenAI:
		if cfg.APIKey == "" {
			return nil, errors.New("llm.api_key not set")
		}
		return openai_provider.NewClient(openai_provider.Config{
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			ChatModel:      cfg.ChatModel,
			EmbeddingModel: cfg.EmbeddingModel,
			Timeout:        cfg.Timeout,
		}), nil
	case Anthropic:
		return nil, errors.New("anthropic client not implemented yet")
	default:
		return nil, errors.New("unsupported LLM provider")
	}
}
