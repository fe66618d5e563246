package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

const providerOpenAI = "openai"

// OpenAIConfig configures an OpenAI-compatible chat backend.
type OpenAIConfig struct {
	APIKey string
	Model  string
	// BaseURL targets a compatible server such as a local inference gateway.
	BaseURL string
}

// OpenAI generates text through langchaingo's OpenAI client.
type OpenAI struct {
	model llms.Model
}

// NewOpenAI creates an OpenAI-compatible generator.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key required")
	}
	if cfg.Model == "" {
		return nil, errors.New("openai model name is required")
	}
	opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create openai client: %w", err)
	}
	return &OpenAI{model: client}, nil
}

// Generate implements Generator. langchaingo has no response-format call
// option, so req.JSON relies on the stage prompt asking for a bare object.
func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	opts := []llms.CallOption{llms.WithTemperature(float64(req.Temperature))}
	if req.MaxOutputTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(req.MaxOutputTokens))
	}

	text, err := llms.GenerateFromSinglePrompt(ctx, o.model, req.Prompt, opts...)
	if err != nil {
		return "", transportErr(providerOpenAI, 0, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", transportErr(providerOpenAI, 0, ErrEmptyResponse)
	}
	return text, nil
}

// NewOpenAIEmbedder creates a langchaingo embedder for an OpenAI-compatible
// embeddings endpoint. cfg.Model names the embedding model.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*embeddings.EmbedderImpl, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai API key required")
	}
	opts := []openai.Option{openai.WithEmbeddingModel(cfg.Model), openai.WithToken(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	return embedder, nil
}
