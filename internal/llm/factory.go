package llm

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/buildbuddy/internal/config"
)

// NewFromConfig creates the configured text generator wrapped with metrics
// and rate limiting. Provider "none" returns a nil Generator, which the
// pipeline accepts only in mock mode.
func NewFromConfig(ctx context.Context, cfg config.ModelConfig) (Generator, error) {
	var (
		gen Generator
		err error
	)
	switch cfg.Provider {
	case "none":
		return nil, nil
	case "gemini":
		client, cerr := NewGenAIClient(ctx, GenAIConfigFrom(cfg))
		if cerr != nil {
			return nil, cerr
		}
		gen, err = NewGemini(client, cfg.Name)
	case "openai":
		gen, err = NewOpenAI(OpenAIConfig{
			APIKey:  cfg.APIKey.Value(),
			Model:   cfg.Name,
			BaseURL: cfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewRateLimited(Instrument(cfg.Provider, gen), cfg.RequestsPerSecond, cfg.Burst), nil
}

// GenAIConfigFrom maps model configuration onto a genai backend selection.
func GenAIConfigFrom(cfg config.ModelConfig) GenAIConfig {
	return GenAIConfig{
		APIKey:   cfg.APIKey.Value(),
		Vertex:   cfg.Backend == "vertex",
		Project:  cfg.Project,
		Location: cfg.Location,
	}
}
