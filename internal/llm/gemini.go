package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const providerGemini = "gemini"

// GenAIConfig selects a Gemini backend.
type GenAIConfig struct {
	APIKey string
	// Vertex routes calls through Vertex AI using application default
	// credentials instead of an API key.
	Vertex   bool
	Project  string
	Location string
}

// NewGenAIClient creates a genai client for the configured backend. The
// client is shared by text and image generation.
func NewGenAIClient(ctx context.Context, cfg GenAIConfig) (*genai.Client, error) {
	cc := &genai.ClientConfig{Backend: genai.BackendGeminiAPI, APIKey: cfg.APIKey}
	if cfg.Vertex {
		if cfg.Project == "" {
			return nil, errors.New("vertex backend requires a project")
		}
		cc = &genai.ClientConfig{
			Backend:  genai.BackendVertexAI,
			Project:  cfg.Project,
			Location: cfg.Location,
		}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return client, nil
}

// contentGenerator is the subset of *genai.Models used for text generation.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates text with a Gemini model.
type Gemini struct {
	models contentGenerator
	model  string
}

// NewGemini wraps an existing genai client.
func NewGemini(client *genai.Client, model string) (*Gemini, error) {
	if client == nil {
		return nil, errors.New("genai client is required")
	}
	if model == "" {
		return nil, errors.New("gemini model name is required")
	}
	return &Gemini{models: client.Models, model: model}, nil
}

// Generate implements Generator.
func (g *Gemini) Generate(ctx context.Context, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{Temperature: genai.Ptr(req.Temperature)}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := g.models.GenerateContent(ctx, g.model,
		[]*genai.Content{genai.NewContentFromText(req.Prompt, genai.RoleUser)},
		cfg,
	)
	if err != nil {
		return "", transportErr(providerGemini, geminiStatus(err), err)
	}

	text := responseText(resp)
	if text == "" {
		return "", transportErr(providerGemini, 0, ErrEmptyResponse)
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			b.WriteString(part.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

func geminiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return 0
}
