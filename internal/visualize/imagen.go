package visualize

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"github.com/fyrsmithlabs/buildbuddy/internal/llm"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
)

const providerImagen = "imagen"

// imageGenerator is the subset of *genai.Models used for image generation.
type imageGenerator interface {
	GenerateImages(ctx context.Context, model, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

// ImagenRenderer generates a 16:9 product shot with an Imagen model and
// stores the bytes in an ArtifactStore.
type ImagenRenderer struct {
	images imageGenerator
	model  string
	store  ArtifactStore
}

// NewImagenRenderer wraps an existing genai client.
func NewImagenRenderer(client *genai.Client, model string, store ArtifactStore) (*ImagenRenderer, error) {
	if client == nil {
		return nil, errors.New("genai client is required")
	}
	return newImagenRenderer(client.Models, model, store)
}

func newImagenRenderer(images imageGenerator, model string, store ArtifactStore) (*ImagenRenderer, error) {
	if model == "" {
		return nil, errors.New("image model name is required")
	}
	if store == nil {
		return nil, errors.New("artifact store is required")
	}
	return &ImagenRenderer{images: images, model: model, store: store}, nil
}

// Name implements Renderer.
func (r *ImagenRenderer) Name() string { return providerImagen }

// Visualize implements Renderer.
func (r *ImagenRenderer) Visualize(ctx context.Context, req pipeline.VisualizeRequest) (pipeline.VisualizationResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return pipeline.VisualizationResult{}, errors.New("image prompt is empty")
	}

	resp, err := r.images.GenerateImages(ctx, r.model, req.Prompt, &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		AspectRatio:    "16:9",
		OutputMIMEType: "image/png",
	})
	if err != nil {
		var apiErr genai.APIError
		status := 0
		if errors.As(err, &apiErr) {
			status = apiErr.Code
		}
		return pipeline.VisualizationResult{}, &llm.TransportError{Provider: providerImagen, StatusCode: status, Err: err}
	}

	img := firstImage(resp)
	if img == nil {
		return pipeline.VisualizationResult{}, &llm.TransportError{Provider: providerImagen, Err: errors.New("no image returned")}
	}

	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	key := "renders/" + uuid.NewString() + extensionFor(mimeType)
	ref, err := r.store.Put(ctx, key, mimeType, img.ImageBytes)
	if err != nil {
		return pipeline.VisualizationResult{}, fmt.Errorf("storing render: %w", err)
	}

	return pipeline.VisualizationResult{
		ImageRef: ref,
		Prompt:   req.Prompt,
		Source:   providerImagen + ":" + r.model,
	}, nil
}

func firstImage(resp *genai.GenerateImagesResponse) *genai.Image {
	if resp == nil {
		return nil
	}
	for _, gi := range resp.GeneratedImages {
		if gi != nil && gi.Image != nil && len(gi.Image.ImageBytes) > 0 {
			return gi.Image
		}
	}
	return nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	default:
		return ".png"
	}
}
