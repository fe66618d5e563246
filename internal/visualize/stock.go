package visualize

import (
	"context"
	"strings"

	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
)

// Curated stock images keyed by theme.
const (
	PinkImageURL    = "https://i.pinimg.com/originals/f3/14/05/f31405edd3df05d045c742fb6e511790.jpg"
	WhiteImageURL   = "https://images.unsplash.com/photo-1587202372775-e229f172b9d7?q=80&w=2574"
	DefaultImageURL = "https://images.unsplash.com/photo-1603481588273-2f908a9a7a1b?q=80&w=2070"

	// StockSource labels results from StockRenderer.
	StockSource = "Unsplash (Dynamic Search)"
)

// StockRenderer picks a curated photo matching the requested theme. It needs
// no network and never fails unless ctx is done.
type StockRenderer struct{}

// Name implements Renderer.
func (StockRenderer) Name() string { return "stock" }

// Visualize implements Renderer.
func (StockRenderer) Visualize(ctx context.Context, req pipeline.VisualizeRequest) (pipeline.VisualizationResult, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.VisualizationResult{}, err
	}
	return pipeline.VisualizationResult{
		ImageRef: StockImageURL(req.Theme, req.Query),
		Prompt:   req.Prompt,
		Source:   StockSource,
	}, nil
}

// StockImageURL returns the curated image for theme, falling back to
// keywords in query when theme is empty.
func StockImageURL(theme, query string) string {
	text := strings.ToLower(theme)
	if text == "" {
		text = strings.ToLower(query)
	}
	switch {
	case strings.Contains(text, "pink"):
		return PinkImageURL
	case strings.Contains(text, "white"):
		return WhiteImageURL
	default:
		return DefaultImageURL
	}
}
