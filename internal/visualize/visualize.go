// Package visualize renders an image for a finished build.
//
// Renderers are tried in order by a Chain. The usual setup is an Imagen
// renderer whose bytes go to an ArtifactStore, followed by the curated stock
// image renderer that never fails. Visualization is cosmetic: the pipeline
// degrades when every renderer fails and keeps the numeric result.
package visualize

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
	"github.com/fyrsmithlabs/buildbuddy/internal/pipeline"
)

// Renderer produces a visualization for one request.
type Renderer interface {
	Name() string
	Visualize(ctx context.Context, req pipeline.VisualizeRequest) (pipeline.VisualizationResult, error)
}

// Chain tries renderers in order and returns the first success.
type Chain struct {
	renderers []Renderer
	logger    *logging.Logger
}

var _ pipeline.Visualizer = (*Chain)(nil)

// NewChain returns a Chain over renderers. Nil renderers are skipped.
func NewChain(logger *logging.Logger, renderers ...Renderer) *Chain {
	if logger == nil {
		logger = logging.Nop()
	}
	c := &Chain{logger: logger}
	for _, r := range renderers {
		if r != nil {
			c.renderers = append(c.renderers, r)
		}
	}
	return c
}

// Visualize implements pipeline.Visualizer.
func (c *Chain) Visualize(ctx context.Context, req pipeline.VisualizeRequest) (pipeline.VisualizationResult, error) {
	if len(c.renderers) == 0 {
		return pipeline.VisualizationResult{}, errors.New("no renderers configured")
	}

	var errs []error
	for _, r := range c.renderers {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		res, err := r.Visualize(ctx, req)
		if err == nil {
			if res.Prompt == "" {
				res.Prompt = req.Prompt
			}
			return res, nil
		}
		c.logger.Warn(ctx, "renderer failed, trying next",
			zap.String("renderer", r.Name()),
			zap.Error(err),
		)
		errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
	}
	return pipeline.VisualizationResult{}, errors.Join(errs...)
}
