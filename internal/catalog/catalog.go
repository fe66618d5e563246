// Package catalog provides the parts retrieval index that grounds the Build
// stage in real part names and prices.
//
// Parts are embedded and stored in an in-process chromem-go collection.
// Sources are a built-in seed list and an optional directory of JSON part
// dumps, one file per category. Results may be cached per query with an
// expiring LRU.
package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildbuddy/internal/config"
	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
)

// CandidateItem is one part returned by a catalog search.
type CandidateItem struct {
	ID       string            `json:"id"`
	Category string            `json:"category"`
	Name     string            `json:"name"`
	Price    decimal.Decimal   `json:"price"`
	Specs    map[string]string `json:"specs,omitempty"`
	Source   string            `json:"source,omitempty"`
	// Score is the cosine similarity to the query, in [-1, 1].
	Score float32 `json:"score"`
}

// Searcher finds parts relevant to a free-text query. An empty result is
// valid. Implementations must be safe for concurrent use.
type Searcher interface {
	Search(ctx context.Context, query string, topK int) ([]CandidateItem, error)
}

// Embedder produces vectors for documents and queries. langchaingo's
// embeddings.Embedder satisfies it.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Open builds a Store from configuration: seed parts when enabled, then any
// part files under cfg.DataDir.
func Open(ctx context.Context, cfg config.CatalogConfig, embedder Embedder, logger *logging.Logger) (*Store, error) {
	store, err := NewStore(embedder, logger)
	if err != nil {
		return nil, err
	}
	if cfg.Seed {
		if err := store.Add(ctx, SeedItems()); err != nil {
			return nil, fmt.Errorf("seeding catalog: %w", err)
		}
	}
	if cfg.DataDir != "" {
		items, err := LoadDir(ctx, cfg.DataDir, logger)
		if err != nil {
			return nil, fmt.Errorf("loading catalog from %s: %w", cfg.DataDir, err)
		}
		if err := store.Add(ctx, items); err != nil {
			return nil, fmt.Errorf("indexing catalog: %w", err)
		}
	}
	logger.Info(ctx, "catalog ready", zap.Int("parts", store.Count()), zap.Bool("seeded", cfg.Seed))
	return store, nil
}
