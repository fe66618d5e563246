package catalog

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/buildbuddy/internal/logging"
)

const (
	collectionName = "parts"
	specPrefix     = "spec:"
)

var tracer = otel.Tracer("github.com/fyrsmithlabs/buildbuddy/internal/catalog")

// Store is an in-memory vector index of parts.
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   Embedder
	logger     *logging.Logger

	mu sync.RWMutex
	// categories maps part ID to category; chromem has no filtered count.
	categories map[string]string
}

// NewStore creates an empty store.
func NewStore(embedder Embedder, logger *logging.Logger) (*Store, error) {
	if embedder == nil {
		return nil, errors.New("embedder is required")
	}
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{
		db:         chromem.NewDB(),
		embedder:   embedder,
		logger:     logger,
		categories: make(map[string]string),
	}
	collection, err := s.db.GetOrCreateCollection(collectionName, nil, s.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", collectionName, err)
	}
	s.collection = collection
	return s, nil
}

func (s *Store) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return s.embedder.EmbedQuery(ctx, text)
	}
}

// Add indexes items. Items without an ID get ItemID; an existing ID
// replaces the stored part.
func (s *Store) Add(ctx context.Context, items []CandidateItem) error {
	ctx, span := tracer.Start(ctx, "catalog.Store.Add")
	defer span.End()
	span.SetAttributes(attribute.Int("item_count", len(items)))

	if len(items) == 0 {
		return nil
	}
	items = cloneItems(items)

	texts := make([]string, len(items))
	for i, it := range items {
		if it.ID == "" {
			it.ID = ItemID(it.Category, it.Name)
			items[i] = it
		}
		texts[i] = documentText(it)
	}

	vectors, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("embedding parts: %w", err)
	}
	if len(vectors) != len(items) {
		return fmt.Errorf("embedder returned %d vectors for %d parts", len(vectors), len(items))
	}

	docs := make([]chromem.Document, len(items))
	for i, it := range items {
		docs[i] = chromem.Document{
			ID:        it.ID,
			Content:   texts[i],
			Metadata:  itemMetadata(it),
			Embedding: vectors[i],
		}
	}
	// Embeddings are precomputed, so one worker is enough.
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding parts: %w", err)
	}

	s.mu.Lock()
	for _, it := range items {
		s.categories[it.ID] = it.Category
	}
	s.mu.Unlock()

	s.logger.Debug(ctx, "indexed catalog parts", zap.Int("count", len(items)))
	return nil
}

// Count returns the number of indexed parts.
func (s *Store) Count() int {
	return s.collection.Count()
}

// Search implements Searcher across all categories.
func (s *Store) Search(ctx context.Context, query string, topK int) ([]CandidateItem, error) {
	return s.search(ctx, query, "", topK)
}

// SearchCategory restricts Search to one category.
func (s *Store) SearchCategory(ctx context.Context, query, category string, topK int) ([]CandidateItem, error) {
	if category == "" {
		return nil, errors.New("category cannot be empty")
	}
	return s.search(ctx, query, category, topK)
}

func (s *Store) search(ctx context.Context, query, category string, topK int) ([]CandidateItem, error) {
	ctx, span := tracer.Start(ctx, "catalog.Store.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", topK), attribute.String("category", category))

	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	var where map[string]string
	if category != "" {
		where = map[string]string{"category": category}
	}

	// chromem requires nResults <= the number of candidate documents.
	n := s.collection.Count()
	if category != "" {
		n = s.countCategory(category)
	}
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}

	results, err := s.collection.Query(ctx, query, topK, where, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying catalog: %w", err)
	}

	items := make([]CandidateItem, 0, len(results))
	for _, r := range results {
		it, err := itemFromMetadata(r.ID, r.Metadata)
		if err != nil {
			s.logger.Warn(ctx, "skipping unreadable catalog entry", zap.String("id", r.ID), zap.Error(err))
			continue
		}
		it.Score = r.Similarity
		items = append(items, it)
	}
	span.SetAttributes(attribute.Int("results_count", len(items)))
	return items, nil
}

func (s *Store) countCategory(category string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, c := range s.categories {
		if c == category {
			n++
		}
	}
	return n
}

func documentText(it CandidateItem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Component Type: %s. Name: %s", it.Category, it.Name)
	keys := make([]string, 0, len(it.Specs))
	for k := range it.Specs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, ". %s: %s", strings.ReplaceAll(k, "_", " "), it.Specs[k])
	}
	return b.String()
}

func itemMetadata(it CandidateItem) map[string]string {
	md := map[string]string{
		"category": it.Category,
		"name":     it.Name,
		"price":    it.Price.StringFixed(2),
		"source":   it.Source,
	}
	for k, v := range it.Specs {
		md[specPrefix+k] = v
	}
	return md
}

func itemFromMetadata(id string, md map[string]string) (CandidateItem, error) {
	price, err := decimal.NewFromString(md["price"])
	if err != nil {
		return CandidateItem{}, fmt.Errorf("invalid price %q: %w", md["price"], err)
	}
	it := CandidateItem{
		ID:       id,
		Category: md["category"],
		Name:     md["name"],
		Price:    price,
		Source:   md["source"],
	}
	for k, v := range md {
		if spec, ok := strings.CutPrefix(k, specPrefix); ok {
			if it.Specs == nil {
				it.Specs = make(map[string]string)
			}
			it.Specs[spec] = v
		}
	}
	return it, nil
}

// cloneItems copies items so cached results are never shared mutably.
func cloneItems(items []CandidateItem) []CandidateItem {
	if items == nil {
		return nil
	}
	out := make([]CandidateItem, len(items))
	for i, it := range items {
		it.Specs = maps.Clone(it.Specs)
		out[i] = it
	}
	return out
}
