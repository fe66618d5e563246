package catalog

import (
	"context"
	"sort"
)

// lexicalWeight is the share of the combined score taken by term overlap.
const lexicalWeight = 0.5

// Reranked over-fetches from a vector Searcher and re-orders the candidates
// by a blend of similarity and query term overlap. Part names are dominated
// by model numbers ("4070", "7800x3d") that embeddings place close to their
// neighbours, so exact token matches break those ties.
type Reranked struct {
	next Searcher
	pool int
}

// NewReranked wraps next so each search fetches pool*topK candidates before
// trimming to topK. A pool of one or less returns next unchanged.
func NewReranked(next Searcher, pool int) Searcher {
	if pool <= 1 {
		return next
	}
	return &Reranked{next: next, pool: pool}
}

type rankedItem struct {
	item     CandidateItem
	combined float32
}

// Search implements Searcher. Returned items keep their original Score.
func (r *Reranked) Search(ctx context.Context, query string, topK int) ([]CandidateItem, error) {
	if topK <= 0 {
		return r.next.Search(ctx, query, topK)
	}
	candidates, err := r.next.Search(ctx, query, topK*r.pool)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(query)
	if len(terms) == 0 || len(candidates) <= 1 {
		return truncate(candidates, topK), nil
	}

	ranked := make([]rankedItem, len(candidates))
	for i, it := range candidates {
		overlap := termOverlap(terms, documentText(it))
		ranked[i] = rankedItem{
			item:     it,
			combined: (1-lexicalWeight)*it.Score + lexicalWeight*overlap,
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].combined > ranked[j].combined
	})

	out := make([]CandidateItem, 0, min(topK, len(ranked)))
	for _, ri := range ranked[:min(topK, len(ranked))] {
		out = append(out, ri.item)
	}
	return out, nil
}

func truncate(items []CandidateItem, n int) []CandidateItem {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// queryTerms returns the distinct informative tokens of query.
func queryTerms(query string) []string {
	seen := make(map[string]bool)
	var terms []string
	for _, tok := range tokenize(query) {
		if len(tok) < 2 || stopwords[tok] || seen[tok] {
			continue
		}
		seen[tok] = true
		terms = append(terms, tok)
	}
	return terms
}

// termOverlap is the fraction of terms present in doc, in [0, 1].
func termOverlap(terms []string, doc string) float32 {
	docTokens := make(map[string]bool)
	for _, tok := range tokenize(doc) {
		docTokens[tok] = true
	}
	matched := 0
	for _, t := range terms {
		if docTokens[t] {
			matched++
		}
	}
	return float32(matched) / float32(len(terms))
}

var stopwords = map[string]bool{
	"the": true, "an": true, "and": true, "or": true, "but": true, "in": true,
	"on": true, "at": true, "to": true, "for": true, "of": true, "with": true,
	"by": true, "from": true, "as": true, "is": true, "are": true, "be": true,
	"me": true, "my": true, "want": true, "need": true, "some": true, "any": true,
	"this": true, "that": true, "it": true, "we": true, "what": true, "which": true,
	"under": true, "around": true, "about": true, "good": true, "best": true,
}
