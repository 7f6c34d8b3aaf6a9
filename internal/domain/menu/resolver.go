package menu

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// DefaultThreshold is the minimum cosine similarity for an embedding match.
// StrictThreshold is used when the caller needs tighter disambiguation, e.g.
// multi-change conversational flows where a loose match is worse than asking.
const (
	DefaultThreshold = 0.7
	StrictThreshold  = 0.8
)

// Embedder produces a semantic vector for a piece of text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// UnavailableError indicates the embedding provider failed, so similarity
// resolution could not run at all. It is distinct from an empty result:
// callers must not report "not found" when resolution was never attempted.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("similarity resolution unavailable: %v", e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Match pairs a catalog item with its similarity score. Text-tier matches
// carry a score of 1.
type Match struct {
	Item  Item
	Score float64
}

// ResolveOptions tunes a single Resolve call.
type ResolveOptions struct {
	// Threshold overrides DefaultThreshold when > 0.
	Threshold float64
}

// Resolver maps free-text queries to catalog items using a layered strategy:
// case-insensitive substring matching against item names first, embedding
// cosine similarity second. The first tier that yields results wins.
type Resolver struct {
	catalog   Repository
	embedder  Embedder
	threshold float64
}

// NewResolver creates a Resolver over the given catalog and embedding provider.
func NewResolver(catalog Repository, embedder Embedder) *Resolver {
	return &Resolver{catalog: catalog, embedder: embedder}
}

// SetDefaultThreshold overrides DefaultThreshold for calls that do not set
// ResolveOptions.Threshold. Values <= 0 keep the built-in default.
func (r *Resolver) SetDefaultThreshold(t float64) {
	r.threshold = t
}

// Resolve returns catalog matches for the query, best first. An empty slice
// with a nil error means nothing matched; an *UnavailableError means the
// embedding provider failed and the caller should retry later.
func (r *Resolver) Resolve(ctx context.Context, query string, opts ResolveOptions) ([]Match, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	items, err := r.catalog.List(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list catalog")
	}

	// Tier 1: substring match on item names, stable in catalog order.
	if matches := textMatches(query, items); len(matches) > 0 {
		return matches, nil
	}

	// Tier 2: embedding similarity above the threshold.
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = r.threshold
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, &UnavailableError{Err: err}
	}

	matches := make([]Match, 0, len(items))
	for _, item := range items {
		if len(item.Embedding) == 0 {
			continue
		}
		score := CosineSimilarity(queryVec, item.Embedding)
		if score >= threshold {
			matches = append(matches, Match{Item: item, Score: score})
		}
	}

	// Descending by score; SliceStable keeps catalog order for ties.
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})

	return matches, nil
}

// textMatches returns items whose name contains the query, case-insensitively,
// in catalog order.
func textMatches(query string, items []Item) []Match {
	q := strings.ToLower(query)
	var matches []Match
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Name), q) {
			matches = append(matches, Match{Item: item, Score: 1})
		}
	}
	return matches
}

// CosineSimilarity computes the cosine similarity of two vectors. It returns
// 0 for mismatched dimensions or zero-magnitude vectors, which keeps such
// items below any sensible threshold instead of failing the whole search.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
