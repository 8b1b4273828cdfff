// Package similarity classifies prompt text against the stored corpus.
//
// DESIGN: the Engine embeds the query text once, delegates the k-NN scan to
// the store (pgvector's <=> operator or the in-memory brute force), and maps
// the best score to a classification by two thresholds:
//
//	s >= tau_same  -> SAME  (a stored prompt, possibly lightly edited)
//	s >= tau_fork  -> FORK  (derived from a stored prompt)
//	otherwise      -> NEW
//
// Scores follow the system-wide convention s = 1 - cosine_distance.
package similarity

import (
	"context"
	"fmt"

	"github.com/codepromptu/codepromptu/internal/config"
	"github.com/codepromptu/codepromptu/internal/embedding"
	"github.com/codepromptu/codepromptu/internal/store"
)

// Classification is the verdict for a piece of prompt text.
type Classification string

const (
	ClassSame Classification = "SAME"
	ClassFork Classification = "FORK"
	ClassNew  Classification = "NEW"
)

// DefaultLimit is the k used when a caller does not specify one.
const DefaultLimit = 10

// Result is the outcome of classifying a text against the corpus.
type Result struct {
	Classification Classification `json:"classification"`
	Score          float64        `json:"score"`
	BestMatch      *store.Prompt  `json:"best_match,omitempty"`
}

// Engine performs similarity search and classification.
type Engine struct {
	store    store.Store
	embedder *embedding.Service
	tauSame  float64
	tauFork  float64
}

// NewEngine builds an Engine with the configured thresholds.
func NewEngine(st store.Store, embedder *embedding.Service, cfg config.SimilarityConfig) *Engine {
	return &Engine{
		store:    st,
		embedder: embedder,
		tauSame:  cfg.SameThreshold,
		tauFork:  cfg.ForkThreshold,
	}
}

// FindSimilarByText embeds the text and returns the top-limit neighbors,
// ordered by descending score.
func (e *Engine) FindSimilarByText(ctx context.Context, text string, limit int) ([]store.SimilarPrompt, error) {
	if text == "" {
		return nil, fmt.Errorf("empty query text")
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	vec, err := e.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return e.store.FindSimilar(ctx, vec, limit)
}

// FindSimilarByPrompt returns the neighbors of a stored prompt, excluding
// the prompt itself.
func (e *Engine) FindSimilarByPrompt(ctx context.Context, p *store.Prompt, limit int) ([]store.SimilarPrompt, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	vec := p.Embedding
	if vec == nil {
		// The vector write may not have landed yet; embed the content inline.
		var err error
		vec, err = e.embedder.Embed(ctx, p.Content)
		if err != nil {
			return nil, fmt.Errorf("embedding prompt content: %w", err)
		}
	}

	// Over-fetch by one so the prompt's own row can be dropped.
	neighbors, err := e.store.FindSimilar(ctx, vec, limit+1)
	if err != nil {
		return nil, err
	}
	out := neighbors[:0]
	for _, n := range neighbors {
		if n.Prompt.ID == p.ID {
			continue
		}
		out = append(out, n)
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Classify embeds the text, finds its nearest stored prompt, and maps the
// score to SAME, FORK, or NEW. An empty corpus classifies as NEW with
// score 0 and no match.
func (e *Engine) Classify(ctx context.Context, text string) (*Result, error) {
	neighbors, err := e.FindSimilarByText(ctx, text, 1)
	if err != nil {
		return nil, err
	}
	if len(neighbors) == 0 {
		return &Result{Classification: ClassNew, Score: 0}, nil
	}

	best := neighbors[0]
	r := &Result{Score: best.Score, BestMatch: best.Prompt}
	switch {
	case best.Score >= e.tauSame:
		r.Classification = ClassSame
	case best.Score >= e.tauFork:
		r.Classification = ClassFork
	default:
		r.Classification = ClassNew
		// NEW keeps the nearest neighbor for context even below the fork
		// threshold; callers decide whether to surface it.
	}
	return r, nil
}
