// Package search ranks knowledge entries by blending normalized
// lexical and semantic scores over a filtered candidate set.
package search

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/junyiz/lawkb/category"
	"github.com/junyiz/lawkb/index"
	"github.com/junyiz/lawkb/llm"
	"github.com/junyiz/lawkb/store"
	"github.com/junyiz/lawkb/tokenize"
)

// Query bounds and ranking defaults.
const (
	MaxQueryLen  = 1024
	DefaultLimit = 20
	MaxLimit     = 100
)

// Config sets the blend weights. Weights must be non-negative and are
// normalized so they sum to one.
type Config struct {
	WeightLexical  float64
	WeightSemantic float64
}

// DefaultConfig returns an even lexical/semantic blend.
func DefaultConfig() Config {
	return Config{WeightLexical: 0.5, WeightSemantic: 0.5}
}

// Options refine one search call.
type Options struct {
	Limit    int
	Category category.Category // hard filter
	Tags     []string          // hard filter, all must match

	// BoostCategory softly promotes one category instead of filtering:
	// matching candidates get BoostWeight added after blending. The
	// consultation pipeline uses this with the classified category.
	BoostCategory category.Category
	BoostWeight   float64
}

// Result is one ranked hit.
type Result struct {
	EntryID  int64             `json:"entry_id"`
	Score    float64           `json:"score"`
	Lexical  float64           `json:"lexical_score"`
	Semantic float64           `json:"semantic_score"`
	Category category.Category `json:"category"`
}

// Engine executes blended searches against the index.
type Engine struct {
	index    *index.Indexer
	embedder llm.Embedder
	cfg      Config
}

// New creates a search engine. Zero weights fall back to the default blend.
func New(ix *index.Indexer, embedder llm.Embedder, cfg Config) *Engine {
	if cfg.WeightLexical <= 0 && cfg.WeightSemantic <= 0 {
		cfg = DefaultConfig()
	}
	total := cfg.WeightLexical + cfg.WeightSemantic
	cfg.WeightLexical /= total
	cfg.WeightSemantic /= total
	return &Engine{index: ix, embedder: embedder, cfg: cfg}
}

// Search ranks entries for the query. Results are ordered by blended
// score descending, ties broken by most recent update then smallest id,
// so identical corpus states always rank identically.
func (e *Engine) Search(ctx context.Context, query string, opts Options) ([]Result, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: query is required", store.ErrValidation)
	}
	if utf8.RuneCountInString(query) > MaxQueryLen {
		return nil, fmt.Errorf("%w: query exceeds %d characters", store.ErrValidation, MaxQueryLen)
	}
	if opts.Category != "" && !category.Valid(opts.Category) {
		return nil, fmt.Errorf("%w: unknown category %q", store.ErrValidation, opts.Category)
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	qvecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	raw := e.index.Score(tokenize.Tokenize(query), qvecs[0], index.Filter{
		Category: opts.Category,
		Tags:     opts.Tags,
	})
	if len(raw) == 0 {
		return []Result{}, nil
	}

	results := blend(raw, e.cfg, opts)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

type scored struct {
	Result
	updatedAt time.Time
}

// blend min-max normalizes each component over the candidate set, mixes
// them by weight and applies the optional category boost.
func blend(raw []index.RawScore, cfg Config, opts Options) []Result {
	minLex, maxLex := minMax(raw, func(r index.RawScore) float64 { return r.Lexical })
	minSem, maxSem := minMax(raw, func(r index.RawScore) float64 { return r.Semantic })

	out := make([]scored, 0, len(raw))
	for _, r := range raw {
		score := cfg.WeightLexical*normalize(r.Lexical, minLex, maxLex) +
			cfg.WeightSemantic*normalize(r.Semantic, minSem, maxSem)
		if opts.BoostCategory != "" && r.Category == opts.BoostCategory {
			score += opts.BoostWeight
		}
		out = append(out, scored{
			Result: Result{
				EntryID:  r.EntryID,
				Score:    score,
				Lexical:  r.Lexical,
				Semantic: r.Semantic,
				Category: r.Category,
			},
			updatedAt: r.UpdatedAt,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		if !out[i].updatedAt.Equal(out[j].updatedAt) {
			return out[i].updatedAt.After(out[j].updatedAt)
		}
		return out[i].EntryID < out[j].EntryID
	})

	results := make([]Result, len(out))
	for i, s := range out {
		results[i] = s.Result
	}
	return results
}

func minMax(raw []index.RawScore, get func(index.RawScore) float64) (lo, hi float64) {
	lo, hi = get(raw[0]), get(raw[0])
	for _, r := range raw[1:] {
		v := get(r)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// normalize maps v into [0, 1] over the observed range. A degenerate
// range maps positive scores to 1 so a single candidate is not zeroed.
func normalize(v, lo, hi float64) float64 {
	if hi == lo {
		if v > 0 {
			return 1
		}
		return 0
	}
	return (v - lo) / (hi - lo)
}
