// Package fallback recovers from unresolved classifications by offering a
// ranked, numbered menu and parsing the user's pick from it.
package fallback

import (
	"cmp"
	"context"
	"log/slog"
	"math"
	"slices"
	"time"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/engine"
)

// Options tunes suggestion ranking.
type Options struct {
	// Threshold is the minimum keyword score an intent needs in phase 1.
	Threshold     float64
	PrimaryWeight float64
	ContextWeight float64
	// MaxIntents caps the intent entries of a phase 1 or 2 menu.
	MaxIntents int
	// SemanticTimeout bounds the phase 2 model call.
	SemanticTimeout time.Duration
	// SemanticMinScore is the minimum model score kept in phase 2.
	SemanticMinScore float64
}

// DefaultOptions returns the standard ranking options.
func DefaultOptions() Options {
	return Options{
		Threshold:        0.8,
		PrimaryWeight:    1.0,
		ContextWeight:    0.4,
		MaxIntents:       3,
		SemanticTimeout:  3 * time.Second,
		SemanticMinScore: 0.3,
	}
}

// Engine produces recovery suggestions from the intent catalog.
type Engine struct {
	catalog *catalog.Catalog
	scorer  engine.Querier
	opts    Options
}

// New creates an Engine. scorer may be nil, in which case phase 2 always
// yields no suggestions.
func New(cat *catalog.Catalog, scorer engine.Querier, opts Options) *Engine {
	d := DefaultOptions()
	if opts.Threshold <= 0 {
		opts.Threshold = d.Threshold
	}
	if opts.PrimaryWeight <= 0 {
		opts.PrimaryWeight = d.PrimaryWeight
	}
	if opts.ContextWeight <= 0 {
		opts.ContextWeight = d.ContextWeight
	}
	if opts.MaxIntents <= 0 {
		opts.MaxIntents = d.MaxIntents
	}
	if opts.SemanticTimeout <= 0 {
		opts.SemanticTimeout = d.SemanticTimeout
	}
	if opts.SemanticMinScore <= 0 {
		opts.SemanticMinScore = d.SemanticMinScore
	}
	return &Engine{catalog: cat, scorer: scorer, opts: opts}
}

// Suggest returns the suggestions for one phase. It never fails: a phase
// with nothing to offer returns an empty list.
func (e *Engine) Suggest(ctx context.Context, message string, phase int, selectedCategory string) []Suggestion {
	switch {
	case phase <= PhaseKeyword:
		return e.keywordSuggestions(message)
	case phase == PhaseSemantic:
		return e.semanticSuggestions(ctx, message)
	default:
		return e.menuSuggestions(selectedCategory)
	}
}

// Recover walks the phase ladder starting at from and returns the first
// non-empty phase. forceMenu jumps straight to the category menu.
func (e *Engine) Recover(ctx context.Context, message string, from int, forceMenu bool, selectedCategory string) ([]Suggestion, int) {
	if forceMenu {
		from = PhaseMenu
	}
	phase := max(from, PhaseKeyword)
	for ; phase < PhaseMenu; phase++ {
		if s := e.Suggest(ctx, message, phase, ""); len(s) > 0 {
			return s, phase
		}
	}
	return e.Suggest(ctx, message, PhaseMenu, selectedCategory), PhaseMenu
}

type scored struct {
	meta  catalog.IntentMetadata
	score float64
	order int
}

// keywordSuggestions scores intents by keyword presence: primary and context
// hits add their weights, each negative hit halves the total.
func (e *Engine) keywordSuggestions(message string) []Suggestion {
	norm := catalog.Normalize(message)
	if norm == "" {
		return nil
	}

	var hits []scored
	for i, m := range e.catalog.Intents() {
		score := 0.0
		for _, kw := range m.Keywords.Primary {
			if catalog.ContainsWord(norm, kw) {
				score += e.opts.PrimaryWeight
			}
		}
		for _, kw := range m.Keywords.Context {
			if catalog.ContainsWord(norm, kw) {
				score += e.opts.ContextWeight
			}
		}
		if score == 0 {
			continue
		}
		neg := 0
		for _, kw := range m.Keywords.Negative {
			if catalog.ContainsWord(norm, kw) {
				neg++
			}
		}
		score *= math.Pow(0.5, float64(neg))
		if score >= e.opts.Threshold {
			hits = append(hits, scored{meta: m, score: score, order: i})
		}
	}
	return e.rank(hits)
}

// rank sorts by score (ties keep catalog order), caps the intents and
// appends their categories as escape hatches.
func (e *Engine) rank(hits []scored) []Suggestion {
	if len(hits) == 0 {
		return nil
	}
	slices.SortStableFunc(hits, func(a, b scored) int {
		if c := cmp.Compare(b.score, a.score); c != 0 {
			return c
		}
		return cmp.Compare(a.order, b.order)
	})
	if len(hits) > e.opts.MaxIntents {
		hits = hits[:e.opts.MaxIntents]
	}

	out := make([]Suggestion, 0, len(hits)+2)
	for _, h := range hits {
		out = append(out, intentSuggestion(h.meta, h.score))
	}
	seen := map[string]bool{}
	for _, h := range hits {
		id := h.meta.Category
		if seen[id] || id == catalog.CategoryOther {
			continue
		}
		seen[id] = true
		if c, ok := e.catalog.Category(id); ok {
			out = append(out, categorySuggestion(c))
		}
	}
	return out
}

// menuSuggestions lists top-level categories, or the intents of the selected one.
func (e *Engine) menuSuggestions(selectedCategory string) []Suggestion {
	if selectedCategory != "" {
		if _, ok := e.catalog.Category(selectedCategory); ok {
			var out []Suggestion
			for _, m := range e.catalog.IntentsIn(selectedCategory) {
				out = append(out, intentSuggestion(m, 0))
			}
			if len(out) > 0 {
				return out
			}
		} else {
			slog.Debug("fallback: unknown selected category", "category", selectedCategory)
		}
	}

	var out []Suggestion
	for _, c := range e.catalog.Categories() {
		if c.ID == catalog.CategoryOther {
			continue
		}
		out = append(out, categorySuggestion(c))
	}
	return out
}
