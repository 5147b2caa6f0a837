// Package intent classifies user messages into catalog intents with a
// short-circuit pipeline: guard, heuristics, cache, then the model.
package intent

import (
	"context"
	"log/slog"
	"time"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/engine"
)

// Options tunes the router. Zero values select the defaults.
type Options struct {
	// Timeout bounds one classifier call.
	Timeout time.Duration
	// CacheSize is the number of classifier results kept.
	CacheSize int
	// HeuristicConfidence is reported for deterministic matches.
	HeuristicConfidence float64
	// DefaultConfidence replaces a missing or non-numeric classifier confidence.
	DefaultConfidence float64
}

// DefaultOptions returns the standard router options.
func DefaultOptions() Options {
	return Options{
		Timeout:             5 * time.Second,
		CacheSize:           512,
		HeuristicConfidence: 0.99,
		DefaultConfidence:   0.70,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	if o.CacheSize <= 0 {
		o.CacheSize = d.CacheSize
	}
	if o.HeuristicConfidence <= 0 {
		o.HeuristicConfidence = d.HeuristicConfidence
	}
	if o.DefaultConfidence <= 0 {
		o.DefaultConfidence = d.DefaultConfidence
	}
	return o
}

// Strategy is one stage of the classification pipeline. It returns false
// when it has no opinion and the next stage should run.
type Strategy interface {
	Stage() Stage
	TryClassify(ctx context.Context, message string, hints Hints) (Result, bool)
}

// Router runs the classification strategies in order.
type Router struct {
	catalog    *catalog.Catalog
	slots      *SlotExtractor
	cache      *resultCache
	strategies []Strategy
}

// New builds a Router over cat that falls back to classifier for messages
// the deterministic stages cannot resolve.
func New(cat *catalog.Catalog, classifier engine.Querier, opts Options) (*Router, error) {
	opts = opts.withDefaults()
	cache, err := newResultCache(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	slots := NewSlotExtractor(cat)
	r := &Router{catalog: cat, slots: slots, cache: cache}
	r.strategies = []Strategy{
		guardStrategy{confidence: opts.HeuristicConfidence},
		heuristicStrategy{catalog: cat, confidence: opts.HeuristicConfidence},
		cacheStrategy{cache: cache},
		&llmStrategy{
			catalog:    cat,
			classifier: classifier,
			slots:      slots,
			cache:      cache,
			timeout:    opts.Timeout,
			defConf:    opts.DefaultConfidence,
		},
	}
	return r, nil
}

// Classify returns the intent and slots for message. It never fails: every
// problem degrades to the fallback intent with a diagnostic Error.
func (r *Router) Classify(ctx context.Context, message string, hints Hints) Result {
	res, _ := r.ClassifyStage(ctx, message, hints)
	return res
}

// ClassifyStage is Classify that also reports which stage answered.
func (r *Router) ClassifyStage(ctx context.Context, message string, hints Hints) (Result, Stage) {
	for _, s := range r.strategies {
		if res, ok := s.TryClassify(ctx, message, hints); ok {
			slog.Debug("intent classified", "stage", s.Stage(), "intent", res.Intent, "confidence", res.Confidence)
			return res.clone(), s.Stage()
		}
	}
	return fallbackResult(0, "no classification stage answered"), StageLLM
}

// ExtractSlots runs only the deterministic slot extractor.
func (r *Router) ExtractSlots(message string) map[string]string {
	return r.slots.Extract(message)
}

// CacheLen returns the number of cached classifier results.
func (r *Router) CacheLen() int {
	return r.cache.Len()
}

// validate applies the catalog's structural rules over the classifier's
// clarification judgment.
func validate(cat *catalog.Catalog, res Result) Result {
	meta, ok := cat.Lookup(res.Intent)
	if !ok {
		return res
	}
	if meta.SelfSufficient {
		res.NeedsClarification = false
		return res
	}
	if len(meta.RequiredSlots) > 0 && !anyPresent(res.Slots, meta.RequiredSlots) {
		res.NeedsClarification = true
	}
	return res
}

func anyPresent(slots map[string]string, keys []string) bool {
	for _, k := range keys {
		if slots[k] != "" {
			return true
		}
	}
	return false
}
