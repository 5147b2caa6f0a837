package workflow

import (
	"maps"
	"slices"
	"strings"

	"github.com/kalambet/dialogo/internal/catalog"
)

// FilterName is the registry name of the filter workflow.
const FilterName = "filter"

var (
	doneWords  = []string{"done", "fatto", "basta", "fine", "ok basta", "that s all"}
	resetWords = []string{"reset", "azzera", "ricomincia", "clear"}
)

// Filter accumulates filters over several messages, re-running its intent
// with the merged filter set after each one.
type Filter struct {
	intent catalog.IntentID
	keys   []string
	// foreign holds primary keywords of intents outside the filtered
	// intent's category. A message naming one of them leaves the workflow.
	foreign []string
}

// NewFilter returns a filter workflow for intent accumulating the given slot keys.
func NewFilter(intent catalog.IntentID, keys []string) *Filter {
	return &Filter{intent: intent, keys: keys}
}

// WithCatalog makes the filter step aside for messages that ask for an
// intent in another category, e.g. "show open orders" while filtering plans.
func (f *Filter) WithCatalog(cat *catalog.Catalog) *Filter {
	if cat == nil {
		return f
	}
	own, ok := cat.Lookup(f.intent)
	if !ok {
		return f
	}
	f.foreign = nil
	for _, m := range cat.Intents() {
		if m.Category != own.Category {
			f.foreign = append(f.foreign, m.Keywords.Primary...)
		}
	}
	return f
}

func (f *Filter) Name() string { return FilterName }

func (f *Filter) Start(intent catalog.IntentID, slots map[string]string, _ []Option) *Context {
	if intent != f.intent {
		return nil
	}
	return &Context{
		Name:    FilterName,
		Intent:  intent,
		Step:    1,
		Filters: f.pick(slots),
	}
}

func (f *Filter) Accepts(wc *Context, message string, slots map[string]string) bool {
	if wc == nil {
		return false
	}
	n := catalog.Normalize(message)
	if slices.Contains(doneWords, n) || slices.Contains(resetWords, n) {
		return true
	}
	if len(f.pick(slots)) == 0 {
		return false
	}
	return !slices.ContainsFunc(f.foreign, func(kw string) bool {
		return catalog.ContainsWord(n, kw)
	})
}

func (f *Filter) Advance(wc *Context, message string, slots map[string]string) Step {
	n := catalog.Normalize(message)
	if slices.Contains(doneWords, n) {
		return Step{Reply: "Filtering finished. " + describe(wc.Filters)}
	}

	next := wc.Clone()
	next.Step++
	if slices.Contains(resetWords, n) {
		next.Filters = nil
		return Step{Intent: f.intent, Slots: map[string]string{}, Next: next}
	}
	if next.Filters == nil {
		next.Filters = map[string]string{}
	}
	maps.Copy(next.Filters, f.pick(slots))
	return Step{Intent: f.intent, Slots: maps.Clone(next.Filters), Next: next}
}

func (f *Filter) pick(slots map[string]string) map[string]string {
	out := map[string]string{}
	for _, k := range f.keys {
		if v, ok := slots[k]; ok && v != "" {
			out[k] = v
		}
	}
	return out
}

func describe(filters map[string]string) string {
	if len(filters) == 0 {
		return "No filters applied."
	}
	keys := slices.Sorted(maps.Keys(filters))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+filters[k])
	}
	return "Filters: " + strings.Join(parts, ", ") + "."
}
