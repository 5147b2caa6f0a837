package intent

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kalambet/dialogo/internal/catalog"
)

type slotPattern struct {
	key string
	re  *regexp.Regexp
	// value builds the slot value from the submatches.
	value func(m []string) string
}

func prefixed(prefix string) func([]string) string {
	return func(m []string) string { return prefix + m[1] }
}

func mapped(table map[string]string) func([]string) string {
	return func(m []string) string {
		for _, g := range m[1:] {
			if v, ok := table[strings.ToLower(g)]; ok {
				return v
			}
		}
		return ""
	}
}

var priorities = map[string]string{
	"alta": "high", "high": "high", "urgente": "high", "urgent": "high",
	"media": "medium", "medium": "medium", "normale": "medium", "normal": "medium",
	"bassa": "low", "low": "low",
}

var statuses = map[string]string{
	"aperto": "open", "aperti": "open", "open": "open",
	"chiuso": "closed", "chiusi": "closed", "closed": "closed",
	"in ritardo": "delayed", "delayed": "delayed", "late": "delayed",
	"rilasciato": "released", "rilasciati": "released", "released": "released",
	"completato": "completed", "completati": "completed", "completed": "completed",
}

var dateRanges = map[string]string{
	"oggi": "today", "today": "today",
	"domani": "tomorrow", "tomorrow": "tomorrow",
	"questa settimana": "this_week", "this week": "this_week",
	"settimana prossima": "next_week", "prossima settimana": "next_week", "next week": "next_week",
	"questo mese": "this_month", "this month": "this_month",
	"mese prossimo": "next_month", "prossimo mese": "next_month", "next month": "next_month",
}

var defaultPatterns = []slotPattern{
	{"plan_code", regexp.MustCompile(`(?i)\bPL[-_ ]?(\d{3,6})\b`), prefixed("PL-")},
	{"order_code", regexp.MustCompile(`(?i)\bOR[-_]?(\d{3,8})\b`), prefixed("OR-")},
	{"material_code", regexp.MustCompile(`(?i)\bMAT[-_]?(\d{3,8})\b`), prefixed("MAT-")},
	{"customer_code", regexp.MustCompile(`(?i)\bC[-_](\d{3,6})\b`), prefixed("C-")},
	{"work_center", regexp.MustCompile(`(?i)\bWC[-_ ]?(\d{1,4})\b`), prefixed("WC-")},
	{"org_unit", regexp.MustCompile(`(?i)\b(?:plant|stabilimento|reparto|unit|unità)\s+([a-z]{2}\d{2})\b`), func(m []string) string {
		return strings.ToUpper(m[1])
	}},
	{"priority", regexp.MustCompile(`(?i)\b(?:priorit[aà]|priority)\s+(alta|high|urgente|urgent|media|medium|normale|normal|bassa|low)\b|\b(alta|high|urgent|media|medium|normal|bassa|low)\s+(?:priorit[aà]|priority)\b`), mapped(priorities)},
	{"status", regexp.MustCompile(`(?i)\b(aperti|aperto|open|chiusi|chiuso|closed|in ritardo|delayed|late|rilasciati|rilasciato|released|completati|completato|completed)\b`), mapped(statuses)},
	{"date_range", regexp.MustCompile(`(?i)\b(oggi|today|domani|tomorrow|questa settimana|this week|settimana prossima|prossima settimana|next week|questo mese|this month|mese prossimo|prossimo mese|next month)\b`), mapped(dateRanges)},
}

// SlotExtractor pulls well-known identifiers and filter values out of free text.
type SlotExtractor struct {
	catalog  *catalog.Catalog
	patterns []slotPattern
}

// NewSlotExtractor returns an extractor limited to the slot keys declared in cat.
func NewSlotExtractor(cat *catalog.Catalog) *SlotExtractor {
	var ps []slotPattern
	for _, p := range defaultPatterns {
		if cat.ValidSlot(p.key) {
			ps = append(ps, p)
		}
	}
	return &SlotExtractor{catalog: cat, patterns: ps}
}

// Extract returns the slot values found in message. The first match of
// each pattern wins.
func (x *SlotExtractor) Extract(message string) map[string]string {
	out := map[string]string{}
	for _, p := range x.patterns {
		m := p.re.FindStringSubmatch(message)
		if m == nil {
			continue
		}
		if v := p.value(m); v != "" {
			out[p.key] = v
		}
	}
	return out
}

// Merge combines classifier-proposed slots with deterministic ones. Keys
// outside the declared set are dropped, values are stringified, codes are
// upper-cased, and deterministic values override proposed ones.
func (x *SlotExtractor) Merge(proposed map[string]any, extracted map[string]string) map[string]string {
	out := map[string]string{}
	for k, raw := range proposed {
		if !x.catalog.ValidSlot(k) || raw == nil {
			continue
		}
		v := strings.TrimSpace(stringify(raw))
		if v == "" {
			continue
		}
		if strings.HasSuffix(k, "_code") || k == "work_center" || k == "org_unit" {
			v = strings.ToUpper(v)
		}
		out[k] = v
	}
	for k, v := range extracted {
		if x.catalog.ValidSlot(k) {
			out[k] = v
		}
	}
	return out
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		return fmt.Sprintf("%t", t)
	default:
		return ""
	}
}
