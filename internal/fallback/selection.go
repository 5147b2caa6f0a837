package fallback

import (
	"fmt"
	"strings"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/ordinal"
)

// minReverseMatch is the shortest message that may match as a fragment of a label.
const minReverseMatch = 3

// ParseSelection resolves the user's reply against the displayed menu. It
// accepts a position ("2", "the second one"), an exact label or id, a label
// contained in the message, or a message contained in a label. It returns nil
// when nothing matches, meaning the message should be classified afresh.
func ParseSelection(message string, suggestions []Suggestion) *Suggestion {
	if len(suggestions) == 0 {
		return nil
	}
	if n, ok := ordinal.Parse(message, len(suggestions)); ok {
		return pick(suggestions, n-1)
	}
	// A bare number that is out of range never falls through to text matching.
	if _, ok := ordinal.Bare(message); ok {
		return nil
	}

	norm := catalog.Normalize(message)
	if norm == "" {
		return nil
	}

	for i, s := range suggestions {
		for _, name := range names(s) {
			if norm == name {
				return pick(suggestions, i)
			}
		}
	}
	for i, s := range suggestions {
		if catalog.ContainsWord(norm, catalog.Normalize(s.Label)) {
			return pick(suggestions, i)
		}
	}
	if len([]rune(norm)) >= minReverseMatch {
		for i, s := range suggestions {
			if strings.Contains(catalog.Normalize(s.Label), norm) {
				return pick(suggestions, i)
			}
		}
	}
	return nil
}

func names(s Suggestion) []string {
	out := []string{catalog.Normalize(s.Label)}
	switch s.Kind {
	case KindIntent:
		out = append(out, catalog.Normalize(string(s.IntentID)))
	case KindCategory:
		out = append(out, catalog.Normalize(s.CategoryID))
	}
	return out
}

func pick(suggestions []Suggestion, i int) *Suggestion {
	s := CloneSuggestions(suggestions[i : i+1])[0]
	return &s
}

// FormatMenu renders suggestions as a numbered list.
func FormatMenu(suggestions []Suggestion, phase int, categoryLabel string) string {
	var b strings.Builder
	switch {
	case phase >= PhaseMenu && categoryLabel != "":
		fmt.Fprintf(&b, "Here is what I can do in %s:\n", categoryLabel)
	case phase >= PhaseMenu:
		b.WriteString("Let's narrow it down. Which area is your question about?\n")
	default:
		b.WriteString("I'm not sure I understood. Did you mean:\n")
	}
	for i, s := range suggestions {
		label := s.Label
		if s.Kind == KindCategory && phase < PhaseMenu {
			label = "Something else in " + s.Label
		}
		fmt.Fprintf(&b, "%d. %s\n", i+1, label)
	}
	b.WriteString("Reply with a number or the name of an option.")
	return b.String()
}
