package fallback

import (
	"slices"

	"github.com/kalambet/dialogo/internal/catalog"
)

// Kind tags a Suggestion as pointing at an intent or at a category.
type Kind string

const (
	KindIntent   Kind = "intent"
	KindCategory Kind = "category"
)

// Phases of the recovery ladder.
const (
	PhaseKeyword  = 1
	PhaseSemantic = 2
	PhaseMenu     = 3
)

// Suggestion is one entry of a numbered recovery menu.
type Suggestion struct {
	Kind          Kind             `json:"kind"`
	IntentID      catalog.IntentID `json:"intent_id,omitempty"`
	CategoryID    string           `json:"category_id,omitempty"`
	Label         string           `json:"label"`
	RequiredSlots []string         `json:"required_slots,omitempty"`
	Score         float64          `json:"score,omitempty"`
}

// CloneSuggestions returns a deep copy of in.
func CloneSuggestions(in []Suggestion) []Suggestion {
	if in == nil {
		return nil
	}
	out := make([]Suggestion, len(in))
	for i, s := range in {
		s.RequiredSlots = slices.Clone(s.RequiredSlots)
		out[i] = s
	}
	return out
}

func intentSuggestion(m catalog.IntentMetadata, score float64) Suggestion {
	return Suggestion{
		Kind:          KindIntent,
		IntentID:      m.ID,
		CategoryID:    m.Category,
		Label:         m.Label,
		RequiredSlots: slices.Clone(m.RequiredSlots),
		Score:         score,
	}
}

func categorySuggestion(c catalog.Category) Suggestion {
	return Suggestion{
		Kind:       KindCategory,
		CategoryID: c.ID,
		Label:      c.Label,
	}
}
