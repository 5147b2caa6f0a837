package intent

import (
	"maps"

	"github.com/kalambet/dialogo/internal/catalog"
)

// Result is the outcome of classifying one message.
type Result struct {
	Intent             catalog.IntentID  `json:"intent"`
	Slots              map[string]string `json:"slots"`
	NeedsClarification bool              `json:"needs_clarification"`
	Confidence         float64           `json:"confidence"`
	Error              string            `json:"error,omitempty"`
	Reasoning          string            `json:"reasoning,omitempty"`
}

func (r Result) clone() Result {
	r.Slots = maps.Clone(r.Slots)
	if r.Slots == nil {
		r.Slots = map[string]string{}
	}
	return r
}

// Hints carry session context into classification.
type Hints struct {
	HasDetailContext bool
	LastIntent       catalog.IntentID
}

// Stage names the pipeline step that produced a Result.
type Stage string

const (
	StageGuard     Stage = "guard"
	StageHeuristic Stage = "heuristic"
	StageCache     Stage = "cache"
	StageLLM       Stage = "llm"
)

func fallbackResult(confidence float64, errMsg string) Result {
	return Result{
		Intent:     catalog.Fallback,
		Slots:      map[string]string{},
		Confidence: confidence,
		Error:      errMsg,
	}
}
