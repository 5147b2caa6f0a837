package fallback

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/engine"
)

const semanticInstruction = `You map a user's message to the closest actions of a production-planning assistant.
Rate how well each action fits the message with a score from 0 to 1.
Return only relevant actions as a JSON object:
{"matches": [{"intent": "<action id>", "score": <0..1>}]}

Actions:
%s`

type semanticReply struct {
	Matches []struct {
		Intent string   `json:"intent"`
		Score  *float64 `json:"score"`
	} `json:"matches"`
}

// semanticSuggestions asks the model to score catalog intents. Any failure,
// including the timeout, yields no suggestions.
func (e *Engine) semanticSuggestions(ctx context.Context, message string) []Suggestion {
	if e.scorer == nil || strings.TrimSpace(message) == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.SemanticTimeout)
	defer cancel()

	msgs := []engine.Message{
		{Role: "system", Content: fmt.Sprintf(semanticInstruction, e.describeIntents())},
		{Role: "user", Content: message},
	}
	reply, err := e.scorer.Query(ctx, msgs, engine.ChatOptions{Temperature: 0, JSON: true})
	if err != nil {
		slog.Warn("semantic fallback scoring failed", "error", err)
		return nil
	}

	var parsed semanticReply
	if err := engine.DecodeJSONReply(reply, &parsed); err != nil {
		slog.Warn("semantic fallback reply malformed", "error", err)
		return nil
	}

	order := make(map[catalog.IntentID]int)
	for i, m := range e.catalog.Intents() {
		order[m.ID] = i
	}
	seen := map[catalog.IntentID]bool{}
	var hits []scored
	for _, m := range parsed.Matches {
		id := catalog.IntentID(m.Intent)
		meta, ok := e.catalog.Lookup(id)
		if !ok || seen[id] || m.Score == nil {
			continue
		}
		score := min(max(*m.Score, 0), 1)
		if score < e.opts.SemanticMinScore {
			continue
		}
		seen[id] = true
		hits = append(hits, scored{meta: meta, score: score, order: order[id]})
	}
	return e.rank(hits)
}

func (e *Engine) describeIntents() string {
	var b strings.Builder
	for _, m := range e.catalog.Intents() {
		fmt.Fprintf(&b, "- %s: %s", m.ID, m.Label)
		if m.Description != "" {
			fmt.Fprintf(&b, " (%s)", m.Description)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
