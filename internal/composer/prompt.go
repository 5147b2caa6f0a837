// Package composer builds the generation prompt that turns tool output into
// a natural-language answer.
package composer

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/engine"
	"github.com/kalambet/dialogo/internal/tools"
)

const defaultMaxContextTokens = 2000

const systemPrompt = `You are a production-planning assistant. Answer the user's message using only the tool result below. Be brief and concrete, use the user's language, and do not invent plans, orders, materials or numbers that are not in the result. If the result reports an error, explain it plainly and suggest what the user could ask instead.`

// Composer assembles synthesis prompts from tool output, keeping the injected
// data within a token budget.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for tool data.
// If maxContextTokens <= 0, the default (2000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose returns the chat messages for one synthesis call.
func (c *Composer) Compose(intent catalog.IntentMetadata, message string, out tools.Output) ([]engine.Message, error) {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	fmt.Fprintf(&sb, "\n\n[Request]\n%s", intent.Label)
	if intent.Description != "" {
		fmt.Fprintf(&sb, ": %s", intent.Description)
	}

	if out.Error != "" {
		fmt.Fprintf(&sb, "\n\n[Tool Error]\n%s", out.Error)
	}

	fields, err := c.buildFields(out.Fields)
	if err != nil {
		return nil, err
	}
	if fields != "" {
		sb.WriteString("\n\n[Tool Result]\n")
		sb.WriteString(fields)
	}

	return []engine.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: message},
	}, nil
}

// buildFields renders fields as "key: json" lines in key order, skipping
// entries that do not fit the remaining budget.
func (c *Composer) buildFields(fields map[string]any) (string, error) {
	if len(fields) == 0 {
		return "", nil
	}
	remaining := c.MaxContextTokens
	var sb strings.Builder
	var omitted []string
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		b, err := json.Marshal(fields[k])
		if err != nil {
			return "", fmt.Errorf("encoding tool field %q: %w", k, err)
		}
		entry := fmt.Sprintf("%s: %s\n", k, b)
		tokens := EstimateTokens(entry)
		if tokens > remaining {
			omitted = append(omitted, k)
			continue
		}
		sb.WriteString(entry)
		remaining -= tokens
	}
	if len(omitted) > 0 {
		fmt.Fprintf(&sb, "(omitted for length: %s)\n", strings.Join(omitted, ", "))
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
