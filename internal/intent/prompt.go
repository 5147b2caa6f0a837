package intent

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/engine"
)

const systemPromptTemplate = `You are the intent classifier of a production-planning assistant. Read the user's message and choose exactly one intent from the list below, or "fallback" when none fits. Your output must be ONLY a single valid JSON object, with no prose or markdown:
{"intent": "<intent id>", "slots": {"<slot>": "<value>"}, "needs_clarification": <true|false>, "confidence": <0..1>, "reasoning": "<one short sentence>"}

Rules:
- Use only the slot names listed under [Slots]; leave out slots the message does not mention.
- Set needs_clarification to true when the intent cannot be served without information the user did not give.
- Short replies such as "yes", "sì", "no" refer to the previous answer only when [Conversation] says details are available.

[Intents]
%s
[Slots]
%s`

// BuildPrompt constructs the chat messages for one classification call.
// known holds slot values already extracted deterministically from message.
func BuildPrompt(cat *catalog.Catalog, message string, hints Hints, known map[string]string) []engine.Message {
	var intents strings.Builder
	for _, m := range cat.Intents() {
		fmt.Fprintf(&intents, "- %s: %s", m.ID, m.Label)
		if len(m.RequiredSlots) > 0 {
			fmt.Fprintf(&intents, " (requires %s)", strings.Join(m.RequiredSlots, ", "))
		}
		if len(m.Examples) > 0 {
			fmt.Fprintf(&intents, " e.g. %q", m.Examples[0])
		}
		intents.WriteByte('\n')
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, systemPromptTemplate, intents.String(), strings.Join(cat.SlotKeys(), ", "))

	if hints.LastIntent != "" || hints.HasDetailContext {
		sb.WriteString("\n\n[Conversation]\n")
		if hints.LastIntent != "" {
			fmt.Fprintf(&sb, "previous intent: %s\n", hints.LastIntent)
		}
		if hints.HasDetailContext {
			sb.WriteString("details of the previous answer are available\n")
		}
	}
	if len(known) > 0 {
		sb.WriteString("\n[Detected values]\n")
		for _, k := range slices.Sorted(maps.Keys(known)) {
			fmt.Fprintf(&sb, "%s = %s\n", k, known[k])
		}
	}

	return []engine.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: message},
	}
}
