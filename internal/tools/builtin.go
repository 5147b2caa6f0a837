package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/kalambet/dialogo/internal/catalog"
)

// RegisterBuiltins binds the conversational intents that need no domain
// service.
func RegisterBuiltins(r *Registry, cat *catalog.Catalog) {
	r.Register("greet", ToolFunc(greet))
	r.Register("help", helpTool(cat))
	r.Register("decline_show_details", ToolFunc(declineDetails))
	r.Register("confirm_show_details", ToolFunc(confirmDetails))
	r.Register("general_question", ToolFunc(generalQuestion))
}

func greet(_ context.Context, _ Request) (Output, error) {
	return Output{FormattedResponse: "Hello! I can help with production plans, orders, materials and capacity. What do you need?"}, nil
}

func helpTool(cat *catalog.Catalog) Tool {
	return ToolFunc(func(_ context.Context, _ Request) (Output, error) {
		var b strings.Builder
		b.WriteString("Here is what I can do:\n")
		for _, c := range cat.Categories() {
			if c.ID == catalog.CategoryOther {
				continue
			}
			intents := cat.IntentsIn(c.ID)
			if len(intents) == 0 {
				continue
			}
			fmt.Fprintf(&b, "\n%s\n", c.Label)
			for _, m := range intents {
				fmt.Fprintf(&b, "- %s", m.Label)
				if len(m.Examples) > 0 {
					fmt.Fprintf(&b, " (e.g. %q)", m.Examples[0])
				}
				b.WriteByte('\n')
			}
		}
		return Output{FormattedResponse: strings.TrimRight(b.String(), "\n")}, nil
	})
}

func declineDetails(_ context.Context, _ Request) (Output, error) {
	return Output{FormattedResponse: "Okay. Let me know if you need anything else."}, nil
}

// confirmDetails renders the detail context left by the previous answer. A
// JSON array with a "choice" slot shows only the chosen element.
func confirmDetails(_ context.Context, req Request) (Output, error) {
	if len(req.DetailContext) == 0 {
		return Output{FormattedResponse: "There are no details to show right now. What would you like to know?"}, nil
	}

	var items []json.RawMessage
	if err := json.Unmarshal(req.DetailContext, &items); err == nil {
		if c := req.Slots["choice"]; c != "" {
			n, err := strconv.Atoi(c)
			if err != nil || n < 1 || n > len(items) {
				return Output{FormattedResponse: fmt.Sprintf("Please pick a number between 1 and %d.", len(items))}, nil
			}
			items = items[n-1 : n]
		}
		return Output{Fields: map[string]any{"details": items}}, nil
	}

	var details any
	if err := json.Unmarshal(req.DetailContext, &details); err != nil {
		return Output{}, fmt.Errorf("decoding detail context: %w", err)
	}
	return Output{Fields: map[string]any{"details": details}}, nil
}

func generalQuestion(_ context.Context, req Request) (Output, error) {
	return Output{Fields: map[string]any{"question": req.Message}}, nil
}
