package composer

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/tools"
)

// Render phrases tool output as plain text without a model. It is used when
// no generator is configured, so the answer is the tool data itself.
func Render(intent catalog.IntentMetadata, out tools.Output) string {
	label := intent.Label
	if label == "" {
		label = string(intent.ID)
	}

	var b strings.Builder
	if out.Error != "" {
		fmt.Fprintf(&b, "I couldn't complete %q: %s.", label, strings.TrimSuffix(out.Error, "."))
	}

	fields := plain(out.Fields)
	if len(fields) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(label + ":")
		for _, k := range slices.Sorted(maps.Keys(fields)) {
			writeField(&b, k, fields[k])
		}
	}

	if b.Len() == 0 {
		return label + ": done."
	}
	return b.String()
}

// plain converts typed tool fields into JSON-shaped values so that structs
// render by their json tags.
func plain(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func writeField(b *strings.Builder, key string, v any) {
	name := strings.ReplaceAll(key, "_", " ")
	switch t := v.(type) {
	case map[string]any:
		fmt.Fprintf(b, "\n%s:", name)
		for _, k := range slices.Sorted(maps.Keys(t)) {
			fmt.Fprintf(b, "\n  %s: %s", strings.ReplaceAll(k, "_", " "), inline(t[k]))
		}
	case []any:
		if len(t) == 0 {
			fmt.Fprintf(b, "\n%s: none", name)
			return
		}
		fmt.Fprintf(b, "\n%s:", name)
		for i, item := range t {
			fmt.Fprintf(b, "\n  %d. %s", i+1, inline(item))
		}
	default:
		fmt.Fprintf(b, "\n%s: %s", name, inline(v))
	}
}

// inline renders a value on one line. Objects become "key: value" pairs in
// key order.
func inline(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case map[string]any:
		parts := make([]string, 0, len(t))
		for _, k := range slices.Sorted(maps.Keys(t)) {
			parts = append(parts, strings.ReplaceAll(k, "_", " ")+": "+inline(t[k]))
		}
		return strings.Join(parts, ", ")
	case []any:
		parts := make([]string, len(t))
		for i, item := range t {
			parts[i] = inline(item)
		}
		return "[" + strings.Join(parts, "; ") + "]"
	default:
		return fmt.Sprint(t)
	}
}
