package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSONReply extracts the JSON object from a model reply and decodes it
// into v. Markdown code fences and prose around the object are ignored.
func DecodeJSONReply(reply string, v any) error {
	s := strings.TrimSpace(reply)

	// Strip markdown code fences.
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	// Extract JSON object by brace position.
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return fmt.Errorf("no JSON object in reply")
	}
	if err := json.Unmarshal([]byte(s[start:end+1]), v); err != nil {
		return fmt.Errorf("decoding reply: %w", err)
	}
	return nil
}
