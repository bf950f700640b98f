package modelgw

import (
	"encoding/json"
	"fmt"
	"strings"
)

// stripFences removes a surrounding markdown code fence from model output.
// Language models wrap JSON in ```json fences often enough that the
// gateway always tolerates it.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		// Drop the language tag line ("json", "JSON", or empty).
		s = s[idx+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// decodeStructured parses model text output as JSON after fence
// stripping, verifies the required top-level keys are present, and
// decodes into dest.
func decodeStructured(raw string, requiredKeys []string, dest any) error {
	cleaned := stripFences(raw)

	var shape map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &shape); err != nil {
		return fmt.Errorf("model output is not valid JSON: %w", err)
	}
	for _, key := range requiredKeys {
		if _, ok := shape[key]; !ok {
			return fmt.Errorf("model output missing required key %q", key)
		}
	}
	if err := json.Unmarshal([]byte(cleaned), dest); err != nil {
		return fmt.Errorf("model output shape mismatch: %w", err)
	}
	return nil
}
