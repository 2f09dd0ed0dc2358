package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var thinkTagRegex = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinkTags removes DeepSeek R1 reasoning tags from the response.
func StripThinkTags(text string) string {
	return strings.TrimSpace(thinkTagRegex.ReplaceAllString(text, ""))
}

// ParseDecisions parses a model response into decisions.
// Handles: JSON array, single object, a {"trade_decisions": [...]} wrapper,
// markdown code fences, and JSON embedded in surrounding prose.
func ParseDecisions(text string) ([]Decision, error) {
	cleaned := StripThinkTags(text)

	// Remove markdown code fences
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	if cleaned == "" || cleaned == "[]" {
		return nil, nil
	}

	if decisions, ok := tryParse(cleaned); ok {
		return decisions, nil
	}

	// Extract an array from surrounding text
	if start, end := strings.Index(cleaned, "["), strings.LastIndex(cleaned, "]"); start >= 0 && end > start {
		if decisions, ok := tryParse(cleaned[start : end+1]); ok {
			return decisions, nil
		}
	}

	// Extract an object from surrounding text
	if start, end := strings.Index(cleaned, "{"), strings.LastIndex(cleaned, "}"); start >= 0 && end > start {
		if decisions, ok := tryParse(cleaned[start : end+1]); ok {
			return decisions, nil
		}
	}

	return nil, fmt.Errorf("failed to parse AI response as JSON: %.200s", cleaned)
}

func tryParse(text string) ([]Decision, bool) {
	var decisions []Decision
	if err := json.Unmarshal([]byte(text), &decisions); err == nil {
		normalize(decisions)
		return decisions, true
	}

	// Some providers wrap the array in a single-key object,
	// e.g. {"trade_decisions": [...]}.
	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal([]byte(text), &wrapper); err == nil && len(wrapper) == 1 {
		for _, raw := range wrapper {
			if err := json.Unmarshal(raw, &decisions); err == nil {
				normalize(decisions)
				return decisions, true
			}
		}
	}

	var single Decision
	if err := json.Unmarshal([]byte(text), &single); err == nil && single.Asset != "" {
		single.Normalize()
		return []Decision{single}, true
	}

	return nil, false
}

func normalize(decisions []Decision) {
	for i := range decisions {
		decisions[i].Normalize()
	}
}
