package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON decodes the first JSON object found in content. Models that
// ignore the response format often wrap the object in prose or code fences.
func ExtractJSON(content string) (map[string]any, error) {
	start := strings.Index(content, "{")
	if start < 0 {
		return nil, fmt.Errorf("no JSON object in model response")
	}

	dec := json.NewDecoder(strings.NewReader(content[start:]))
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode model response: %w", err)
	}
	return payload, nil
}
