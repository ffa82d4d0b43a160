package analysis

import (
	"encoding/json"
	"regexp"
	"strings"
)

var (
	leadingFence  = regexp.MustCompile("(?i)^```(json)?\\s*")
	trailingFence = regexp.MustCompile("\\s*```$")
)

// ParseObject extracts a JSON object from a model response. It tolerates a
// surrounding code fence and, failing a direct decode, prose around the
// object by decoding the span from the first '{' to the last '}'.
func ParseObject(raw string) (map[string]any, error) {
	clean := strings.TrimSpace(raw)
	if clean == "" {
		return nil, ErrEmptyResponse
	}

	if strings.HasPrefix(clean, "```") {
		clean = leadingFence.ReplaceAllString(clean, "")
		clean = trailingFence.ReplaceAllString(clean, "")
	}

	if obj, ok := decodeObject(clean); ok {
		return obj, nil
	}

	first := strings.Index(clean, "{")
	last := strings.LastIndex(clean, "}")
	if first >= 0 && last > first {
		if obj, ok := decodeObject(clean[first : last+1]); ok {
			return obj, nil
		}
	}
	return nil, ErrNoJSONObject
}

func decodeObject(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}
