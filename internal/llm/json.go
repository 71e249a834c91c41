package llm

import "strings"

// ExtractJSONObject trims code fences and surrounding prose from a model
// reply, returning the outermost {...} span.
func ExtractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return s
	}
	return s[start : end+1]
}
