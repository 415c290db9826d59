package audit

import "regexp"

// Placeholder replaces redacted parameter values in persisted entries.
const Placeholder = "***REDACTED***"

// secretKeyPattern matches parameter keys that likely carry secrets.
var secretKeyPattern = regexp.MustCompile(`(?i)(key|token|secret|password|credential|auth|bearer)`)

// RedactParams returns a deep copy of params with every value whose key
// matches the secret pattern replaced by Placeholder, recursively through
// nested maps and slices. The input is never mutated.
func RedactParams(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if secretKeyPattern.MatchString(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return RedactParams(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}
