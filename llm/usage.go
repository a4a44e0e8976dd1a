package llm

import (
	"encoding/json"
	"strconv"
)

// Usage holds token counts reported by the endpoint.
type Usage struct {
	InputTokens       int
	CachedInputTokens int
	OutputTokens      int
}

// ParseUsage reads a usage map, accepting the field aliases of the Responses
// and Chat Completions shapes. Missing fields read as zero.
func ParseUsage(raw map[string]any) Usage {
	if raw == nil {
		return Usage{}
	}
	u := Usage{
		InputTokens:  firstInt(raw, "input_tokens", "prompt_tokens"),
		OutputTokens: firstInt(raw, "output_tokens", "completion_tokens"),
	}
	for _, key := range []string{"input_token_details", "input_tokens_details", "prompt_tokens_details"} {
		if details, ok := raw[key].(map[string]any); ok {
			if n, ok := asInt(details["cached_tokens"]); ok {
				u.CachedInputTokens = n
				return u
			}
		}
	}
	u.CachedInputTokens = firstInt(raw, "cache_read_input_tokens")
	return u
}

func firstInt(m map[string]any, keys ...string) int {
	for _, k := range keys {
		if n, ok := asInt(m[k]); ok {
			return n
		}
	}
	return 0
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	}
	return 0, false
}
