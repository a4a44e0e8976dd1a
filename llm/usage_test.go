package llm

import "testing"

func TestParseUsage(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want Usage
	}{
		{"nil", nil, Usage{}},
		{
			"responses shape",
			map[string]any{
				"input_tokens":        float64(120),
				"output_tokens":       float64(30),
				"input_token_details": map[string]any{"cached_tokens": float64(100)},
			},
			Usage{InputTokens: 120, CachedInputTokens: 100, OutputTokens: 30},
		},
		{
			"chat completions shape",
			map[string]any{
				"prompt_tokens":         float64(50),
				"completion_tokens":     float64(5),
				"prompt_tokens_details": map[string]any{"cached_tokens": float64(40)},
			},
			Usage{InputTokens: 50, CachedInputTokens: 40, OutputTokens: 5},
		},
		{
			"cache read alias",
			map[string]any{"input_tokens": "7", "cache_read_input_tokens": float64(3)},
			Usage{InputTokens: 7, CachedInputTokens: 3},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseUsage(tt.raw); got != tt.want {
				t.Errorf("ParseUsage() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
