package agentloop

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how output is truncated.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Display limits for tool output echoed to the session log. The transcript
// always keeps the full output.
var DisplayCharLimits = map[string]int{
	"list_paths":       4000,
	"get_file_snippet": 4000,
	"get_summary":      2000,
	"search_code":      4000,
	"ask_user":         1000,
}

// DisplayLineLimits are applied after the character limit.
var DisplayLineLimits = map[string]int{
	"list_paths":       60,
	"get_file_snippet": 40,
	"search_code":      60,
}

// DisplayModes overrides the head/tail split for tools whose output is
// read from the end.
var DisplayModes = map[string]TruncationMode{
	"ask_user": TruncateTail,
}

const defaultDisplayChars = 2000

// TruncateOutput applies character-based truncation to output.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if maxChars <= 0 || len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars
	if mode == TruncateTail {
		return fmt.Sprintf("[... %d characters omitted ...]\n", removed) + output[len(output)-maxChars:]
	}
	half := maxChars / 2
	return output[:half] +
		fmt.Sprintf("\n[... %d characters omitted ...]\n", removed) +
		output[len(output)-half:]
}

// TruncateLines applies line-based truncation using head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if maxLines <= 0 || len(lines) <= maxLines {
		return output
	}

	headCount := maxLines / 2
	tailCount := maxLines - headCount
	omitted := len(lines) - headCount - tailCount

	return strings.Join(lines[:headCount], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tailCount:], "\n")
}

// DisplayOutput shortens a tool output for the session log.
func DisplayOutput(toolName, output string) string {
	maxChars, ok := DisplayCharLimits[toolName]
	if !ok {
		maxChars = defaultDisplayChars
	}
	mode, ok := DisplayModes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	result := TruncateOutput(output, maxChars, mode)
	return TruncateLines(result, DisplayLineLimits[toolName])
}
