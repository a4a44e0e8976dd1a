package agentloop

import (
	"crypto/sha256"
	"fmt"

	"github.com/martinemde/orion/llm"
)

// DefaultLoopWindow is the number of recent tool calls checked for a
// repeating pattern.
const DefaultLoopWindow = 10

// toolCallSignature is the tool name plus a short hash of its arguments.
func toolCallSignature(name, arguments string) string {
	h := sha256.Sum256([]byte(arguments))
	return fmt.Sprintf("%s:%x", name, h[:8])
}

// recentSignatures returns the signatures of the last count function calls
// in items, oldest first.
func recentSignatures(items []llm.Item, count int) []string {
	var sigs []string
	for i := len(items) - 1; i >= 0 && len(sigs) < count; i-- {
		if items[i].Kind == llm.KindFunctionCall {
			sigs = append(sigs, toolCallSignature(items[i].Name, items[i].Arguments))
		}
	}
	for i, j := 0, len(sigs)-1; i < j; i, j = i+1, j-1 {
		sigs[i], sigs[j] = sigs[j], sigs[i]
	}
	return sigs
}

// DetectLoop checks if the last windowSize tool calls follow a repeating
// pattern of length 1, 2, or 3.
func DetectLoop(items []llm.Item, windowSize int) bool {
	if windowSize <= 0 {
		return false
	}
	sigs := recentSignatures(items, windowSize)
	if len(sigs) < windowSize {
		return false
	}

	for patternLen := 1; patternLen <= 3 && patternLen < windowSize; patternLen++ {
		if windowSize%patternLen != 0 {
			continue
		}
		allMatch := true
		for i := patternLen; i < windowSize && allMatch; i++ {
			if sigs[i] != sigs[i%patternLen] {
				allMatch = false
			}
		}
		if allMatch {
			return true
		}
	}
	return false
}
