package llm

import (
	"encoding/json"
	"strings"
)

// CallClass distinguishes request kinds. It selects the timeout and the
// reasoning effort of a call.
type CallClass string

const (
	CallConversation CallClass = "conversation"
	CallApply        CallClass = "apply"
	CallSummary      CallClass = "summary"
)

// Reasoning effort levels.
const (
	EffortMinimal = "minimal"
	EffortMedium  = "medium"
)

// Effort returns the reasoning effort for the class. Summary classes run
// with minimal effort and without web search.
func (c CallClass) Effort() string {
	if c == CallSummary || strings.HasSuffix(string(c), "_summary") {
		return EffortMinimal
	}
	return EffortMedium
}

// ToolDefinition describes a callable tool as advertised to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// TurnRequest is one request to the Responses endpoint.
type TurnRequest struct {
	Input           []Item
	Tools           []ToolDefinition
	Schema          map[string]any
	SchemaName      string
	Class           CallClass
	Model           string // overrides the driver model when set
	MaxOutputTokens int    // overrides the driver limit when set
}

// ToolCall is a function call requested by the model.
type ToolCall struct {
	CallID    string
	Name      string
	Arguments string
}

// Item returns the transcript record for the call.
func (tc ToolCall) Item() Item {
	return FunctionCallItem(tc.CallID, tc.Name, tc.Arguments)
}

// TurnResult is the normalized result of one round trip. Content is nil when
// the response carried no message text.
type TurnResult struct {
	Content   *string
	ToolCalls []ToolCall
	Usage     Usage
}

// Text returns Content or "" when absent.
func (r *TurnResult) Text() string {
	if r == nil || r.Content == nil {
		return ""
	}
	return *r.Content
}

// DecodeObject parses a final answer into T. Anything that is not a JSON
// object matching T is a SchemaViolationError.
func DecodeObject[T any](raw string) (T, error) {
	var out T
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "{") {
		return out, NewSchemaViolation(raw, errNotObject)
	}
	if err := json.Unmarshal([]byte(trimmed), &out); err != nil {
		return out, NewSchemaViolation(raw, err)
	}
	return out, nil
}

var errNotObject = &SDKError{Message: "output is not a JSON object"}
