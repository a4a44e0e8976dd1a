package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ItemKind is the discriminator tag for Item.
type ItemKind string

const (
	KindUserMessage        ItemKind = "user_message"
	KindAssistantMessage   ItemKind = "assistant_message"
	KindSystemMessage      ItemKind = "system_message"
	KindSystemState        ItemKind = "system_state"
	KindFunctionCall       ItemKind = "function_call"
	KindFunctionCallOutput ItemKind = "function_call_output"
	KindApply              ItemKind = "apply"
)

// StateDocumentType is the "type" tag carried inside the content of a system
// message that holds a system state snapshot.
const StateDocumentType = "system_state"

// Wire type tags used by the Responses endpoint and the transcript file.
const (
	wireMessage            = "message"
	wireFunctionCall       = "function_call"
	wireFunctionCallOutput = "function_call_output"
	wireApply              = "apply"
)

// Item is one entry of the transcript. It is a closed tagged union; Kind
// decides which of the remaining fields are meaningful.
//
//   - messages and snapshots: Content
//   - function calls: CallID, Name, Arguments
//   - function call outputs: CallID, Output
//   - apply markers: Paths
//
// Timestamp is only written to the transcript file and is never sent.
type Item struct {
	Kind      ItemKind
	Content   string
	CallID    string
	Name      string
	Arguments string
	Output    string
	Paths     []string
	Timestamp float64
}

// UserMessage creates a user message item.
func UserMessage(text string) Item {
	return Item{Kind: KindUserMessage, Content: text}
}

// AssistantMessage creates an assistant message item.
func AssistantMessage(text string) Item {
	return Item{Kind: KindAssistantMessage, Content: text}
}

// SystemMessage creates a plain system prompt item.
func SystemMessage(text string) Item {
	return Item{Kind: KindSystemMessage, Content: text}
}

// SystemStateMessage wraps an encoded state document. The document must carry
// "type":"system_state" so it can be recognized again after a round trip.
func SystemStateMessage(document []byte) Item {
	return Item{Kind: KindSystemState, Content: string(document)}
}

// FunctionCallItem records a model-initiated tool invocation.
func FunctionCallItem(callID, name, arguments string) Item {
	return Item{Kind: KindFunctionCall, CallID: callID, Name: name, Arguments: arguments}
}

// FunctionCallOutputItem records the result paired with a function call.
func FunctionCallOutputItem(callID, output string) Item {
	return Item{Kind: KindFunctionCallOutput, CallID: callID, Output: output}
}

// ApplyMarker records that pending changes were written to the given paths.
func ApplyMarker(paths []string) Item {
	p := make([]string, len(paths))
	copy(p, paths)
	return Item{Kind: KindApply, Paths: p}
}

// Role returns the message role for message-like kinds and "" otherwise.
func (it Item) Role() Role {
	switch it.Kind {
	case KindUserMessage:
		return RoleUser
	case KindAssistantMessage:
		return RoleAssistant
	case KindSystemMessage, KindSystemState:
		return RoleSystem
	}
	return ""
}

// Replayable reports whether the item may be sent to the remote endpoint.
func (it Item) Replayable() bool {
	return it.Kind != KindApply
}

// Wire returns the items that can be sent, with storage-only fields cleared.
func Wire(items []Item) []Item {
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if !it.Replayable() {
			continue
		}
		it.Timestamp = 0
		out = append(out, it)
	}
	return out
}

type wireItem struct {
	Type      string          `json:"type"`
	Role      Role            `json:"role,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments *string         `json:"arguments,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Output    *string         `json:"output,omitempty"`
	Paths     []string        `json:"paths,omitempty"`
	TS        float64         `json:"ts,omitempty"`
}

// MarshalJSON encodes the item with the endpoint's field names.
func (it Item) MarshalJSON() ([]byte, error) {
	w := wireItem{TS: it.Timestamp}
	switch it.Kind {
	case KindUserMessage, KindAssistantMessage, KindSystemMessage, KindSystemState:
		content, err := json.Marshal(it.Content)
		if err != nil {
			return nil, err
		}
		w.Type = wireMessage
		w.Role = it.Role()
		w.Content = content
	case KindFunctionCall:
		args := it.Arguments
		w.Type = wireFunctionCall
		w.Name = it.Name
		w.Arguments = &args
		w.CallID = it.CallID
	case KindFunctionCallOutput:
		out := it.Output
		w.Type = wireFunctionCallOutput
		w.CallID = it.CallID
		w.Output = &out
	case KindApply:
		w.Type = wireApply
		w.Paths = it.Paths
		if w.Paths == nil {
			w.Paths = []string{}
		}
	default:
		return nil, fmt.Errorf("unknown item kind %q", it.Kind)
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes a transcript or endpoint item. System messages whose
// content is a state document decode as KindSystemState.
func (it *Item) UnmarshalJSON(data []byte) error {
	var w wireItem
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*it = Item{Timestamp: w.TS}
	switch w.Type {
	case wireMessage:
		it.Content = contentText(w.Content)
		switch w.Role {
		case RoleUser:
			it.Kind = KindUserMessage
		case RoleAssistant:
			it.Kind = KindAssistantMessage
		case RoleSystem:
			it.Kind = KindSystemMessage
			if IsStateDocument(it.Content) {
				it.Kind = KindSystemState
			}
		default:
			return fmt.Errorf("unknown message role %q", w.Role)
		}
	case wireFunctionCall:
		it.Kind = KindFunctionCall
		it.Name = w.Name
		it.CallID = w.CallID
		if w.Arguments != nil {
			it.Arguments = *w.Arguments
		}
	case wireFunctionCallOutput:
		it.Kind = KindFunctionCallOutput
		it.CallID = w.CallID
		if w.Output != nil {
			it.Output = *w.Output
		}
	case wireApply:
		it.Kind = KindApply
		it.Paths = w.Paths
	default:
		return fmt.Errorf("unknown transcript item type %q", w.Type)
	}
	return nil
}

// IsStateDocument reports whether content is a JSON object tagged as a
// system state snapshot.
func IsStateDocument(content string) bool {
	trimmed := bytes.TrimSpace([]byte(content))
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}
	var tag struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &tag); err != nil {
		return false
	}
	return tag.Type == StateDocumentType
}

// contentText accepts either a JSON string or any other JSON value and returns
// it as text.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
