package llm

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestItemJSON(t *testing.T) {
	tests := []struct {
		name string
		item Item
		wire string
	}{
		{"user", UserMessage("hi"), `{"type":"message","role":"user","content":"hi"}`},
		{"assistant empty", AssistantMessage(""), `{"type":"message","role":"assistant","content":""}`},
		{"system", SystemMessage("be brief"), `{"type":"message","role":"system","content":"be brief"}`},
		{
			"function call",
			FunctionCallItem("c1", "get_summary", `{"path":"a"}`),
			`{"type":"function_call","name":"get_summary","arguments":"{\"path\":\"a\"}","call_id":"c1"}`,
		},
		{
			"function call output",
			FunctionCallOutputItem("c1", `{"ok":true}`),
			`{"type":"function_call_output","call_id":"c1","output":"{\"ok\":true}"}`,
		},
		{"apply", ApplyMarker([]string{"a.go"}), `{"type":"apply","paths":["a.go"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.item)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if string(data) != tt.wire {
				t.Errorf("marshal = %s, want %s", data, tt.wire)
			}
			var back Item
			if err := json.Unmarshal(data, &back); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if diff := cmp.Diff(tt.item, back); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSystemStateRecognized(t *testing.T) {
	raw := `{"type":"message","role":"system","content":"{\"type\":\"system_state\",\"version\":3}","ts":1700000000.5}`
	var it Item
	if err := json.Unmarshal([]byte(raw), &it); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if it.Kind != KindSystemState {
		t.Errorf("expected system state kind, got %s", it.Kind)
	}
	if it.Timestamp != 1700000000.5 {
		t.Errorf("expected timestamp to be kept, got %v", it.Timestamp)
	}
	if it.Role() != RoleSystem {
		t.Errorf("unexpected role %s", it.Role())
	}
}

func TestUnknownItemType(t *testing.T) {
	var it Item
	if err := json.Unmarshal([]byte(`{"type":"reasoning"}`), &it); err == nil {
		t.Error("expected error for unknown type")
	}
}

func TestWireStripsStorageFields(t *testing.T) {
	items := []Item{
		{Kind: KindUserMessage, Content: "a", Timestamp: 5},
		ApplyMarker([]string{"x"}),
		FunctionCallItem("c", "n", "{}"),
	}
	wire := Wire(items)
	if len(wire) != 2 {
		t.Fatalf("expected 2 items, got %d", len(wire))
	}
	if wire[0].Timestamp != 0 {
		t.Error("expected timestamp cleared")
	}
	if items[0].Timestamp != 5 {
		t.Error("input was mutated")
	}
}

func TestDecodeObject(t *testing.T) {
	type answer struct {
		OK bool `json:"ok"`
	}
	got, err := DecodeObject[answer](` {"ok":true} `)
	if err != nil || !got.OK {
		t.Fatalf("DecodeObject = %+v, %v", got, err)
	}
	for _, bad := range []string{"", "not json", "[1,2]", `{"ok":`} {
		if _, err := DecodeObject[answer](bad); err == nil {
			t.Errorf("expected schema violation for %q", bad)
		} else if _, ok := err.(*SchemaViolationError); !ok {
			t.Errorf("expected *SchemaViolationError for %q, got %T", bad, err)
		}
	}
}
