package workbench

import (
	"embed"
	"fmt"
	"strconv"
	"strings"

	"github.com/martinemde/orion/changeset"
	"github.com/martinemde/orion/llm"
)

//go:embed prompts/*.txt
var promptFS embed.FS

// prompt loads an embedded prompt and fills its {line_cap} placeholder.
func prompt(name string, lineCap int) string {
	data, err := promptFS.ReadFile("prompts/" + name)
	if err != nil {
		panic(fmt.Sprintf("missing embedded prompt %s: %v", name, err))
	}
	return strings.NewReplacer("{line_cap}", strconv.Itoa(lineCap)).Replace(string(data))
}

// ConversationResponse is the final answer of a conversation turn.
type ConversationResponse struct {
	AssistantMessage string                 `json:"assistant_message" jsonschema:"description=Message shown to the user"`
	Changes          []changeset.ChangeSpec `json:"changes" jsonschema:"description=Change specs to merge into the pending list"`
}

// Apply modes.
const (
	ModeOK           = "ok"
	ModeIncompatible = "incompatible"
)

// ApplyResponse is the final answer of an apply call.
type ApplyResponse struct {
	Mode        string       `json:"mode" jsonschema:"enum=ok,enum=incompatible"`
	Explanation string       `json:"explanation"`
	Files       []FileOutput `json:"files" jsonschema:"description=Complete contents of every file to write"`
	Issues      []Issue      `json:"issues"`
}

// FileOutput is one whole-file replacement.
type FileOutput struct {
	Path     string `json:"path"`
	IsNew    bool   `json:"is_new"`
	Contents string `json:"contents"`
}

// Issue explains why an apply is incompatible.
type Issue struct {
	Reason string   `json:"reason"`
	Paths  []string `json:"paths"`
}

type applyFile struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

type applyRequest struct {
	Changes []changeset.ChangeSpec `json:"changes"`
	Files   []applyFile            `json:"files"`
}

var (
	conversationSchema = mustSchema[ConversationResponse]()
	applySchema        = mustSchema[ApplyResponse]()
)

func mustSchema[T any]() map[string]any {
	s, err := llm.SchemaFor[T]()
	if err != nil {
		panic(err)
	}
	return s
}
