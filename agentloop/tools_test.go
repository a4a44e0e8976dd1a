package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

// fakeWorkspace is an in-memory Workspace.
type fakeWorkspace struct {
	files     map[string]string
	summaries map[string]string
}

func (w *fakeWorkspace) ListPaths(ctx context.Context) ([]string, error) {
	paths := make([]string, 0, len(w.files))
	for p := range w.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

func (w *fakeWorkspace) ReadFile(path string) (string, error) {
	c, ok := w.files[path]
	if !ok {
		return "", fmt.Errorf("open %s: file does not exist", path)
	}
	return c, nil
}

func (w *fakeWorkspace) Summary(path string) (json.RawMessage, error) {
	s, ok := w.summaries[path]
	if !ok {
		return nil, ErrNoSummary
	}
	return json.RawMessage(s), nil
}

// fakePrompter records messages and answers with a fixed line.
type fakePrompter struct {
	sent   []string
	answer string
	err    error
}

func (p *fakePrompter) SendToUser(msg string) { p.sent = append(p.sent, msg) }

func (p *fakePrompter) ReadLine() (string, error) { return p.answer, p.err }

func echoTool(name string, params ...Param) Tool {
	return Tool{
		Name:   name,
		Params: params,
		Handler: func(_ context.Context, args Args) Result {
			return OK(map[string]any(args))
		},
	}
}

func TestNewRegistryRejectsBadTools(t *testing.T) {
	tests := []struct {
		name  string
		tools []Tool
	}{
		{"empty name", []Tool{{Handler: echoTool("x").Handler}}},
		{"nil handler", []Tool{{Name: "x"}}},
		{"duplicate", []Tool{echoTool("x"), echoTool("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewRegistry(tt.tools...); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestRegistryDefinitionsKeepOrder(t *testing.T) {
	reg, err := NewRegistry(echoTool("b"), echoTool("a"), echoTool("c"))
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if diff := cmp.Diff([]string{"b", "a", "c"}, reg.Names()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
	defs := reg.Definitions()
	if len(defs) != 3 || defs[0].Name != "b" {
		t.Errorf("definitions = %+v", defs)
	}

	var nilReg *Registry
	if nilReg.Definitions() != nil || nilReg.Names() != nil {
		t.Error("nil registry should have no definitions")
	}
}

func TestParametersSchema(t *testing.T) {
	got := ParametersSchema([]Param{
		{Name: "path", Type: TypeString, Description: "file", Required: true},
		{Name: "limit", Type: TypeInteger},
	})
	want := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path":  map[string]any{"type": "string", "description": "file"},
			"limit": map[string]any{"type": "integer"},
			ReasonParam: map[string]any{
				"type":        "string",
				"description": "Why this call is needed",
			},
		},
		"required":             []string{"path"},
		"additionalProperties": false,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("schema (-want +got):\n%s", diff)
	}
}

func TestDispatchStripsReason(t *testing.T) {
	var seen Args
	reg, err := NewRegistry(Tool{
		Name:   "lookup",
		Params: []Param{{Name: "q", Type: TypeString, Required: true}},
		Handler: func(_ context.Context, args Args) Result {
			seen = args
			return OK("fine")
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	out := reg.Dispatch(context.Background(), "lookup", map[string]any{"q": "x", ReasonParam: "checking"})
	if _, ok := seen[ReasonParam]; ok {
		t.Error("handler saw reason_for_call")
	}
	want := map[string]any{"reason_for_call": "checking", "result": "fine"}
	if diff := cmp.Diff(want, out); diff != "" {
		t.Errorf("output (-want +got):\n%s", diff)
	}
}

func TestDispatchErrors(t *testing.T) {
	reg, err := NewRegistry(
		echoTool("needs", Param{Name: "n", Type: TypeInteger, Required: true}),
		Tool{Name: "boom", Handler: func(context.Context, Args) Result { panic("kaboom") }},
		Tool{Name: "fails", Handler: func(context.Context, Args) Result { return Errorf("bad %s", "input") }},
	)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		tool string
		args map[string]any
		want string
	}{
		{"unknown tool", "nope", map[string]any{"a": 1.0}, "unknown tool: nope"},
		{"missing required", "needs", map[string]any{}, "missing required parameter: n"},
		{"bad coercion", "needs", map[string]any{"n": "abc"}, `parameter n: not an integer: "abc"`},
		{"panic", "boom", nil, "tool boom failed: kaboom"},
		{"handler error", "fails", nil, "bad input"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := reg.Dispatch(context.Background(), tt.tool, tt.args)
			if got := out["_meta_error"]; got != tt.want {
				t.Errorf("_meta_error = %v, want %q", got, tt.want)
			}
		})
	}

	out := reg.Dispatch(context.Background(), "nope", map[string]any{"a": 1.0})
	if diff := cmp.Diff(map[string]any{"a": 1.0}, out["_args_echo"]); diff != "" {
		t.Errorf("_args_echo (-want +got):\n%s", diff)
	}
}

func TestDispatchCoercion(t *testing.T) {
	tests := []struct {
		typ  ParamType
		in   any
		want any
	}{
		{TypeInteger, 5.0, 5},
		{TypeInteger, "12", 12},
		{TypeNumber, "1.5", 1.5},
		{TypeNumber, 3, 3.0},
		{TypeBoolean, "yes", true},
		{TypeBoolean, "off", false},
		{TypeBoolean, 1.0, true},
		{TypeString, 7.0, "7"},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%v", tt.typ, tt.in), func(t *testing.T) {
			reg, err := NewRegistry(echoTool("e", Param{Name: "v", Type: tt.typ}))
			if err != nil {
				t.Fatal(err)
			}
			out := reg.Dispatch(context.Background(), "e", map[string]any{"v": tt.in})
			result, ok := out["result"].(map[string]any)
			if !ok {
				t.Fatalf("unexpected output %v", out)
			}
			if result["v"] != tt.want {
				t.Errorf("coerced = %#v, want %#v", result["v"], tt.want)
			}
		})
	}
}

func TestParseArguments(t *testing.T) {
	for _, raw := range []string{"", "{", "null", "[1,2]", `"str"`} {
		if got := ParseArguments(raw); len(got) != 0 || got == nil {
			t.Errorf("ParseArguments(%q) = %v, want empty map", raw, got)
		}
	}
	got := ParseArguments(`{"path":"a.go","n":2}`)
	if got["path"] != "a.go" || got["n"] != 2.0 {
		t.Errorf("ParseArguments = %v", got)
	}
}

func newCoreRegistry(t *testing.T, ws Workspace, ui Prompter, extra ...Tool) *Registry {
	t.Helper()
	reg, err := NewCoreRegistry(ws, ui, extra...)
	if err != nil {
		t.Fatalf("NewCoreRegistry: %v", err)
	}
	return reg
}

func TestCoreToolNames(t *testing.T) {
	reg := newCoreRegistry(t, &fakeWorkspace{}, nil)
	want := []string{"list_paths", "get_file_contents", "get_file_snippet", "get_summary", "search_code", "ask_user"}
	if diff := cmp.Diff(want, reg.Names()); diff != "" {
		t.Errorf("names (-want +got):\n%s", diff)
	}
}

type fakeDescriptions struct {
	names     []string
	summaries map[string]string
	stale     map[string]bool
}

func (d *fakeDescriptions) List(context.Context) ([]string, error) { return d.names, nil }

func (d *fakeDescriptions) Summary(name string) (json.RawMessage, bool, error) {
	s, ok := d.summaries[name]
	if !ok {
		return nil, false, ErrNoSummary
	}
	return json.RawMessage(s), d.stale[name], nil
}

func TestDescriptionTools(t *testing.T) {
	src := &fakeDescriptions{
		names:     []string{"db.md", "http.md"},
		summaries: map[string]string{"db.md": `{"h":"x"}`},
		stale:     map[string]bool{"db.md": true},
	}
	reg := newCoreRegistry(t, &fakeWorkspace{}, nil, DescriptionTools(src)...)
	ctx := context.Background()

	out := reg.Dispatch(ctx, "list_project_descriptions", map[string]any{})
	got, ok := out["result"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected output %v", out)
	}
	if diff := cmp.Diff([]string{"db.md", "http.md"}, got["filenames"]); diff != "" {
		t.Errorf("filenames (-want +got):\n%s", diff)
	}

	out = reg.Dispatch(ctx, "get_project_orion_summary", map[string]any{"filename": "db.md"})
	got, ok = out["result"].(map[string]any)
	if !ok || got["stale"] != true || string(got["summary"].(json.RawMessage)) != `{"h":"x"}` {
		t.Errorf("summary output = %v", out)
	}

	for _, args := range []map[string]any{{"filename": "http.md"}, {}} {
		out = reg.Dispatch(ctx, "get_project_orion_summary", args)
		if _, ok := out["_meta_error"]; !ok {
			t.Errorf("args %v: expected error, got %v", args, out)
		}
	}
}

func TestListPathsTool(t *testing.T) {
	ws := &fakeWorkspace{files: map[string]string{"main.go": "", "pkg/a.go": "", "README.md": ""}}
	reg := newCoreRegistry(t, ws, nil)

	out := reg.Dispatch(context.Background(), "list_paths", map[string]any{"glob": "**/*.go"})
	got, ok := out["result"].(pathList)
	if !ok {
		t.Fatalf("unexpected output %v", out)
	}
	if diff := cmp.Diff([]string{"main.go", "pkg/a.go"}, got.Paths); diff != "" {
		t.Errorf("paths (-want +got):\n%s", diff)
	}

	out = reg.Dispatch(context.Background(), "list_paths", map[string]any{"glob": "[bad"})
	if _, ok := out["_meta_error"]; !ok {
		t.Errorf("invalid glob should fail, got %v", out)
	}
}

func TestGetFileContentsTool(t *testing.T) {
	ws := &fakeWorkspace{files: map[string]string{"src/a.go": "one\ntwo\n"}}
	reg := newCoreRegistry(t, ws, nil)

	out := reg.Dispatch(context.Background(), ReadFileTool, map[string]any{"path": `src\a.go`})
	want := FileContents{Path: "src/a.go", Content: "one\ntwo\n", LineCount: 2}
	if diff := cmp.Diff(want, out["result"]); diff != "" {
		t.Errorf("result (-want +got):\n%s", diff)
	}

	out = reg.Dispatch(context.Background(), ReadFileTool, map[string]any{"path": "missing.go"})
	if out["_meta_error"] != "Could not read missing.go" {
		t.Errorf("missing file output = %v", out)
	}
}

func TestGetFileSnippetTool(t *testing.T) {
	ws := &fakeWorkspace{files: map[string]string{"f.txt": "l1\nl2\nl3\nl4\nl5\n"}}
	reg := newCoreRegistry(t, ws, nil)

	tests := []struct {
		name string
		args map[string]any
		want Snippet
	}{
		{"defaults", map[string]any{}, Snippet{StartLine: 1, EndLine: 5, Content: "l1\nl2\nl3\nl4\nl5"}},
		{"range", map[string]any{"start_line": 2.0, "end_line": 3.0}, Snippet{StartLine: 2, EndLine: 3, Content: "l2\nl3"}},
		{"clamped", map[string]any{"start_line": 0.0, "end_line": 99.0}, Snippet{StartLine: 1, EndLine: 5, Content: "l1\nl2\nl3\nl4\nl5"}},
		{"reversed", map[string]any{"start_line": 4.0, "end_line": 2.0}, Snippet{StartLine: 4, EndLine: 4, Content: "l4"}},
		{"past end", map[string]any{"start_line": 9.0}, Snippet{StartLine: 9, EndLine: 5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := map[string]any{"path": "f.txt"}
			for k, v := range tt.args {
				args[k] = v
			}
			out := reg.Dispatch(context.Background(), "get_file_snippet", args)
			tt.want.Path = "f.txt"
			if diff := cmp.Diff(tt.want, out["result"]); diff != "" {
				t.Errorf("snippet (-want +got):\n%s", diff)
			}
		})
	}
}

func TestGetSummaryTool(t *testing.T) {
	ws := &fakeWorkspace{summaries: map[string]string{"a.go": `{"s":"alpha"}`}}
	reg := newCoreRegistry(t, ws, nil)

	out := reg.Dispatch(context.Background(), "get_summary", map[string]any{"path": "a.go"})
	result, ok := out["result"].(map[string]any)
	if !ok {
		t.Fatalf("unexpected output %v", out)
	}
	if string(result["summary"].(json.RawMessage)) != `{"s":"alpha"}` {
		t.Errorf("summary = %v", result["summary"])
	}

	out = reg.Dispatch(context.Background(), "get_summary", map[string]any{"path": "b.go"})
	if out["_meta_error"] != "no summary available for b.go" {
		t.Errorf("missing summary output = %v", out)
	}
}

func TestSearchCodeTool(t *testing.T) {
	ws := &fakeWorkspace{files: map[string]string{
		"a.go": "func Hello() {}",
		"b.go": "// say HELLO",
		"c.go": "nothing here",
	}}
	reg := newCoreRegistry(t, ws, nil)

	out := reg.Dispatch(context.Background(), "search_code", map[string]any{"query": "hello"})
	want := searchResult{Matches: []searchMatch{{Path: "a.go"}, {Path: "b.go"}}}
	if diff := cmp.Diff(want, out["result"]); diff != "" {
		t.Errorf("matches (-want +got):\n%s", diff)
	}

	out = reg.Dispatch(context.Background(), "search_code", map[string]any{"query": "hello", "max_results": 1.0})
	if got := out["result"].(searchResult); len(got.Matches) != 1 {
		t.Errorf("max_results ignored: %v", got)
	}

	out = reg.Dispatch(context.Background(), "search_code", map[string]any{"query": ""})
	if got := out["result"].(searchResult); got.Matches == nil || len(got.Matches) != 0 {
		t.Errorf("empty query = %v", got)
	}
}

func TestAskUserTool(t *testing.T) {
	ui := &fakePrompter{answer: "  use postgres \n"}
	reg := newCoreRegistry(t, &fakeWorkspace{}, ui)

	out := reg.Dispatch(context.Background(), "ask_user", map[string]any{"prompt": "Which database?"})
	if diff := cmp.Diff(map[string]string{"answer": "use postgres"}, out["result"]); diff != "" {
		t.Errorf("answer (-want +got):\n%s", diff)
	}
	if len(ui.sent) != 2 || !strings.Contains(ui.sent[0], "Which database?") {
		t.Errorf("prompts sent = %v", ui.sent)
	}

	ui.err = errors.New("EOF")
	out = reg.Dispatch(context.Background(), "ask_user", map[string]any{"prompt": "again?"})
	if diff := cmp.Diff(map[string]string{"answer": ""}, out["result"]); diff != "" {
		t.Errorf("answer on EOF (-want +got):\n%s", diff)
	}

	noUser := newCoreRegistry(t, &fakeWorkspace{}, nil)
	out = noUser.Dispatch(context.Background(), "ask_user", map[string]any{"prompt": "hi"})
	if _, ok := out["_meta_error"]; !ok {
		t.Errorf("ask_user without prompter = %v", out)
	}
}

func TestDisplayOutput(t *testing.T) {
	long := strings.Repeat("x", 5000)
	got := DisplayOutput("get_summary", long)
	if len(got) >= len(long) || !strings.Contains(got, "characters omitted") {
		t.Errorf("expected truncation, got %d chars", len(got))
	}
	if !strings.HasPrefix(got, "x") || !strings.HasSuffix(got, "x") {
		t.Errorf("get_summary should keep head and tail: %q...", got[:40])
	}
	if DisplayOutput("get_summary", "short") != "short" {
		t.Error("short output should be unchanged")
	}

	answer := strings.Repeat("a", 1500) + "END"
	got = DisplayOutput("ask_user", answer)
	if want := "[... 503 characters omitted ...]\n"; !strings.HasPrefix(got, want) {
		t.Errorf("ask_user should keep only the tail, got %q...", got[:40])
	}
	if !strings.HasSuffix(got, "END") || len(got) != 1000+len("[... 503 characters omitted ...]\n") {
		t.Errorf("ask_user tail kept %d chars", len(got))
	}

	lines := strings.Repeat("line\n", 100)
	got = TruncateLines(lines, 10)
	if !strings.Contains(got, "lines omitted") {
		t.Errorf("expected line truncation: %q", got)
	}
}
