package agentloop

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/martinemde/orion/llm"
	"github.com/martinemde/orion/state"
	"go.uber.org/zap"
)

// LoopState is the lifecycle state of one Run.
type LoopState string

const (
	StateAwaitingTurn   LoopState = "awaiting_turn"
	StateExecutingTools LoopState = "executing_tools"
	StateFinal          LoopState = "final"
	StateAborted        LoopState = "aborted"
)

// DefaultMaxToolTurns bounds the number of responses carrying tool calls in
// a single Run.
const DefaultMaxToolTurns = 50

// ReadFileTool is the tool whose results are promoted into the system state
// instead of being echoed back.
const ReadFileTool = "get_file_contents"

// ErrTurnBudgetExceeded aborts a Run that keeps requesting tools.
var ErrTurnBudgetExceeded = errors.New("exceeded max tool-call turns; aborting")

// Sink receives every record the loop wants persisted, in order.
type Sink interface {
	Append(item llm.Item) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(item llm.Item) error

// Append calls f.
func (f SinkFunc) Append(item llm.Item) error { return f(item) }

// Promoter records a file as fully loaded and returns the updated snapshot.
// state.Store implements it.
type Promoter interface {
	Promote(ctx context.Context, path, content string, lineCount *int) (llm.Item, bool, error)
}

// FileContents is the result payload of the read-file tool.
type FileContents struct {
	Path      string `json:"path"`
	Content   string `json:"content"`
	LineCount int    `json:"line_count"`
}

// Call is one structured request driven to a final answer. Decode, when
// set, checks the final object against the negotiated shape before it is
// sinked; an error there is a schema violation.
type Call struct {
	Input           []llm.Item
	Schema          map[string]any
	SchemaName      string
	Class           llm.CallClass
	MaxOutputTokens int
	Sink            Sink
	Decode          func(raw json.RawMessage) error
}

// Loop drives the request driver until the model produces a final answer.
type Loop struct {
	runner   llm.TurnRunner
	registry *Registry
	promoter Promoter
	maxTurns int
	window   int
	logger   *zap.Logger
	emitter  emitter

	state LoopState
	turns int
}

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithMaxToolTurns sets the tool-turn budget.
func WithMaxToolTurns(n int) LoopOption {
	return func(l *Loop) {
		if n > 0 {
			l.maxTurns = n
		}
	}
}

// WithLoopWindow sets how many recent tool calls are checked for repetition.
// Zero disables the check.
func WithLoopWindow(n int) LoopOption {
	return func(l *Loop) {
		if n >= 0 {
			l.window = n
		}
	}
}

// WithPromoter sets where read-file results are promoted.
func WithPromoter(p Promoter) LoopOption {
	return func(l *Loop) {
		l.promoter = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) LoopOption {
	return func(l *Loop) {
		l.logger = logger
	}
}

// WithListener adds an event listener.
func WithListener(fn Listener) LoopOption {
	return func(l *Loop) {
		l.emitter.listeners = append(l.emitter.listeners, fn)
	}
}

// NewLoop creates a loop. registry may be nil for calls that never use tools.
func NewLoop(runner llm.TurnRunner, registry *Registry, opts ...LoopOption) *Loop {
	l := &Loop{
		runner:   runner,
		registry: registry,
		maxTurns: DefaultMaxToolTurns,
		window:   DefaultLoopWindow,
		logger:   zap.NewNop(),
		state:    StateAwaitingTurn,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the state reached by the latest Run.
func (l *Loop) State() LoopState { return l.state }

// Turns returns the number of tool turns executed by the latest Run.
func (l *Loop) Turns() int { return l.turns }

// Run sends the call and executes requested tools until a response without
// tool calls arrives. That response must be a JSON object accepted by
// call.Decode; it is sinked as an assistant message and returned.
func (l *Loop) Run(ctx context.Context, call Call) (json.RawMessage, error) {
	l.state = StateAwaitingTurn
	l.turns = 0
	sink := call.Sink
	if sink == nil {
		sink = SinkFunc(func(llm.Item) error { return nil })
	}
	buf := append([]llm.Item(nil), call.Input...)

	for {
		if err := ctx.Err(); err != nil {
			return nil, l.abort(&llm.AbortError{SDKError: llm.SDKError{Message: "tool loop cancelled", Cause: err}})
		}

		l.emitter.emit(EventTurnStart, l.turns, nil)
		res, err := l.runner.Turn(ctx, llm.TurnRequest{
			Input:           buf,
			Tools:           l.registry.Definitions(),
			Schema:          call.Schema,
			SchemaName:      call.SchemaName,
			Class:           call.Class,
			MaxOutputTokens: call.MaxOutputTokens,
		})
		if err != nil {
			return nil, l.abort(err)
		}

		if len(res.ToolCalls) == 0 {
			return l.finish(res.Text(), call.Decode, sink)
		}

		if l.registry == nil {
			return nil, l.abort(&llm.ConfigurationError{SDKError: llm.SDKError{Message: "tool requested but no tool registry provided"}})
		}

		l.turns++
		if l.turns > l.maxTurns {
			l.emitter.emit(EventTurnLimit, l.turns, map[string]any{"max": l.maxTurns})
			return nil, l.abort(ErrTurnBudgetExceeded)
		}

		l.state = StateExecutingTools
		for _, tc := range res.ToolCalls {
			buf, err = l.execute(ctx, buf, tc, sink)
			if err != nil {
				return nil, l.abort(err)
			}
		}
		if DetectLoop(buf, l.window) {
			l.logger.Warn("repeating tool call pattern", zap.Int("turn", l.turns), zap.Int("window", l.window))
			l.emitter.emit(EventLoopDetected, l.turns, map[string]any{"window": l.window})
		}
		l.state = StateAwaitingTurn
	}
}

func (l *Loop) abort(err error) error {
	l.state = StateAborted
	l.emitter.emit(EventError, l.turns, map[string]any{"error": err.Error()})
	return err
}

func (l *Loop) finish(text string, decode func(json.RawMessage) error, sink Sink) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(text)
	var obj map[string]any
	err := json.Unmarshal([]byte(trimmed), &obj)
	if err == nil && obj == nil {
		err = errors.New("final answer is not a JSON object")
	}
	if err == nil && decode != nil {
		err = decode(json.RawMessage(trimmed))
	}
	if err != nil {
		return nil, l.abort(llm.NewSchemaViolation(text, err))
	}
	if err := sink.Append(llm.AssistantMessage(text)); err != nil {
		return nil, l.abort(fmt.Errorf("persist final answer: %w", err))
	}
	l.state = StateFinal
	l.emitter.emit(EventFinal, l.turns, nil)
	return json.RawMessage(trimmed), nil
}

func (l *Loop) execute(ctx context.Context, buf []llm.Item, tc llm.ToolCall, sink Sink) ([]llm.Item, error) {
	args := ParseArguments(tc.Arguments)
	l.logger.Info("invoking tool", zap.String("tool", tc.Name), zap.Any("args", args))
	l.emitter.emit(EventToolCallStart, l.turns, map[string]any{"tool_name": tc.Name, "call_id": tc.CallID, "args": args})

	out := l.registry.Dispatch(ctx, tc.Name, args)

	callItem := tc.Item()
	if err := sink.Append(callItem); err != nil {
		return nil, fmt.Errorf("persist function call: %w", err)
	}
	buf = append(buf, callItem)

	var emitted any = out
	if tc.Name == ReadFileTool {
		var err error
		emitted, buf, err = l.intercept(ctx, buf, out)
		if err != nil {
			return nil, err
		}
	}

	encoded, err := encodeOutput(emitted)
	if err != nil {
		return nil, err
	}
	outItem := llm.FunctionCallOutputItem(tc.CallID, encoded)
	if err := sink.Append(outItem); err != nil {
		return nil, fmt.Errorf("persist function call output: %w", err)
	}
	l.emitter.emit(EventToolCallEnd, l.turns, map[string]any{"tool_name": tc.Name, "call_id": tc.CallID, "output": encoded})
	return append(buf, outItem), nil
}

// intercept turns a read-file result into a promotion of the in-flight
// snapshot so the file body never enters the transcript twice.
func (l *Loop) intercept(ctx context.Context, buf []llm.Item, out map[string]any) (any, []llm.Item, error) {
	fc, ok := fileContentsFrom(out)
	snap, _ := state.Lookup(buf)
	if !ok || snap == nil {
		return map[string]any{"status": "noop", "reason": "no_system_state_or_malformed_result"}, buf, nil
	}
	if v, exists := snap.Files[fc.Path]; exists && v.IsFull() {
		return alreadyFull(fc.Path), buf, nil
	}

	lines := fc.LineCount
	var item llm.Item
	if l.promoter != nil {
		var promoted bool
		var err error
		item, promoted, err = l.promoter.Promote(ctx, fc.Path, fc.Content, &lines)
		if err != nil {
			return nil, buf, fmt.Errorf("promote %s: %w", fc.Path, err)
		}
		if !promoted {
			return alreadyFull(fc.Path), state.Upsert(buf, item), nil
		}
	} else {
		snap.Promote(fc.Path, fc.Content, &lines)
		var err error
		if item, err = snap.Item(); err != nil {
			return nil, buf, err
		}
	}

	l.emitter.emit(EventPromoted, l.turns, map[string]any{"path": fc.Path})
	return map[string]any{"status": "ok", "path": fc.Path, "note": "contents added to system_state"}, state.Upsert(buf, item), nil
}

func alreadyFull(path string) map[string]any {
	return map[string]any{"status": "noop", "reason": "already_full", "path": path}
}

func fileContentsFrom(out map[string]any) (FileContents, bool) {
	var result any = out
	if r, ok := out["result"]; ok {
		result = r
	}
	switch r := result.(type) {
	case FileContents:
		return r, r.Path != ""
	case *FileContents:
		if r == nil {
			return FileContents{}, false
		}
		return *r, r.Path != ""
	case map[string]any:
		path, _ := r["path"].(string)
		content, ok := r["content"].(string)
		if path == "" || !ok {
			return FileContents{}, false
		}
		fc := FileContents{Path: path, Content: content}
		switch n := r["line_count"].(type) {
		case float64:
			fc.LineCount = int(n)
		case int:
			fc.LineCount = n
		}
		return fc, true
	}
	return FileContents{}, false
}

func encodeOutput(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode tool output: %w", err)
	}
	return strings.TrimRight(buf.String(), "\n"), nil
}
