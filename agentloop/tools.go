package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/martinemde/orion/llm"
)

// ReasonParam is accepted by every tool and stripped before dispatch.
const ReasonParam = "reason_for_call"

// ParamType is the JSON type of a tool parameter.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeNumber  ParamType = "number"
	TypeBoolean ParamType = "boolean"
)

// Param describes one tool parameter.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
}

// Args are the coerced arguments passed to a handler.
type Args map[string]any

// Result is what a handler returns. A non-empty Err becomes a structured
// error payload that is fed back to the model.
type Result struct {
	Payload any
	Err     string
}

// OK wraps a payload.
func OK(payload any) Result { return Result{Payload: payload} }

// Errorf builds an error result.
func Errorf(format string, a ...any) Result { return Result{Err: fmt.Sprintf(format, a...)} }

// Handler executes a tool.
type Handler func(ctx context.Context, args Args) Result

// Tool is an explicit tool descriptor.
type Tool struct {
	Name        string
	Description string
	Params      []Param
	Handler     Handler
}

// Registry is an immutable set of tools built at startup.
type Registry struct {
	tools map[string]Tool
	order []string
	defs  []llm.ToolDefinition
}

// NewRegistry validates the descriptors and derives their schemas.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %q has no handler", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("tool %q registered twice", t.Name)
		}
		r.tools[t.Name] = t
		r.order = append(r.order, t.Name)
		r.defs = append(r.defs, llm.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  ParametersSchema(t.Params),
		})
	}
	return r, nil
}

// ParametersSchema derives the JSON schema of a parameter list. Every schema
// also accepts an optional reason_for_call string.
func ParametersSchema(params []Param) map[string]any {
	props := make(map[string]any, len(params)+1)
	required := make([]string, 0, len(params))
	for _, p := range params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	props[ReasonParam] = map[string]any{
		"type":        "string",
		"description": "Why this call is needed",
	}
	return map[string]any{
		"type":                 "object",
		"properties":           props,
		"required":             required,
		"additionalProperties": false,
	}
}

// Definitions returns the tool definitions in registration order.
func (r *Registry) Definitions() []llm.ToolDefinition {
	if r == nil {
		return nil
	}
	out := make([]llm.ToolDefinition, len(r.defs))
	copy(out, r.defs)
	return out
}

// Names returns the tool names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return Tool{}, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Dispatch runs a tool and never fails: unknown tools, bad arguments, and
// handler panics all become {"_meta_error": ...} payloads. Successful
// results are wrapped as {"reason_for_call": ..., "result": ...}.
func (r *Registry) Dispatch(ctx context.Context, name string, raw map[string]any) (out map[string]any) {
	args := make(Args, len(raw))
	for k, v := range raw {
		args[k] = v
	}
	reason, _ := args[ReasonParam].(string)
	delete(args, ReasonParam)

	tool, ok := r.Get(name)
	if !ok {
		return map[string]any{"_meta_error": fmt.Sprintf("unknown tool: %s", name), "_args_echo": raw}
	}

	coerced := make(Args, len(tool.Params))
	for _, p := range tool.Params {
		v, present := args[p.Name]
		if !present || v == nil {
			if p.Required {
				return metaError(fmt.Sprintf("missing required parameter: %s", p.Name))
			}
			continue
		}
		cv, err := coerce(v, p.Type)
		if err != nil {
			return metaError(fmt.Sprintf("parameter %s: %v", p.Name, err))
		}
		coerced[p.Name] = cv
	}

	defer func() {
		if rec := recover(); rec != nil {
			out = metaError(fmt.Sprintf("tool %s failed: %v", name, rec))
		}
	}()
	res := tool.Handler(ctx, coerced)
	if res.Err != "" {
		return metaError(res.Err)
	}
	return map[string]any{"reason_for_call": reason, "result": res.Payload}
}

func metaError(msg string) map[string]any {
	return map[string]any{"_meta_error": msg}
}

func coerce(v any, t ParamType) (any, error) {
	switch t {
	case TypeString:
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fmt.Sprint(v), nil
	case TypeInteger:
		switch n := v.(type) {
		case float64:
			return int(n), nil
		case int:
			return n, nil
		case json.Number:
			i, err := n.Int64()
			return int(i), err
		case string:
			i, err := strconv.Atoi(strings.TrimSpace(n))
			if err != nil {
				return nil, fmt.Errorf("not an integer: %q", n)
			}
			return i, nil
		}
	case TypeNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
			if err != nil {
				return nil, fmt.Errorf("not a number: %q", n)
			}
			return f, nil
		}
	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			switch strings.ToLower(strings.TrimSpace(b)) {
			case "1", "true", "yes", "y":
				return true, nil
			default:
				return false, nil
			}
		case float64:
			return b != 0, nil
		}
	default:
		return v, nil
	}
	return nil, fmt.Errorf("cannot use %T as %s", v, t)
}

// ParseArguments decodes tool call arguments. Malformed or non-object JSON
// yields an empty map.
func ParseArguments(raw string) map[string]any {
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// String returns a string argument.
func (a Args) String(key string) (string, bool) {
	s, ok := a[key].(string)
	return s, ok
}

// Int returns an integer argument.
func (a Args) Int(key string) (int, bool) {
	n, ok := a[key].(int)
	return n, ok
}

// Bool returns a boolean argument.
func (a Args) Bool(key string) (bool, bool) {
	b, ok := a[key].(bool)
	return b, ok
}
