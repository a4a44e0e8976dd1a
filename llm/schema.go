package llm

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/invopop/jsonschema"
)

// schemaMapKeys hold name -> schema maps rather than schema nodes. The walk
// descends into their values without treating the map itself as a node.
var schemaMapKeys = map[string]bool{
	"properties":        true,
	"$defs":             true,
	"definitions":       true,
	"patternProperties": true,
	"dependentSchemas":  true,
}

// StrictSchema rewrites an output-shape schema into the strict form required
// by structured outputs:
//   - a node holding "$ref" keeps only "$ref"
//   - a node declaring "properties" gets "required" set to the sorted union of
//     its property names and any existing requirement, and
//     "additionalProperties" set to false
//
// The input is never modified. Applying StrictSchema twice yields the same
// tree as applying it once.
func StrictSchema(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	out, _ := strictNode(schema).(map[string]any)
	return out
}

func strictNode(node any) any {
	switch n := node.(type) {
	case map[string]any:
		if ref, ok := n["$ref"]; ok {
			return map[string]any{"$ref": ref}
		}
		out := make(map[string]any, len(n)+2)
		for k, v := range n {
			if schemaMapKeys[k] {
				if m, ok := v.(map[string]any); ok {
					out[k] = strictMap(m)
					continue
				}
			}
			out[k] = strictNode(v)
		}
		if props, ok := n["properties"].(map[string]any); ok {
			out["required"] = requiredUnion(props, n["required"])
			out["additionalProperties"] = false
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, v := range n {
			out[i] = strictNode(v)
		}
		return out
	case []string:
		out := make([]string, len(n))
		copy(out, n)
		return out
	default:
		return n
	}
}

func strictMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = strictNode(v)
	}
	return out
}

func requiredUnion(props map[string]any, existing any) []string {
	set := make(map[string]bool, len(props))
	for k := range props {
		set[k] = true
	}
	switch req := existing.(type) {
	case []string:
		for _, k := range req {
			set[k] = true
		}
	case []any:
		for _, k := range req {
			if s, ok := k.(string); ok {
				set[s] = true
			}
		}
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SchemaFor reflects a Go type into a JSON schema tree. Nested struct types
// are emitted under "$defs" and referenced with "$ref"; the root is expanded
// in place so that its definitions survive StrictSchema.
func SchemaFor[T any]() (map[string]any, error) {
	r := jsonschema.Reflector{
		Anonymous:                 true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	var zero T
	s := r.Reflect(zero)
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}
	delete(tree, "$schema")
	delete(tree, "$id")
	return tree, nil
}
