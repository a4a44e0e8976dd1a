// Package changeset holds proposed file-level change specs and merges model
// batches into the pending list.
package changeset

import (
	"fmt"
	"path"
	"sort"
	"strings"
)

// ChangeType is the kind of edit an item proposes for one file.
type ChangeType string

const (
	Modify ChangeType = "modify"
	Create ChangeType = "create"
	Delete ChangeType = "delete"
	Move   ChangeType = "move"
	Rename ChangeType = "rename"
)

// Valid reports whether t is one of the known change types.
func (t ChangeType) Valid() bool {
	switch t {
	case Modify, Create, Delete, Move, Rename:
		return true
	}
	return false
}

// ChangeItem is one file touched by a ChangeSpec.
type ChangeItem struct {
	Path            string     `json:"path" jsonschema:"description=Repository-relative file path"`
	ChangeType      ChangeType `json:"change_type" jsonschema:"enum=modify,enum=create,enum=delete,enum=move,enum=rename"`
	SummaryOfChange string     `json:"summary_of_change" jsonschema:"description=What changes in this file"`
}

// ChangeSpec is a proposed edit identified by ID. A spec with no items is a
// deletion request for the pending spec with the same ID.
type ChangeSpec struct {
	ID          string       `json:"id" jsonschema:"description=Stable identifier; reuse it to replace or delete a pending change"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Items       []ChangeItem `json:"items"`
}

// ValidationError explains why a spec was rejected.
type ValidationError struct {
	ID     string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.ID == "" {
		return "invalid change spec: " + e.Reason
	}
	return fmt.Sprintf("invalid change spec %q: %s", e.ID, e.Reason)
}

// NormalizePath converts p to a clean forward-slash relative path.
func NormalizePath(p string) string {
	p = strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// Validate checks a spec and returns a copy with normalized paths.
func Validate(spec ChangeSpec) (ChangeSpec, error) {
	if strings.TrimSpace(spec.ID) == "" {
		return ChangeSpec{}, &ValidationError{Reason: "missing id"}
	}
	out := spec
	out.Items = make([]ChangeItem, 0, len(spec.Items))
	for i, it := range spec.Items {
		if !it.ChangeType.Valid() {
			return ChangeSpec{}, &ValidationError{ID: spec.ID, Reason: fmt.Sprintf("item %d has invalid change_type %q", i, it.ChangeType)}
		}
		p := NormalizePath(it.Path)
		if p == "" || p == "." {
			return ChangeSpec{}, &ValidationError{ID: spec.ID, Reason: fmt.Sprintf("item %d has empty path", i)}
		}
		it.Path = p
		out.Items = append(out.Items, it)
	}
	return out, nil
}

// Clone returns a deep copy of specs.
func Clone(specs []ChangeSpec) []ChangeSpec {
	if specs == nil {
		return nil
	}
	out := make([]ChangeSpec, len(specs))
	for i, s := range specs {
		s.Items = append([]ChangeItem(nil), s.Items...)
		out[i] = s
	}
	return out
}

// Discard removes the spec with the given ID. It reports whether one was found.
func Discard(pending []ChangeSpec, id string) ([]ChangeSpec, bool) {
	out := make([]ChangeSpec, 0, len(pending))
	found := false
	for _, s := range pending {
		if s.ID == id {
			found = true
			continue
		}
		out = append(out, s)
	}
	return out, found
}

// AffectedPaths returns the sorted set of paths named by any pending item.
func AffectedPaths(pending []ChangeSpec) []string {
	set := make(map[string]bool)
	for _, s := range pending {
		for _, it := range s.Items {
			set[it.Path] = true
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Consolidate removes duplicate specs. Two specs are duplicates when they
// share a title and the same set of item paths; the first one seen is kept.
func Consolidate(pending []ChangeSpec) []ChangeSpec {
	seen := make(map[string]bool, len(pending))
	out := make([]ChangeSpec, 0, len(pending))
	for _, s := range pending {
		key := consolidationKey(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

func consolidationKey(s ChangeSpec) string {
	paths := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		paths = append(paths, it.Path)
	}
	sort.Strings(paths)
	return s.Title + "\x00" + strings.Join(paths, "\x00")
}
