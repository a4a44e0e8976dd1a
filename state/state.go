// Package state owns the system state snapshot sent at the head of every
// conversation call and the rules for finding it in a message list.
package state

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/martinemde/orion/changeset"
	"github.com/martinemde/orion/llm"
	"github.com/martinemde/orion/storage"
)

// Kind says whether a file view carries a summary or the full text.
type Kind string

const (
	KindSummary Kind = "summary"
	KindFull    Kind = "full"
)

// FileMeta describes the file behind a view.
type FileMeta struct {
	LineCount *int `json:"line_count"`
	Bytes     int  `json:"bytes"`
}

// FileView is the per-file entry of a snapshot. Body is the summary object
// for KindSummary and a JSON string holding the raw text for KindFull.
type FileView struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body"`
	Meta FileMeta        `json:"meta"`
}

// IsFull reports whether the view holds the full file text.
func (v FileView) IsFull() bool { return v.Kind == KindFull }

// Text returns the raw text of a full view.
func (v FileView) Text() string {
	var s string
	if err := json.Unmarshal(v.Body, &s); err != nil {
		return ""
	}
	return s
}

// SystemState is the snapshot document.
type SystemState struct {
	Type             string                   `json:"type"`
	Version          int                      `json:"version"`
	Files            map[string]FileView      `json:"files"`
	PendingChanges   []changeset.ChangeSpec   `json:"pending_changes"`
	ConversationRefs []storage.ArchivePointer `json:"conversation_refs"`
}

// NewSystemState returns an empty snapshot at the given version.
func NewSystemState(version int) *SystemState {
	s := &SystemState{Type: llm.StateDocumentType, Version: version}
	s.normalize()
	return s
}

func (s *SystemState) normalize() {
	s.Type = llm.StateDocumentType
	if s.Files == nil {
		s.Files = map[string]FileView{}
	}
	if s.PendingChanges == nil {
		s.PendingChanges = []changeset.ChangeSpec{}
	}
	if s.ConversationRefs == nil {
		s.ConversationRefs = []storage.ArchivePointer{}
	}
}

// Clone returns a copy that shares no maps or slices with s.
func (s *SystemState) Clone() *SystemState {
	out := &SystemState{
		Type:             s.Type,
		Version:          s.Version,
		Files:            make(map[string]FileView, len(s.Files)),
		PendingChanges:   changeset.Clone(s.PendingChanges),
		ConversationRefs: append([]storage.ArchivePointer(nil), s.ConversationRefs...),
	}
	for k, v := range s.Files {
		v.Body = append(json.RawMessage(nil), v.Body...)
		if v.Meta.LineCount != nil {
			n := *v.Meta.LineCount
			v.Meta.LineCount = &n
		}
		out.Files[k] = v
	}
	out.normalize()
	return out
}

// Promote replaces the view for path with the full text and bumps the
// version. It returns false and changes nothing when the path is already
// full.
func (s *SystemState) Promote(path, content string, lineCount *int) bool {
	if v, ok := s.Files[path]; ok && v.IsFull() {
		return false
	}
	body, _ := json.Marshal(content)
	s.Files[path] = FileView{
		Kind: KindFull,
		Body: body,
		Meta: FileMeta{LineCount: lineCount, Bytes: len(content)},
	}
	s.Version++
	return true
}

// Item encodes the snapshot as a system message.
func (s *SystemState) Item() (llm.Item, error) {
	s.normalize()
	data, err := json.Marshal(s)
	if err != nil {
		return llm.Item{}, fmt.Errorf("encode system state: %w", err)
	}
	return llm.SystemStateMessage(data), nil
}

// Decode parses a snapshot item.
func Decode(item llm.Item) (*SystemState, error) {
	if item.Kind != llm.KindSystemState {
		return nil, fmt.Errorf("item is %s, not a system state", item.Kind)
	}
	s := &SystemState{}
	if err := json.Unmarshal([]byte(item.Content), s); err != nil {
		return nil, fmt.Errorf("decode system state: %w", err)
	}
	s.normalize()
	return s, nil
}

// Lookup scans items from the newest backward and returns the first
// decodable snapshot with its index, or nil and -1.
func Lookup(items []llm.Item) (*SystemState, int) {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Kind != llm.KindSystemState {
			continue
		}
		if s, err := Decode(items[i]); err == nil {
			return s, i
		}
	}
	return nil, -1
}

// Upsert replaces the latest snapshot in items with snapshot, or appends it
// when there is none. The returned slice never holds more snapshots than
// the input.
func Upsert(items []llm.Item, snapshot llm.Item) []llm.Item {
	for i := len(items) - 1; i >= 0; i-- {
		if items[i].Kind == llm.KindSystemState {
			out := append([]llm.Item(nil), items...)
			out[i] = snapshot
			return out
		}
	}
	return append(items, snapshot)
}

// Assemble builds the message list for a conversation call: the latest
// snapshot, then the system prompt, then every other replayable item in
// order. When maxItems is positive only the newest maxItems records are
// replayed, and a leading tool output whose call was cut off is dropped.
func Assemble(history []llm.Item, systemPrompt string, maxItems int) []llm.Item {
	var snapshot *llm.Item
	rest := make([]llm.Item, 0, len(history))
	for i := range history {
		it := history[i]
		if it.Kind == llm.KindSystemState {
			if _, err := Decode(it); err == nil {
				snapshot = &history[i]
			}
			continue
		}
		if !it.Replayable() {
			continue
		}
		rest = append(rest, it)
	}
	if maxItems > 0 && len(rest) > maxItems {
		rest = rest[len(rest)-maxItems:]
		for len(rest) > 0 && rest[0].Kind == llm.KindFunctionCallOutput {
			rest = rest[1:]
		}
	}

	out := make([]llm.Item, 0, len(rest)+2)
	if snapshot != nil {
		out = append(out, *snapshot)
	}
	if systemPrompt != "" {
		out = append(out, llm.SystemMessage(systemPrompt))
	}
	return append(out, rest...)
}

// CountLines counts newline-terminated lines, plus a trailing partial line.
func CountLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
