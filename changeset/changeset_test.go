package changeset

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func spec(id, title string, paths ...string) ChangeSpec {
	s := ChangeSpec{ID: id, Title: title}
	for _, p := range paths {
		s.Items = append(s.Items, ChangeItem{Path: p, ChangeType: Modify, SummaryOfChange: "edit " + p})
	}
	return s
}

func ids(specs []ChangeSpec) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.ID
	}
	return out
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      ChangeSpec
		wantErr bool
	}{
		{"ok", spec("a", "t", "x.go"), false},
		{"deletion request", ChangeSpec{ID: "a"}, false},
		{"missing id", spec(" ", "t", "x.go"), true},
		{"bad change type", ChangeSpec{ID: "a", Items: []ChangeItem{{Path: "x", ChangeType: "patch"}}}, true},
		{"empty path", ChangeSpec{ID: "a", Items: []ChangeItem{{Path: "", ChangeType: Create}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Validate(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			var ve *ValidationError
			if err != nil && !errors.As(err, &ve) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestNormalizePath(t *testing.T) {
	tests := map[string]string{
		"./a/b.go":   "a/b.go",
		"a\\b\\c.py": "a/b/c.py",
		"a//b/":      "a/b",
		"  x.txt ":   "x.txt",
		"":           "",
	}
	for in, want := range tests {
		if got := NormalizePath(in); got != want {
			t.Errorf("NormalizePath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMergeTable(t *testing.T) {
	m := NewMerger()
	pending := []ChangeSpec{spec("a", "A", "a.go"), spec("b", "B", "b.go")}

	proposed := []ChangeSpec{
		spec("a", "A2", "a.go", "a_test.go"),
		{ID: "b"},
		spec("c", "C", "c.go"),
		{ID: "ghost"},
		{ID: "", Title: "no id"},
	}
	got, stats := m.Merge(pending, proposed)

	if diff := cmp.Diff([]string{"a", "c"}, ids(got)); diff != "" {
		t.Errorf("ids mismatch (-want +got):\n%s", diff)
	}
	if got[0].Title != "A2" || len(got[0].Items) != 2 {
		t.Errorf("expected a to be replaced in place, got %+v", got[0])
	}
	want := MergeStats{Added: 1, Replaced: 1, Deleted: 1, Ignored: 1, Rejected: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}
	if len(pending) != 2 || pending[0].Title != "A" {
		t.Error("pending input was modified")
	}
}

func TestMergeIdempotent(t *testing.T) {
	m := NewMerger()
	batch := []ChangeSpec{spec("a", "A", "a.go"), spec("b", "B", "b.go"), {ID: "z"}}
	once, _ := m.Merge(nil, batch)
	twice, _ := m.Merge(once, batch)
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("merge not idempotent (-once +twice):\n%s", diff)
	}
}

func TestMergeDeletion(t *testing.T) {
	m := NewMerger()
	got, _ := m.Merge([]ChangeSpec{spec("x", "X", "x.go")}, []ChangeSpec{{ID: "x"}})
	if len(got) != 0 {
		t.Errorf("expected x to be removed, got %v", ids(got))
	}
}

func TestAcceptConsolidatesOnCadence(t *testing.T) {
	m := NewMerger()
	var pending []ChangeSpec

	out := m.Accept(pending, 0, []ChangeSpec{spec("x", "Refactor", "a.go", "b.go")})
	if out.Batches != 1 || out.Consolidated {
		t.Fatalf("after batch 1: %+v", out)
	}
	out = m.Accept(out.Pending, out.Batches, []ChangeSpec{spec("y", "Refactor", "b.go", "a.go")})
	if out.Batches != 2 || len(out.Pending) != 2 {
		t.Fatalf("after batch 2: batches=%d pending=%v", out.Batches, ids(out.Pending))
	}
	out = m.Accept(out.Pending, out.Batches, []ChangeSpec{spec("z", "Other", "c.go")})
	if !out.Consolidated || out.Batches != 0 {
		t.Fatalf("expected consolidation on batch 3, got %+v", out)
	}
	if diff := cmp.Diff([]string{"x", "z"}, ids(out.Pending)); diff != "" {
		t.Errorf("pending mismatch (-want +got):\n%s", diff)
	}
}

func TestAcceptSkipsEmptyAndRejectedBatches(t *testing.T) {
	m := NewMerger(WithConsolidateEvery(2))
	out := m.Accept(nil, 1, nil)
	if out.Batches != 1 {
		t.Errorf("empty batch advanced counter to %d", out.Batches)
	}
	out = m.Accept(nil, 1, []ChangeSpec{{ID: ""}})
	if out.Batches != 1 {
		t.Errorf("rejected batch advanced counter to %d", out.Batches)
	}
}

func TestAcceptConsolidationDisabled(t *testing.T) {
	m := NewMerger(WithConsolidateEvery(0))
	out := m.Accept(nil, 2, []ChangeSpec{spec("a", "A", "a.go")})
	if out.Consolidated || out.Batches != 3 {
		t.Errorf("unexpected outcome %+v", out)
	}
}

func TestConsolidateFirstSeenWins(t *testing.T) {
	in := []ChangeSpec{
		spec("1", "T", "b", "a"),
		spec("2", "T", "a", "b"),
		spec("3", "T", "a"),
		spec("4", "U", "a", "b"),
	}
	if diff := cmp.Diff([]string{"1", "3", "4"}, ids(Consolidate(in))); diff != "" {
		t.Errorf("Consolidate mismatch (-want +got):\n%s", diff)
	}
}

func TestDiscardAndAffectedPaths(t *testing.T) {
	pending := []ChangeSpec{spec("a", "A", "z.go", "a.go"), spec("b", "B", "a.go", "m.go")}
	if diff := cmp.Diff([]string{"a.go", "m.go", "z.go"}, AffectedPaths(pending)); diff != "" {
		t.Errorf("AffectedPaths mismatch (-want +got):\n%s", diff)
	}
	rest, ok := Discard(pending, "a")
	if !ok || len(rest) != 1 || rest[0].ID != "b" {
		t.Errorf("Discard = %v, %v", ids(rest), ok)
	}
	if _, ok := Discard(pending, "missing"); ok {
		t.Error("expected missing id to report false")
	}
}
