package state

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/martinemde/orion/changeset"
	"github.com/martinemde/orion/llm"
	"github.com/martinemde/orion/storage"
	"github.com/spf13/afero"
)

type fakeDigests struct {
	digests []FileDigest
	err     error
}

func (f *fakeDigests) Digests(ctx context.Context) ([]FileDigest, error) {
	return f.digests, f.err
}

func newTestStore(t *testing.T, digests ...FileDigest) (*Store, *storage.Store) {
	t.Helper()
	clock := time.Unix(1700000000, 0)
	st := storage.New(afero.NewMemMapFs(), "/repo", storage.WithClock(func() time.Time { return clock }))
	return NewStore(st, &fakeDigests{digests: digests}), st
}

func snapshotItem(t *testing.T, version int) llm.Item {
	t.Helper()
	item, err := NewSystemState(version).Item()
	if err != nil {
		t.Fatal(err)
	}
	return item
}

func TestLookupScansFromNewest(t *testing.T) {
	items := []llm.Item{
		snapshotItem(t, 1),
		llm.UserMessage("hi"),
		snapshotItem(t, 4),
		llm.SystemMessage("{\"type\":\"other\"}"),
	}
	got, idx := Lookup(items)
	if got == nil || got.Version != 4 || idx != 2 {
		t.Errorf("Lookup = %v, %d", got, idx)
	}
	if s, idx := Lookup([]llm.Item{llm.UserMessage("x")}); s != nil || idx != -1 {
		t.Errorf("expected no snapshot, got %v %d", s, idx)
	}
}

func TestUpsertReplacesInPlace(t *testing.T) {
	items := []llm.Item{snapshotItem(t, 1), llm.UserMessage("a")}
	out := Upsert(items, snapshotItem(t, 2))
	if len(out) != 2 {
		t.Fatalf("expected 2 items, got %d", len(out))
	}
	if s, idx := Lookup(out); s.Version != 2 || idx != 0 {
		t.Errorf("expected version 2 at head, got %d at %d", s.Version, idx)
	}
	if s, _ := Lookup(items); s.Version != 1 {
		t.Error("input slice was modified")
	}

	appended := Upsert([]llm.Item{llm.UserMessage("a")}, snapshotItem(t, 1))
	if len(appended) != 2 || appended[1].Kind != llm.KindSystemState {
		t.Errorf("expected snapshot appended, got %+v", appended)
	}
}

func TestAssemble(t *testing.T) {
	history := []llm.Item{
		snapshotItem(t, 1),
		llm.UserMessage("one"),
		llm.FunctionCallItem("c1", "list_paths", "{}"),
		llm.FunctionCallOutputItem("c1", "{}"),
		snapshotItem(t, 2),
		llm.AssistantMessage("two"),
		llm.ApplyMarker([]string{"a"}),
	}
	got := Assemble(history, "prompt", 0)
	kinds := make([]llm.ItemKind, len(got))
	for i, it := range got {
		kinds[i] = it.Kind
	}
	want := []llm.ItemKind{
		llm.KindSystemState, llm.KindSystemMessage, llm.KindUserMessage,
		llm.KindFunctionCall, llm.KindFunctionCallOutput, llm.KindAssistantMessage,
	}
	if diff := cmp.Diff(want, kinds); diff != "" {
		t.Errorf("kinds mismatch (-want +got):\n%s", diff)
	}
	if s, _ := Decode(got[0]); s.Version != 2 {
		t.Errorf("expected latest snapshot, got version %d", s.Version)
	}
}

func TestAssembleCapDropsOrphanOutputs(t *testing.T) {
	history := []llm.Item{
		llm.UserMessage("one"),
		llm.FunctionCallItem("c1", "list_paths", "{}"),
		llm.FunctionCallOutputItem("c1", "{}"),
		llm.AssistantMessage("two"),
	}
	got := Assemble(history, "", 2)
	if len(got) != 1 || got[0].Kind != llm.KindAssistantMessage {
		t.Errorf("unexpected assembled items %+v", got)
	}
}

func TestPromoteMonotonic(t *testing.T) {
	s, st := newTestStore(t, FileDigest{Path: "a.go", Digest: "d", Summary: json.RawMessage(`{"purpose":"x"}`), LineCount: 2, Bytes: 10})
	ctx := context.Background()
	snap, err := s.Ensure(ctx)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if snap.Files["a.go"].Kind != KindSummary {
		t.Fatalf("expected summary view, got %+v", snap.Files["a.go"])
	}
	v0 := snap.Version

	lines := 2
	item, promoted, err := s.Promote(ctx, "a.go", "package a\n", &lines)
	if err != nil || !promoted {
		t.Fatalf("Promote = %v, %v", promoted, err)
	}
	got, _ := Decode(item)
	if got.Version != v0+1 || got.Files["a.go"].Text() != "package a\n" || got.Files["a.go"].Meta.Bytes != 10 {
		t.Errorf("unexpected promoted state %+v", got.Files["a.go"])
	}

	before, _ := st.LoadTranscript()
	_, promoted, err = s.Promote(ctx, "a.go", "changed", &lines)
	if err != nil || promoted {
		t.Fatalf("second Promote = %v, %v", promoted, err)
	}
	after, _ := st.LoadTranscript()
	if len(after) != len(before) {
		t.Error("second promotion must not write a snapshot")
	}
	if s.Current().Files["a.go"].Text() != "package a\n" {
		t.Error("full view was overwritten")
	}
}

func TestPromoteWithoutState(t *testing.T) {
	s, _ := newTestStore(t)
	if _, _, err := s.Promote(context.Background(), "a", "b", nil); !errors.Is(err, ErrNoState) {
		t.Errorf("expected ErrNoState, got %v", err)
	}
}

func TestRebuildDropsSnapshotsAndKeepsOrder(t *testing.T) {
	s, st := newTestStore(t, FileDigest{Path: "b.go", Digest: "sha"})
	st.AppendItem(snapshotItem(t, 5))
	st.AppendItem(llm.UserMessage("one"))
	st.AppendItem(snapshotItem(t, 6))
	st.AppendItem(llm.AssistantMessage("two"))
	st.SaveMetadata(&storage.Metadata{PendingChanges: []changeset.ChangeSpec{{ID: "p", Items: []changeset.ChangeItem{{Path: "b.go", ChangeType: changeset.Modify}}}}})

	snap, err := s.Rebuild(context.Background())
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if snap.Version != 7 {
		t.Errorf("expected version 7, got %d", snap.Version)
	}
	if len(snap.PendingChanges) != 1 || snap.Files["b.go"].Kind != KindSummary {
		t.Errorf("unexpected snapshot %+v", snap)
	}

	items, _ := st.LoadTranscript()
	if len(items) != 3 || items[0].Kind != llm.KindSystemState || items[1].Content != "one" || items[2].Content != "two" {
		t.Errorf("unexpected transcript %+v", items)
	}
	md, _ := st.LoadMetadata()
	if md.StateVersion != 7 || md.PathToDigest["b.go"] != "sha" {
		t.Errorf("unexpected metadata %+v", md)
	}
}

func TestRebuildAfterRotationKeepsVersionMonotonic(t *testing.T) {
	s, st := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Ensure(ctx); err != nil {
		t.Fatal(err)
	}
	if err := s.SetPendingChanges(nil); err != nil {
		t.Fatal(err)
	}
	before := s.Current().Version
	if _, err := st.RotateTranscript(); err != nil {
		t.Fatal(err)
	}

	snap, err := s.Rebuild(ctx)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if snap.Version != before+1 {
		t.Errorf("expected version %d, got %d", before+1, snap.Version)
	}
	items, _ := st.LoadTranscript()
	if len(items) != 1 || items[0].Kind != llm.KindSystemState {
		t.Errorf("expected a single snapshot in the fresh transcript, got %+v", items)
	}
}

func TestEnsureSyncsPendingFromMetadata(t *testing.T) {
	s, st := newTestStore(t)
	ctx := context.Background()
	if _, err := s.Ensure(ctx); err != nil {
		t.Fatal(err)
	}
	v := s.Current().Version

	st.UpdateMetadata(func(md *storage.Metadata) error {
		md.PendingChanges = []changeset.ChangeSpec{{ID: "x", Items: []changeset.ChangeItem{{Path: "x", ChangeType: changeset.Create}}}}
		return nil
	})
	snap, err := s.Ensure(ctx)
	if err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if snap.Version != v+1 || len(snap.PendingChanges) != 1 {
		t.Errorf("expected synced pending at version %d, got %d %+v", v+1, snap.Version, snap.PendingChanges)
	}

	again, _ := s.Ensure(ctx)
	if again.Version != snap.Version {
		t.Error("Ensure without drift must not bump the version")
	}
}

func TestSetPendingChangesPersists(t *testing.T) {
	s, st := newTestStore(t)
	ctx := context.Background()
	s.Ensure(ctx)
	v := s.Current().Version
	pending := []changeset.ChangeSpec{{ID: "a", Items: []changeset.ChangeItem{{Path: "a", ChangeType: changeset.Modify}}}}
	if err := s.SetPendingChanges(pending); err != nil {
		t.Fatalf("SetPendingChanges: %v", err)
	}
	items, _ := st.LoadTranscript()
	latest, _ := Lookup(items)
	if latest.Version != v+1 || latest.PendingChanges[0].ID != "a" {
		t.Errorf("persisted snapshot = %+v", latest)
	}
}

func TestRebuildDigestError(t *testing.T) {
	st := storage.New(afero.NewMemMapFs(), "/repo")
	s := NewStore(st, &fakeDigests{err: errors.New("walk failed")})
	if _, err := s.Rebuild(context.Background()); err == nil {
		t.Error("expected digest error")
	}
}
