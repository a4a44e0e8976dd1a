package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/martinemde/orion/changeset"
	"github.com/martinemde/orion/llm"
	"github.com/martinemde/orion/storage"
	"go.uber.org/zap"
)

// FileDigest is what the digest collaborator knows about one file.
type FileDigest struct {
	Path      string
	Digest    string
	Summary   json.RawMessage
	LineCount int
	Bytes     int
}

// DigestSource lists the current digests and colocated summaries of the
// working tree.
type DigestSource interface {
	Digests(ctx context.Context) ([]FileDigest, error)
}

// ErrNoState is returned by mutations before Ensure or Rebuild has run.
var ErrNoState = errors.New("no system state loaded")

// Store holds the current snapshot and persists each mutation before
// returning.
type Store struct {
	st      *storage.Store
	digests DigestSource
	logger  *zap.Logger
	current *SystemState
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// NewStore creates a state store over the given storage and digest source.
func NewStore(st *storage.Store, digests DigestSource, opts ...Option) *Store {
	s := &Store{st: st, digests: digests, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns a copy of the current snapshot, or nil.
func (s *Store) Current() *SystemState {
	if s.current == nil {
		return nil
	}
	return s.current.Clone()
}

// Ensure loads the latest snapshot from the transcript, or rebuilds one when
// the transcript has none. Pending changes and archive refs are then synced
// from metadata.
func (s *Store) Ensure(ctx context.Context) (*SystemState, error) {
	items, err := s.st.LoadTranscript()
	if err != nil {
		return nil, err
	}
	snap, _ := Lookup(items)
	if snap == nil {
		return s.Rebuild(ctx)
	}
	s.current = snap

	md, err := s.st.LoadMetadata()
	if err != nil {
		return nil, err
	}
	if sameJSON(snap.PendingChanges, md.PendingChanges) && sameJSON(snap.ConversationRefs, md.ConversationRefs) {
		return s.Current(), nil
	}
	if err := s.mutate(func(next *SystemState) {
		next.PendingChanges = changeset.Clone(md.PendingChanges)
		next.ConversationRefs = append([]storage.ArchivePointer(nil), md.ConversationRefs...)
	}); err != nil {
		return nil, err
	}
	return s.Current(), nil
}

// Rebuild discards all snapshots from the live transcript and writes a fresh
// one, built from the digest source, at its head. Other records keep their
// order.
func (s *Store) Rebuild(ctx context.Context) (*SystemState, error) {
	items, err := s.st.LoadTranscript()
	if err != nil {
		return nil, err
	}
	md, err := s.st.LoadMetadata()
	if err != nil {
		return nil, err
	}

	version := md.StateVersion
	if s.current != nil && s.current.Version > version {
		version = s.current.Version
	}
	if found, _ := Lookup(items); found != nil && found.Version > version {
		version = found.Version
	}

	next := NewSystemState(version + 1)
	next.PendingChanges = changeset.Clone(md.PendingChanges)
	next.ConversationRefs = append([]storage.ArchivePointer(nil), md.ConversationRefs...)

	digestMap := map[string]string{}
	if s.digests != nil {
		digests, err := s.digests.Digests(ctx)
		if err != nil {
			return nil, fmt.Errorf("collect digests: %w", err)
		}
		for _, d := range digests {
			lines := d.LineCount
			body := d.Summary
			if len(body) == 0 {
				body = json.RawMessage("null")
			}
			next.Files[d.Path] = FileView{
				Kind: KindSummary,
				Body: body,
				Meta: FileMeta{LineCount: &lines, Bytes: d.Bytes},
			}
			digestMap[d.Path] = d.Digest
		}
	}

	head, err := next.Item()
	if err != nil {
		return nil, err
	}
	retained := make([]llm.Item, 0, len(items)+1)
	retained = append(retained, head)
	for _, it := range items {
		if it.Kind != llm.KindSystemState {
			retained = append(retained, it)
		}
	}
	if err := s.st.ReplaceTranscript(retained); err != nil {
		return nil, err
	}

	md.StateVersion = next.Version
	md.PathToDigest = digestMap
	if err := s.st.SaveMetadata(md); err != nil {
		return nil, err
	}

	s.current = next
	s.logger.Info("rebuilt system state",
		zap.Int("version", next.Version),
		zap.Int("files", len(next.Files)),
		zap.Int("retained_items", len(retained)-1))
	return s.Current(), nil
}

// Promote marks path as full with the given text, persists the new snapshot,
// and returns its item. promoted is false when the path was already full, in
// which case nothing is written.
func (s *Store) Promote(ctx context.Context, path, content string, lineCount *int) (item llm.Item, promoted bool, err error) {
	if s.current == nil {
		return llm.Item{}, false, ErrNoState
	}
	if v, ok := s.current.Files[path]; ok && v.IsFull() {
		snap, err := s.current.Item()
		return snap, false, err
	}
	next := s.current.Clone()
	next.Promote(path, content, lineCount)
	item, err = s.persist(next)
	if err != nil {
		return llm.Item{}, false, err
	}
	s.logger.Debug("promoted file to full", zap.String("path", path), zap.Int("version", next.Version))
	return item, true, nil
}

// SetPendingChanges replaces the pending list in the snapshot.
func (s *Store) SetPendingChanges(pending []changeset.ChangeSpec) error {
	return s.mutate(func(next *SystemState) {
		next.PendingChanges = changeset.Clone(pending)
	})
}

// SetConversationRefs replaces the archive pointer list in the snapshot.
func (s *Store) SetConversationRefs(refs []storage.ArchivePointer) error {
	return s.mutate(func(next *SystemState) {
		next.ConversationRefs = append([]storage.ArchivePointer(nil), refs...)
	})
}

func (s *Store) mutate(fn func(next *SystemState)) error {
	if s.current == nil {
		return ErrNoState
	}
	next := s.current.Clone()
	fn(next)
	next.Version++
	_, err := s.persist(next)
	return err
}

func (s *Store) persist(next *SystemState) (llm.Item, error) {
	item, err := next.Item()
	if err != nil {
		return llm.Item{}, err
	}
	if err := s.st.AppendItem(item); err != nil {
		return llm.Item{}, fmt.Errorf("persist system state: %w", err)
	}
	s.current = next
	return item, nil
}

func sameJSON(a, b any) bool {
	x, errA := json.Marshal(a)
	y, errB := json.Marshal(b)
	return errA == nil && errB == nil && bytes.Equal(x, y)
}
