// Package archive rotates the live transcript after an apply and records a
// compact pointer to the rotated file.
package archive

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/martinemde/orion/llm"
	"github.com/martinemde/orion/storage"
	"go.uber.org/zap"
)

// DefaultCap bounds the archive pointer list.
const DefaultCap = 200

// Summarizer condenses a filtered transcript into a short synopsis.
type Summarizer interface {
	Synopsis(ctx context.Context, items []llm.Item) (string, error)
}

// Archiver owns transcript rotation.
type Archiver struct {
	st         *storage.Store
	summarizer Summarizer
	cap        int
	newID      func() string
	logger     *zap.Logger
}

// Option configures an Archiver.
type Option func(*Archiver)

// WithCap sets the maximum number of retained pointers.
func WithCap(n int) Option {
	return func(a *Archiver) {
		if n > 0 {
			a.cap = n
		}
	}
}

// WithIDFunc replaces the pointer id generator.
func WithIDFunc(fn func() string) Option {
	return func(a *Archiver) {
		a.newID = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Archiver) {
		a.logger = l
	}
}

// New creates an archiver. summarizer may be nil, in which case the
// fallback synopsis is always used.
func New(st *storage.Store, summarizer Summarizer, opts ...Option) *Archiver {
	a := &Archiver{
		st:         st,
		summarizer: summarizer,
		cap:        DefaultCap,
		newID:      uuid.NewString,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Archive marks the apply in the transcript, summarizes the conversation,
// rotates the transcript file, and appends a pointer to the metadata. A
// failing summarizer does not stop the rotation. It returns nil when there
// was no live transcript to rotate.
func (a *Archiver) Archive(ctx context.Context, writtenPaths []string, changeCount int) (*storage.ArchivePointer, error) {
	if err := a.st.AppendItem(llm.ApplyMarker(writtenPaths)); err != nil {
		return nil, fmt.Errorf("append apply marker: %w", err)
	}
	items, err := a.st.LoadTranscript()
	if err != nil {
		return nil, err
	}
	synopsis := a.synopsis(ctx, Conversational(items), changeCount)

	filename, err := a.st.RotateTranscript()
	if err != nil {
		return nil, err
	}
	if filename == "" {
		return nil, nil
	}

	ptr := storage.ArchivePointer{
		ID:        a.newID(),
		Timestamp: a.st.Now().UTC(),
		Filename:  filename,
		Synopsis:  synopsis,
	}
	_, err = a.st.UpdateMetadata(func(md *storage.Metadata) error {
		md.ConversationRefs = Bound(append(md.ConversationRefs, ptr), a.cap)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record archive pointer: %w", err)
	}
	a.logger.Info("archived conversation",
		zap.String("filename", filename),
		zap.Int("paths", len(writtenPaths)),
		zap.Int("records", len(items)))
	return &ptr, nil
}

func (a *Archiver) synopsis(ctx context.Context, items []llm.Item, changeCount int) string {
	fallback := Fallback(changeCount)
	if a.summarizer == nil {
		return fallback
	}
	s, err := a.summarizer.Synopsis(ctx, items)
	if err != nil {
		a.logger.Warn("synopsis failed; using fallback", zap.Error(err))
		return fallback
	}
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}

// Fallback is the synopsis used when summarization fails.
func Fallback(changeCount int) string {
	return fmt.Sprintf("Applied %d change(s)", changeCount)
}

// Conversational keeps user, assistant, and apply records.
func Conversational(items []llm.Item) []llm.Item {
	out := make([]llm.Item, 0, len(items))
	for _, it := range items {
		switch it.Kind {
		case llm.KindUserMessage, llm.KindAssistantMessage, llm.KindApply:
			out = append(out, it)
		}
	}
	return out
}

// Bound drops the oldest pointers beyond limit.
func Bound(refs []storage.ArchivePointer, limit int) []storage.ArchivePointer {
	if limit <= 0 || len(refs) <= limit {
		return refs
	}
	out := make([]storage.ArchivePointer, limit)
	copy(out, refs[len(refs)-limit:])
	return out
}
