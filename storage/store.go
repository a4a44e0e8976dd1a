// Package storage persists the metadata document and the append-only
// conversation transcript.
package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/martinemde/orion/llm"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	// DirName is the metadata directory at the repository root.
	DirName = ".orion"
	// MetadataFile holds plan state, pending changes, and counters.
	MetadataFile = "orion-metadata.json"
	// TranscriptFile is the live conversation transcript.
	TranscriptFile = "orion-conversation.jsonl"
)

const maxTranscriptLine = 64 << 20

// Store reads and writes the files under the metadata directory.
type Store struct {
	fs     afero.Fs
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates a store for the metadata directory under root.
func New(fs afero.Fs, root string, opts ...Option) *Store {
	s := &Store{
		fs:     fs,
		dir:    filepath.Join(root, DirName),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the metadata directory.
func (s *Store) Dir() string { return s.dir }

// TranscriptPath returns the live transcript path.
func (s *Store) TranscriptPath() string { return filepath.Join(s.dir, TranscriptFile) }

func (s *Store) metadataPath() string { return filepath.Join(s.dir, MetadataFile) }

// Now returns the store clock's current time.
func (s *Store) Now() time.Time { return s.now() }

// LoadMetadata reads the metadata document. A missing or unreadable document
// yields the defaults.
func (s *Store) LoadMetadata() (*Metadata, error) {
	data, err := afero.ReadFile(s.fs, s.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultMetadata(), nil
		}
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	md := &Metadata{}
	if err := json.Unmarshal(data, md); err != nil {
		s.logger.Warn("metadata is not valid JSON; using defaults", zap.Error(err))
		return DefaultMetadata(), nil
	}
	md.normalize()
	return md, nil
}

// SaveMetadata writes the metadata document atomically.
func (s *Store) SaveMetadata(md *Metadata) error {
	md.normalize()
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	return s.writeAtomic(s.metadataPath(), append(data, '\n'))
}

// UpdateMetadata loads the document, applies fn, and saves the result.
func (s *Store) UpdateMetadata(fn func(md *Metadata) error) (*Metadata, error) {
	md, err := s.LoadMetadata()
	if err != nil {
		return nil, err
	}
	if err := fn(md); err != nil {
		return nil, err
	}
	if err := s.SaveMetadata(md); err != nil {
		return nil, err
	}
	return md, nil
}

// AppendItem writes one record to the end of the transcript and syncs it.
// Items without a timestamp are stamped with the store clock.
func (s *Store) AppendItem(item llm.Item) error {
	if item.Timestamp == 0 {
		item.Timestamp = unixSeconds(s.now())
	}
	line, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode transcript item: %w", err)
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	f, err := s.fs.OpenFile(s.TranscriptPath(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("append transcript: %w", err)
	}
	return f.Sync()
}

// LoadTranscript returns every decodable record of the live transcript.
// Blank and malformed lines are skipped.
func (s *Store) LoadTranscript() ([]llm.Item, error) {
	return s.readTranscript(s.TranscriptPath())
}

// LoadArchive reads a rotated transcript by file name.
func (s *Store) LoadArchive(filename string) ([]llm.Item, error) {
	return s.readTranscript(filepath.Join(s.dir, filepath.Base(filename)))
}

func (s *Store) readTranscript(path string) ([]llm.Item, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var items []llm.Item
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxTranscriptLine)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var it llm.Item
		if err := json.Unmarshal(line, &it); err != nil {
			s.logger.Warn("skipping transcript line", zap.Int("line", lineNo), zap.Error(err))
			continue
		}
		items = append(items, it)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}
	return items, nil
}

// ReplaceTranscript atomically rewrites the live transcript.
func (s *Store) ReplaceTranscript(items []llm.Item) error {
	var buf bytes.Buffer
	for _, it := range items {
		if it.Timestamp == 0 {
			it.Timestamp = unixSeconds(s.now())
		}
		line, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode transcript item: %w", err)
		}
		buf.Write(line)
		buf.WriteByte('\n')
	}
	return s.writeAtomic(s.TranscriptPath(), buf.Bytes())
}

// RotateTranscript renames the live transcript to
// <stem>-<unix-seconds>.bak.jsonl and returns the new file name. It returns
// "" when there is no live transcript.
func (s *Store) RotateTranscript() (string, error) {
	live := s.TranscriptPath()
	ok, err := afero.Exists(s.fs, live)
	if err != nil {
		return "", fmt.Errorf("stat transcript: %w", err)
	}
	if !ok {
		return "", nil
	}
	stem := strings.TrimSuffix(TranscriptFile, filepath.Ext(TranscriptFile))
	base := fmt.Sprintf("%s-%d", stem, s.now().Unix())
	name := base + ".bak.jsonl"
	for i := 1; ; i++ {
		exists, err := afero.Exists(s.fs, filepath.Join(s.dir, name))
		if err != nil {
			return "", fmt.Errorf("stat archive: %w", err)
		}
		if !exists {
			break
		}
		name = fmt.Sprintf("%s-%d.bak.jsonl", base, i)
	}
	if err := s.fs.Rename(live, filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("rotate transcript: %w", err)
	}
	return name, nil
}

// writeAtomic writes data to a temporary file in the target directory,
// syncs it, and renames it over path.
func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := s.fs.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
