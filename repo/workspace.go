// Package repo gives the workbench safe access to the working tree: path
// resolution confined to the repository root, file listing that skips
// internal and ignored files, colocated summaries, and content digests.
package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/martinemde/orion/agentloop"
	"github.com/martinemde/orion/changeset"
	"github.com/martinemde/orion/state"
	"github.com/martinemde/orion/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultSummaryMaxBytes is the largest file that gets a digest.
const DefaultSummaryMaxBytes = 2_000_000

// SummaryDir is the directory next to a source file that holds its summary.
const SummaryDir = ".orion"

var (
	// ErrEscapesRoot is returned for paths outside the repository.
	ErrEscapesRoot = errors.New("path escapes repo root")
	// ErrIgnored is returned for paths blocked by the ignore file.
	ErrIgnored = errors.New("path is blocked by " + IgnoreFile)
	// ErrInternal is returned for the workbench's own state files.
	ErrInternal = errors.New("path is internal to orion")
)

// Workspace is a repository working tree. All paths it accepts and returns
// are repo-relative POSIX paths.
type Workspace struct {
	fs              afero.Fs
	root            string
	summaryMaxBytes int64
	ignore          ignoreCache
	logger          *zap.Logger
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithSummaryMaxBytes sets the size above which files get no digest.
func WithSummaryMaxBytes(n int64) Option {
	return func(w *Workspace) {
		if n > 0 {
			w.summaryMaxBytes = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Workspace) {
		w.logger = l
	}
}

// New creates a workspace over fs, whose "/" is the repository root. root
// is only used for display.
func New(fs afero.Fs, root string, opts ...Option) *Workspace {
	w := &Workspace{
		fs:              fs,
		root:            root,
		summaryMaxBytes: DefaultSummaryMaxBytes,
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NewOS creates a workspace rooted at a directory on the local disk.
func NewOS(root string, opts ...Option) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve repo root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("repo root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repo root %s is not a directory", abs)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), abs), abs, opts...), nil
}

// Root returns the display root.
func (w *Workspace) Root() string { return w.root }

// Fs returns the rooted filesystem.
func (w *Workspace) Fs() afero.Fs { return w.fs }

// Resolve normalizes rel and returns its location on the rooted filesystem.
func (w *Workspace) Resolve(rel string) (string, error) {
	clean := changeset.NormalizePath(rel)
	if clean == "" || clean == "." {
		return "", fmt.Errorf("%w: empty path", ErrEscapesRoot)
	}
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %s", ErrEscapesRoot, rel)
	}
	if isInternal(clean) || clean == ".git" || strings.HasPrefix(clean, ".git/") {
		return "", fmt.Errorf("%w: %s", ErrInternal, clean)
	}
	if matchIgnore(w.ignore.load(w.fs), clean) {
		return "", fmt.Errorf("%w: %s", ErrIgnored, clean)
	}
	return "/" + clean, nil
}

// Exists reports whether rel names an existing regular file.
func (w *Workspace) Exists(rel string) bool {
	p, err := w.Resolve(rel)
	if err != nil {
		return false
	}
	info, err := w.fs.Stat(p)
	return err == nil && !info.IsDir()
}

// ReadFile returns the contents of rel.
func (w *Workspace) ReadFile(rel string) (string, error) {
	p, err := w.Resolve(rel)
	if err != nil {
		return "", err
	}
	data, err := afero.ReadFile(w.fs, p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteFile replaces the contents of rel, creating parent directories.
func (w *Workspace) WriteFile(rel, content string) error {
	p, err := w.Resolve(rel)
	if err != nil {
		return err
	}
	if err := w.fs.MkdirAll(path.Dir(p), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", rel, err)
	}
	return afero.WriteFile(w.fs, p, []byte(content), 0o644)
}

// ListPaths walks the tree and returns every visible file, sorted. .git
// and .orion directories, internal state files, and ignored paths are
// skipped.
func (w *Workspace) ListPaths(ctx context.Context) ([]string, error) {
	rules := w.ignore.load(w.fs)
	var paths []string
	err := afero.Walk(w.fs, "/", func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			name := info.Name()
			if p != "/" && (name == ".git" || name == SummaryDir) {
				return filepath.SkipDir
			}
			return nil
		}
		rel := strings.TrimPrefix(filepath.ToSlash(p), "/")
		if isInternal(rel) || matchIgnore(rules, rel) {
			return nil
		}
		paths = append(paths, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func isInternal(rel string) bool {
	if strings.HasSuffix(rel, storage.MetadataFile) || strings.HasSuffix(rel, storage.TranscriptFile) {
		return true
	}
	for _, part := range strings.Split(rel, "/") {
		if part == SummaryDir {
			return true
		}
	}
	return false
}

// SummaryPath returns the colocated summary location of rel: a/b/c.ext
// maps to a/b/.orion/c.ext.json.
func SummaryPath(rel string) string {
	clean := changeset.NormalizePath(rel)
	return path.Join(path.Dir(clean), SummaryDir, path.Base(clean)+".json")
}

// Summary returns the colocated summary document of rel.
func (w *Workspace) Summary(rel string) (json.RawMessage, error) {
	if _, err := w.Resolve(rel); err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(w.fs, "/"+SummaryPath(rel))
	if errors.Is(err, os.ErrNotExist) {
		return nil, agentloop.ErrNoSummary
	}
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("summary for %s is not valid JSON", rel)
	}
	return json.RawMessage(data), nil
}

// Digests implements state.DigestSource. Files larger than the summary cap
// are listed with their size only.
func (w *Workspace) Digests(ctx context.Context) ([]state.FileDigest, error) {
	paths, err := w.ListPaths(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]state.FileDigest, 0, len(paths))
	skipped := 0
	for _, rel := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		info, err := w.fs.Stat("/" + rel)
		if err != nil {
			continue
		}
		d := state.FileDigest{Path: rel, Bytes: int(info.Size())}
		if info.Size() <= w.summaryMaxBytes {
			data, err := afero.ReadFile(w.fs, "/"+rel)
			if err != nil {
				continue
			}
			sum := sha256.Sum256(data)
			d.Digest = hex.EncodeToString(sum[:])
			d.LineCount = state.CountLines(string(data))
		} else {
			skipped++
		}
		if summary, err := w.Summary(rel); err == nil {
			d.Summary = summary
		}
		out = append(out, d)
	}
	w.logger.Debug("computed digests", zap.Int("files", len(out)), zap.Int("skipped_large", skipped))
	return out, nil
}
