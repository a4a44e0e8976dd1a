package repo

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/martinemde/orion/agentloop"
	"github.com/spf13/afero"
)

// ErrInvalidDescription is returned for names that are not a file directly
// inside the descriptions directory.
var ErrInvalidDescription = errors.New("not a project description filename")

// Descriptions is a flat directory of dependency Project Descriptions. The
// cached summary of <name> lives at .orion/<name>.json and records the
// sha256 of the description under "h".
type Descriptions struct {
	fs   afero.Fs
	root string
}

// NewDescriptions creates a view over fs, whose "/" is the descriptions
// directory. root is only used for display.
func NewDescriptions(fs afero.Fs, root string) *Descriptions {
	return &Descriptions{fs: fs, root: root}
}

// OpenDescriptions opens a descriptions directory on the local disk.
func OpenDescriptions(dir string) (*Descriptions, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve external dir: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("external dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("external dir %s is not a directory", abs)
	}
	return NewDescriptions(afero.NewBasePathFs(afero.NewOsFs(), abs), abs), nil
}

// Root returns the display root.
func (d *Descriptions) Root() string { return d.root }

// List returns the description filenames, sorted. Subdirectories are
// skipped.
func (d *Descriptions) List(_ context.Context) ([]string, error) {
	entries, err := afero.ReadDir(d.fs, "/")
	if err != nil {
		return nil, fmt.Errorf("list project descriptions: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Summary returns the cached summary of name and whether it was built from
// a different version of the description. A missing summary is
// agentloop.ErrNoSummary.
func (d *Descriptions) Summary(name string) (json.RawMessage, bool, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, false, ErrInvalidDescription
	}
	pd, err := afero.ReadFile(d.fs, "/"+name)
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", name, err)
	}
	data, err := afero.ReadFile(d.fs, "/"+SummaryDir+"/"+name+".json")
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, agentloop.ErrNoSummary
	}
	if err != nil {
		return nil, false, err
	}
	var head struct {
		Hash string `json:"h"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, false, fmt.Errorf("summary for %s is not a JSON object", name)
	}
	sum := sha256.Sum256(pd)
	return json.RawMessage(data), head.Hash != hex.EncodeToString(sum[:]), nil
}
