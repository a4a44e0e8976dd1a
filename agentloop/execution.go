package agentloop

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoSummary is returned by Workspace.Summary when no colocated summary
// exists for a file.
var ErrNoSummary = errors.New("no summary available")

// Workspace abstracts the repository the tools read from.
type Workspace interface {
	// ListPaths returns every visible file as a sorted, repo-relative POSIX
	// path.
	ListPaths(ctx context.Context) ([]string, error)

	// ReadFile returns the contents of a repo-relative path. Paths that escape
	// the repository root or are ignored must fail.
	ReadFile(path string) (string, error)

	// Summary returns the stored summary document of a file or ErrNoSummary.
	Summary(path string) (json.RawMessage, error)
}

// Prompter is the interactive surface used by ask_user.
type Prompter interface {
	SendToUser(msg string)
	ReadLine() (string, error)
}

// DescriptionSource is a directory of dependency Project Descriptions with
// cached summaries.
type DescriptionSource interface {
	List(ctx context.Context) ([]string, error)

	// Summary returns the cached summary of a description and whether it is
	// stale, or ErrNoSummary.
	Summary(name string) (json.RawMessage, bool, error)
}
