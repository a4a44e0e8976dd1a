package agentloop

import (
	"context"
	"errors"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/martinemde/orion/changeset"
	"github.com/martinemde/orion/state"
)

// Result caps and defaults used by the core tools.
const (
	MaxListedPaths       = 2000
	DefaultSnippetLines  = 200
	DefaultSearchResults = 100
)

// CoreTools returns the repository tools backed by ws. ui may be nil, in
// which case ask_user reports that no user is available.
func CoreTools(ws Workspace, ui Prompter) []Tool {
	return []Tool{
		listPathsTool(ws),
		readFileTool(ws),
		snippetTool(ws),
		summaryTool(ws),
		searchTool(ws),
		askUserTool(ui),
	}
}

// NewCoreRegistry builds a registry holding the core tools plus any extras.
func NewCoreRegistry(ws Workspace, ui Prompter, extra ...Tool) (*Registry, error) {
	return NewRegistry(append(CoreTools(ws, ui), extra...)...)
}

// DescriptionTools returns the tools that read dependency Project
// Descriptions from src.
func DescriptionTools(src DescriptionSource) []Tool {
	return []Tool{
		{
			Name:        "list_project_descriptions",
			Description: "List dependency Project Descriptions (filenames) from the external directory.",
			Handler: func(ctx context.Context, _ Args) Result {
				names, err := src.List(ctx)
				if err != nil {
					return Errorf("list_pds failed: %v", err)
				}
				return OK(map[string]any{"filenames": names})
			},
		},
		{
			Name:        "get_project_orion_summary",
			Description: "Return the cached Project Orion Summary for a Project Description filename.",
			Params: []Param{
				{Name: "filename", Type: TypeString, Description: "Filename returned by list_project_descriptions.", Required: true},
			},
			Handler: func(_ context.Context, args Args) Result {
				name, _ := args.String("filename")
				if name == "" {
					return Errorf("filename required")
				}
				summary, stale, err := src.Summary(name)
				if errors.Is(err, ErrNoSummary) {
					return Errorf("no POS available for %s", name)
				}
				if err != nil {
					return Errorf("get_pos failed for %s: %v", name, err)
				}
				return OK(map[string]any{"filename": name, "summary": summary, "stale": stale})
			},
		},
	}
}

type pathList struct {
	Paths []string `json:"paths"`
}

func listPathsTool(ws Workspace) Tool {
	return Tool{
		Name:        "list_paths",
		Description: "List repository files; optionally filter by glob.",
		Params: []Param{
			{Name: "glob", Type: TypeString, Description: "Glob pattern such as \"**/*.go\"."},
		},
		Handler: func(ctx context.Context, args Args) Result {
			paths, err := ws.ListPaths(ctx)
			if err != nil {
				return Errorf("list paths: %v", err)
			}
			if glob, _ := args.String("glob"); glob != "" {
				if !doublestar.ValidatePattern(glob) {
					return Errorf("invalid glob: %s", glob)
				}
				var matched []string
				for _, p := range paths {
					if ok, _ := doublestar.Match(glob, p); ok {
						matched = append(matched, p)
					}
				}
				paths = matched
			}
			if len(paths) > MaxListedPaths {
				paths = paths[:MaxListedPaths]
			}
			if paths == nil {
				paths = []string{}
			}
			return OK(pathList{Paths: paths})
		},
	}
}

func readFileTool(ws Workspace) Tool {
	return Tool{
		Name:        ReadFileTool,
		Description: "Return full contents for a file.",
		Params: []Param{
			{Name: "path", Type: TypeString, Description: "Repository-relative path.", Required: true},
		},
		Handler: func(_ context.Context, args Args) Result {
			p, _ := args.String("path")
			p = changeset.NormalizePath(p)
			content, err := ws.ReadFile(p)
			if err != nil {
				return Errorf("Could not read %s", p)
			}
			return OK(FileContents{Path: p, Content: content, LineCount: state.CountLines(content)})
		},
	}
}

// Snippet is the payload of get_file_snippet. Line numbers are 1-based and
// inclusive.
type Snippet struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content"`
}

func snippetTool(ws Workspace) Tool {
	return Tool{
		Name:        "get_file_snippet",
		Description: "Return an inclusive [start_line, end_line] snippet from a file.",
		Params: []Param{
			{Name: "path", Type: TypeString, Description: "Repository-relative path.", Required: true},
			{Name: "start_line", Type: TypeInteger, Description: "First line, 1-based. Default: 1."},
			{Name: "end_line", Type: TypeInteger, Description: "Last line, inclusive. Default: start_line + 200."},
		},
		Handler: func(_ context.Context, args Args) Result {
			p, _ := args.String("path")
			p = changeset.NormalizePath(p)
			content, err := ws.ReadFile(p)
			if err != nil {
				return Errorf("Could not read %s", p)
			}
			start, ok := args.Int("start_line")
			if !ok {
				start = 1
			}
			end, ok := args.Int("end_line")
			if !ok {
				end = start + DefaultSnippetLines
			}
			return OK(cutSnippet(p, content, start, end))
		},
	}
}

func cutSnippet(p, content string, start, end int) Snippet {
	lines := splitLines(content)
	if start < 1 {
		start = 1
	}
	if end < start {
		end = start
	}
	if end > len(lines) {
		end = len(lines)
	}
	s := Snippet{Path: p, StartLine: start, EndLine: end}
	if start <= end {
		s.Content = strings.Join(lines[start-1:end], "\n")
	}
	return s
}

func splitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	return lines
}

func summaryTool(ws Workspace) Tool {
	return Tool{
		Name:        "get_summary",
		Description: "Return a brief machine-oriented summary for a local repo file, if available.",
		Params: []Param{
			{Name: "path", Type: TypeString, Description: "Repository-relative path.", Required: true},
		},
		Handler: func(_ context.Context, args Args) Result {
			p, _ := args.String("path")
			p = changeset.NormalizePath(p)
			summary, err := ws.Summary(p)
			if errors.Is(err, ErrNoSummary) {
				return Errorf("no summary available for %s", p)
			}
			if err != nil {
				return Errorf("summary error for %s: %v", p, err)
			}
			return OK(map[string]any{
				"path":       p,
				"summary":    summary,
				"_meta_note": "summary returned (colocated)",
			})
		},
	}
}

type searchMatch struct {
	Path string `json:"path"`
}

type searchResult struct {
	Matches []searchMatch `json:"matches"`
}

func searchTool(ws Workspace) Tool {
	return Tool{
		Name:        "search_code",
		Description: "Search files for a substring; returns paths.",
		Params: []Param{
			{Name: "query", Type: TypeString, Description: "Case-insensitive substring.", Required: true},
			{Name: "max_results", Type: TypeInteger, Description: "Maximum number of matches. Default: 100."},
		},
		Handler: func(ctx context.Context, args Args) Result {
			q, _ := args.String("query")
			q = strings.ToLower(q)
			res := searchResult{Matches: []searchMatch{}}
			if q == "" {
				return OK(res)
			}
			limit, ok := args.Int("max_results")
			if !ok || limit <= 0 {
				limit = DefaultSearchResults
			}
			paths, err := ws.ListPaths(ctx)
			if err != nil {
				return Errorf("list paths: %v", err)
			}
			for _, p := range paths {
				if ctx.Err() != nil {
					break
				}
				content, err := ws.ReadFile(p)
				if err != nil {
					continue
				}
				if strings.Contains(strings.ToLower(content), q) {
					res.Matches = append(res.Matches, searchMatch{Path: p})
					if len(res.Matches) >= limit {
						break
					}
				}
			}
			return OK(res)
		},
	}
}

func askUserTool(ui Prompter) Tool {
	return Tool{
		Name:        "ask_user",
		Description: "Ask the user for a clarification.",
		Params: []Param{
			{Name: "prompt", Type: TypeString, Description: "Question to show the user.", Required: true},
		},
		Handler: func(_ context.Context, args Args) Result {
			if ui == nil {
				return Errorf("no interactive user available")
			}
			prompt, _ := args.String("prompt")
			ui.SendToUser("Model asks: " + prompt)
			ui.SendToUser("Enter a response (or leave empty to cancel): ")
			answer, err := ui.ReadLine()
			if err != nil {
				answer = ""
			}
			return OK(map[string]string{"answer": strings.TrimSpace(answer)})
		},
	}
}
