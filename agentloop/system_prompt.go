package agentloop

import (
	"fmt"
	"os/exec"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"
)

const maxProjectDocBytes = 32 * 1024 // 32KB

// ProjectDocFiles are instruction files loaded from the repository root.
var ProjectDocFiles = []string{"AGENTS.md", "ORION.md"}

// BuildEnvironmentContext generates the structured environment context block.
func BuildEnvironmentContext(workingDir, model string, now time.Time) string {
	gitBranch := getGitBranch(workingDir)

	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workingDir)
	fmt.Fprintf(&sb, "Is git repository: %v\n", gitBranch != "")
	if gitBranch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", gitBranch)
	}
	fmt.Fprintf(&sb, "Today's date: %s\n", now.Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads the project instruction files found at the root
// of fs, capped at 32KB in total.
func DiscoverProjectDocs(fs afero.Fs) string {
	var docs []string
	totalBytes := 0

	for _, fileName := range ProjectDocFiles {
		content, err := afero.ReadFile(fs, path.Join("/", fileName))
		if err != nil {
			continue
		}

		remaining := maxProjectDocBytes - totalBytes
		if remaining <= 0 {
			docs = append(docs, "[Project instructions truncated at 32KB]")
			break
		}

		text := string(content)
		if len(text) > remaining {
			cut := remaining
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			text = text[:cut] + "\n[Project instructions truncated at 32KB]"
		}
		docs = append(docs, "# "+fileName+"\n\n"+text)
		totalBytes += len(text)
	}

	return strings.Join(docs, "\n\n---\n\n")
}

// BuildSystemPrompt joins the non-empty prompt sections.
func BuildSystemPrompt(sections ...string) string {
	var parts []string
	for _, s := range sections {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func getGitBranch(dir string) string {
	if dir == "" {
		return ""
	}
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
