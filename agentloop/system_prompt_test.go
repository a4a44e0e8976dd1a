package agentloop

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/spf13/afero"
)

func TestDiscoverProjectDocs(t *testing.T) {
	fs := afero.NewMemMapFs()
	if got := DiscoverProjectDocs(fs); got != "" {
		t.Errorf("empty fs: got %q", got)
	}

	afero.WriteFile(fs, "/AGENTS.md", []byte("Use tabs."), 0o644)
	afero.WriteFile(fs, "/ORION.md", []byte("Keep files short."), 0o644)
	afero.WriteFile(fs, "/README.md", []byte("not loaded"), 0o644)

	got := DiscoverProjectDocs(fs)
	want := "# AGENTS.md\n\nUse tabs.\n\n---\n\n# ORION.md\n\nKeep files short."
	if got != want {
		t.Errorf("DiscoverProjectDocs = %q, want %q", got, want)
	}
}

func TestDiscoverProjectDocsTruncates(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/AGENTS.md", []byte(strings.Repeat("x", maxProjectDocBytes+100)), 0o644)
	afero.WriteFile(fs, "/ORION.md", []byte("dropped"), 0o644)

	got := DiscoverProjectDocs(fs)
	if strings.Contains(got, "dropped") {
		t.Error("second doc should not fit")
	}
	if n := strings.Count(got, "[Project instructions truncated at 32KB]"); n != 2 {
		t.Errorf("truncation markers = %d, want 2", n)
	}
	if n := strings.Count(got, "x"); n != maxProjectDocBytes {
		t.Errorf("kept %d bytes of AGENTS.md, want %d", n, maxProjectDocBytes)
	}
}

func TestDiscoverProjectDocsCutsOnRuneBoundary(t *testing.T) {
	fs := afero.NewMemMapFs()
	afero.WriteFile(fs, "/AGENTS.md", []byte("a"+strings.Repeat("é", maxProjectDocBytes)), 0o644)

	got := DiscoverProjectDocs(fs)
	if !utf8.ValidString(got) {
		t.Fatal("truncated instructions are not valid UTF-8")
	}
	if n := strings.Count(got, "é"); n != (maxProjectDocBytes-2)/2 {
		t.Errorf("kept %d runes, want %d", n, (maxProjectDocBytes-2)/2)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	got := BuildSystemPrompt("  base  ", "", "\n", "docs")
	if got != "base\n\ndocs" {
		t.Errorf("BuildSystemPrompt = %q", got)
	}
}

func TestBuildEnvironmentContext(t *testing.T) {
	now := time.Date(2025, 3, 4, 0, 0, 0, 0, time.UTC)
	got := BuildEnvironmentContext("", "gpt-5", now)
	for _, want := range []string{
		"Working directory: \n",
		"Is git repository: false\n",
		"Today's date: 2025-03-04\n",
		"Model: gpt-5\n",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("environment context missing %q:\n%s", want, got)
		}
	}
	if strings.Contains(got, "Git branch") {
		t.Error("no branch expected without a working directory")
	}
}
