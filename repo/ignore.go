package repo

import (
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/afero"
)

// IgnoreFile holds gitignore-style patterns that hide paths from every
// workspace operation.
const IgnoreFile = ".orionignore"

type ignoreRule struct {
	negated bool
	pattern string
}

// parseIgnore turns ignore file lines into doublestar patterns. A leading
// "/" anchors a pattern at the root, a trailing "/" matches everything
// below a directory, and "!" re-includes a path.
func parseIgnore(text string) []ignoreRule {
	var rules []ignoreRule
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		negated := false
		if strings.HasPrefix(line, "!") {
			negated = true
			line = strings.TrimSpace(line[1:])
			if line == "" {
				continue
			}
		}
		rooted := strings.HasPrefix(line, "/")
		line = strings.TrimLeft(line, "/")
		dirOnly := strings.HasSuffix(line, "/")
		line = strings.TrimRight(line, "/")

		pat := line
		if dirOnly {
			pat += "/**"
		}
		if !rooted {
			if pat == "" {
				pat = "**"
			} else {
				pat = "**/" + pat
			}
		}
		if !doublestar.ValidatePattern(pat) {
			continue
		}
		rules = append(rules, ignoreRule{negated: negated, pattern: pat})
	}
	return rules
}

// matchIgnore applies rules in order; the last match wins.
func matchIgnore(rules []ignoreRule, rel string) bool {
	ignored := false
	for _, r := range rules {
		if ok, _ := doublestar.Match(r.pattern, rel); ok {
			ignored = !r.negated
		}
	}
	return ignored
}

// ignoreCache reloads the ignore file when its modification time changes.
type ignoreCache struct {
	modTime time.Time
	exists  bool
	rules   []ignoreRule
}

func (c *ignoreCache) load(fs afero.Fs) []ignoreRule {
	info, err := fs.Stat("/" + IgnoreFile)
	if err != nil {
		c.exists = false
		c.rules = nil
		return nil
	}
	if c.exists && info.ModTime().Equal(c.modTime) {
		return c.rules
	}
	data, err := afero.ReadFile(fs, "/"+IgnoreFile)
	if err != nil {
		data = nil
	}
	c.exists = true
	c.modTime = info.ModTime()
	c.rules = parseIgnore(string(data))
	return c.rules
}
