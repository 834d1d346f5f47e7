package sync

import (
	ignore "github.com/sabhiram/go-gitignore"
)

// Excluder decides which relative paths are left out of mirroring. Excluded
// source paths are never copied, and excluded replica paths are never
// deleted. A nil Excluder excludes nothing.
type Excluder struct {
	patterns []string
	ignore   *ignore.GitIgnore
}

// NewExcluder compiles gitignore-style patterns, e.g. ".git/" or "*.tmp".
// It returns nil if there are no patterns.
func NewExcluder(patterns []string) *Excluder {
	if len(patterns) == 0 {
		return nil
	}

	return &Excluder{
		patterns: append([]string{}, patterns...),
		ignore:   ignore.CompileIgnoreLines(patterns...),
	}
}

// Excludes returns whether the slash separated relative path should be
// skipped.
func (e *Excluder) Excludes(relPath string, isDir bool) bool {
	if e == nil || relPath == "." {
		return false
	}

	if e.ignore.MatchesPath(relPath) {
		return true
	}

	// Patterns with a trailing slash only match directories.
	return isDir && e.ignore.MatchesPath(relPath+"/")
}

// Patterns returns the patterns the Excluder was compiled from.
func (e *Excluder) Patterns() []string {
	if e == nil {
		return nil
	}
	return append([]string{}, e.patterns...)
}
