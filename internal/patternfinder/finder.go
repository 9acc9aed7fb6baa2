// Package patternfinder locates grok pattern files in pattern directories.
package patternfinder

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// EnvPatternsDir names an extra pattern directory (or an OS path-list of them)
// searched after the explicitly configured ones.
const EnvPatternsDir = "GROKFILTER_PATTERNS_DIR"

// DefaultGlob matches every file in a pattern directory.
const DefaultGlob = "*"

// Sentinel errors.
var (
	ErrPatternDirNotFound = errors.New("pattern directory not found")
	ErrInvalidGlob        = errors.New("invalid pattern file glob")
)

// Dirs returns explicit followed by the directories listed in EnvPatternsDir,
// with duplicates and empty entries removed.
func Dirs(explicit []string) []string {
	all := append([]string{}, explicit...)
	if env := os.Getenv(EnvPatternsDir); env != "" {
		all = append(all, filepath.SplitList(env)...)
	}

	seen := make(map[string]bool, len(all))
	out := make([]string, 0, len(all))
	for _, d := range all {
		d = strings.TrimSpace(d)
		if d == "" || seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	return out
}

// Find returns the regular files in dirs whose base name matches glob.
// Files are ordered directory by directory, then by name, so that later
// directories override earlier ones when loaded in order.
//
// A directory that does not exist returns ErrPatternDirNotFound.
func Find(dirs []string, glob string) ([]string, error) {
	if glob == "" {
		glob = DefaultGlob
	}
	if _, err := filepath.Match(glob, ""); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidGlob, glob)
	}

	var files []string
	for _, dir := range dirs {
		resolved, err := resolveDir(dir)
		if err != nil {
			return nil, err
		}

		matches, err := filepath.Glob(filepath.Join(resolved, glob))
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidGlob, glob)
		}

		found := make([]string, 0, len(matches))
		for _, m := range matches {
			info, err := os.Lstat(m)
			if err != nil || !info.Mode().IsRegular() {
				// Deleted since Glob, directories, symlinks and special files are skipped.
				continue
			}
			found = append(found, m)
		}
		sort.Strings(found)
		files = append(files, found...)
	}
	return files, nil
}

// resolveDir validates dir and resolves symlinks in it.
func resolveDir(dir string) (string, error) {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrPatternDirNotFound, filepath.Base(dir))
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrPatternDirNotFound, filepath.Base(dir))
	}
	return resolved, nil
}
