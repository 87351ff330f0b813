// Package discover finds input files under a data tree.
package discover

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultPattern matches every JSON file at any depth.
const DefaultPattern = "**/*.json"

// JSONFiles returns the regular files under root that match pattern (a
// doublestar glob relative to root; empty means DefaultPattern), sorted
// lexically so runs process files in a stable order.
//
// Errors:
//   - root missing or not a directory.
//   - invalid pattern.
func JSONFiles(root, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("discover: invalid pattern %q", pattern)
	}

	fi, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("discover: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("discover: %s is not a directory", root)
	}

	matches, err := doublestar.Glob(os.DirFS(root), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("discover: glob %s in %s: %w", pattern, root, err)
	}

	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, filepath.Join(root, filepath.FromSlash(m)))
	}
	sort.Strings(out)
	return out, nil
}
