package toolsurface

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/ShirasawaTopaz/order/internal/safety"
)

// skippedDirs are well-known build/VCS directories never worth searching.
// An explicitly-named search root is honored even if it is one of these.
var skippedDirs = map[string]bool{
	".git":         true,
	".hg":          true,
	".svn":         true,
	".order":       true,
	"node_modules": true,
	"vendor":       true,
	"target":       true,
	"dist":         true,
	"build":        true,
}

// search scans workspace files for a literal keyword and returns matches in
// path:line:content form, bounded by the file-count and match-count caps.
func (d *Dispatcher) search(relRoot, keyword string) (string, error) {
	if strings.TrimSpace(keyword) == "" {
		return "", fmt.Errorf("search keyword must not be empty")
	}

	root := d.WorkspaceRoot
	if strings.TrimSpace(relRoot) != "" {
		resolved, err := safety.ResolveWorkspaceRelativePath(d.WorkspaceRoot, relRoot)
		if err != nil {
			return "", err
		}
		if err := safety.EnsureNoSymlinkInExistingPath(d.WorkspaceRoot, resolved); err != nil {
			return "", err
		}
		root = resolved
	}

	var matches []string
	filesVisited := 0
	truncated := false

	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if entry.IsDir() {
			// The explicit root is searched even when it names a skipped dir.
			if path != root && skippedDirs[entry.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if entry.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		filesVisited++
		if filesVisited > safety.MaxSearchFiles {
			truncated = true
			return filepath.SkipAll
		}

		info, infoErr := entry.Info()
		if infoErr != nil || info.Size() > safety.MaxSearchFileBytes {
			return nil
		}

		raw, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(d.WorkspaceRoot, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)

		for i, line := range strings.Split(string(raw), "\n") {
			if !strings.Contains(line, keyword) {
				continue
			}
			matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, i+1, strings.TrimRight(line, "\r")))
			if len(matches) >= safety.MaxSearchResults {
				truncated = true
				return filepath.SkipAll
			}
		}
		return nil
	})
	if walkErr != nil {
		return "", walkErr
	}

	if len(matches) == 0 {
		return "no matches", nil
	}
	result := strings.Join(matches, "\n")
	if truncated {
		result += fmt.Sprintf("\n..search stopped at %d matches / %d files..", len(matches), filesVisited)
	}
	return result, nil
}
