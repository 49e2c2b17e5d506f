// Package safety implements the Safety Stage Journal (C8) and the Snapshot
// & Rollback (C9) components, plus the workspace-relative path-safety rules
// shared with the Tool Dispatch Surface (C10).
package safety

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/ShirasawaTopaz/order/internal/agenterr"
)

// Size and count limits enforced by the tool dispatch surface and the
// safety journal alike.
const (
	MaxReadBytes       = 512 * 1024
	MaxWriteBytes      = 1024 * 1024
	MaxSearchFileBytes = 1024 * 1024
	MaxSearchResults   = 200
	MaxSearchFiles     = 2000
)

// WorkspaceRoot returns the process's current working directory, the root
// against which every tool-surface and safety-journal path is resolved.
func WorkspaceRoot() (string, error) {
	root, err := os.Getwd()
	if err != nil {
		return "", &agenterr.FilesystemRefusal{Reason: "failed to determine workspace root: " + err.Error()}
	}
	return root, nil
}

// ResolveWorkspaceRelativePath resolves userPath against root, refusing
// absolute paths, drive-letter/UNC-style prefixes, and any ".." that would
// escape the workspace root.
func ResolveWorkspaceRelativePath(root, userPath string) (string, error) {
	trimmed := strings.TrimSpace(userPath)
	if trimmed == "" {
		return "", &agenterr.FilesystemRefusal{Reason: "path must not be empty"}
	}

	if filepath.IsAbs(trimmed) || isWindowsDriveOrUNC(trimmed) {
		return "", &agenterr.FilesystemRefusal{
			Reason: "absolute, drive-letter, or UNC paths are not allowed; pass a workspace-relative path",
		}
	}

	resolved := root
	for _, segment := range strings.Split(filepath.ToSlash(trimmed), "/") {
		switch segment {
		case "", ".":
			continue
		case "..":
			if resolved == root {
				return "", &agenterr.FilesystemRefusal{
					Reason: "path escapes the workspace via '..'",
				}
			}
			resolved = filepath.Dir(resolved)
		default:
			resolved = filepath.Join(resolved, segment)
		}
	}

	return resolved, nil
}

func isWindowsDriveOrUNC(p string) bool {
	if strings.HasPrefix(p, `\\`) {
		return true
	}
	if len(p) >= 2 && p[1] == ':' {
		return true
	}
	return false
}

// EnsureNoSymlinkInExistingPath walks each existing path component between
// root and resolved, refusing if any is a symbolic link — this stops a
// workspace-contained symlink from being used to escape onto the rest of
// the filesystem.
func EnsureNoSymlinkInExistingPath(root, resolved string) error {
	relative, err := filepath.Rel(root, resolved)
	if err != nil || strings.HasPrefix(relative, "..") {
		return &agenterr.FilesystemRefusal{Reason: "path is not within the workspace"}
	}

	cursor := root
	for _, segment := range strings.Split(filepath.ToSlash(relative), "/") {
		if segment == "" || segment == "." {
			continue
		}
		cursor = filepath.Join(cursor, segment)

		info, err := os.Lstat(cursor)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return &agenterr.FilesystemRefusal{Reason: "failed to stat path component: " + err.Error()}
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return &agenterr.FilesystemRefusal{
				Reason: "symbolic link detected, refusing to follow it out of the workspace: " + cursor,
			}
		}
	}
	return nil
}
