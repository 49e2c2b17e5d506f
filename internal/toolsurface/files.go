package toolsurface

import (
	"fmt"
	"os"

	"github.com/ShirasawaTopaz/order/internal/agenterr"
	"github.com/ShirasawaTopaz/order/internal/encoding"
	"github.com/ShirasawaTopaz/order/internal/safety"
)

// readFile returns the UTF-8 text of a workspace file, refusing anything
// over the read cap.
func (d *Dispatcher) readFile(relPath string) (string, error) {
	resolved, err := safety.ResolveWorkspaceRelativePath(d.WorkspaceRoot, relPath)
	if err != nil {
		return "", err
	}
	if err := safety.EnsureNoSymlinkInExistingPath(d.WorkspaceRoot, resolved); err != nil {
		return "", err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return "", &agenterr.FilesystemRefusal{Reason: "cannot read " + relPath + ": " + err.Error()}
	}
	if info.Size() > safety.MaxReadBytes {
		return "", &agenterr.FilesystemRefusal{
			Reason: fmt.Sprintf("%s is %d bytes, over the %d byte read limit", relPath, info.Size(), safety.MaxReadBytes),
		}
	}

	text, _, err := encoding.ReadUTF8Text(resolved)
	if err != nil {
		return "", err
	}
	return text, nil
}

// stageWrite records the write in the safety journal instead of touching
// disk; the model sees a confirmation marker, the user sees a diff summary
// at approval time.
func (d *Dispatcher) stageWrite(traceID, relPath, content string, appendMode bool) (string, error) {
	summary, err := safety.StageWrite(d.WorkspaceRoot, traceID, relPath, content, appendMode, d.now())
	if err != nil {
		return "", err
	}
	verb := "write"
	if appendMode {
		verb = "append"
	}
	return fmt.Sprintf("staged %s to %s (+%d/-%d lines), pending user approval",
		verb, summary.RelPath, summary.Diff.LinesAdded, summary.Diff.LinesRemoved), nil
}
