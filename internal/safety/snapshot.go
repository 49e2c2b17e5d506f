package safety

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ShirasawaTopaz/order/internal/agenterr"
	"github.com/ShirasawaTopaz/order/internal/encoding"
)

// SnapshotFileItem records one file's pre-apply contents, kept byte-identical
// so a rollback can restore it exactly.
type SnapshotFileItem struct {
	RelPath  string `json:"rel_path"`
	Existed  bool   `json:"existed"`
	StoredAs string `json:"stored_as"`
}

// SnapshotManifest is the apply-time record of everything a single trace's
// application touched, written before any real file is mutated.
type SnapshotManifest struct {
	TraceID   string             `json:"trace_id"`
	CreatedAt string             `json:"created_at"`
	Files     []SnapshotFileItem `json:"files"`
}

// ApplyPendingResult reports what ApplyPendingWrites actually did.
type ApplyPendingResult struct {
	TraceID      string   `json:"trace_id"`
	AppliedPaths []string `json:"applied_paths"`
}

// RollbackResult reports what Rollback or RollbackLast restored.
type RollbackResult struct {
	TraceID       string   `json:"trace_id"`
	RestoredPaths []string `json:"restored_paths"`
	RemovedPaths  []string `json:"removed_paths"`
}

func snapshotTraceDir(root, traceID string) string {
	return filepath.Join(root, ".order", "snapshots", traceID)
}

func snapshotManifestPath(root, traceID string) string {
	return filepath.Join(snapshotTraceDir(root, traceID), "manifest.json")
}

func snapshotFilesDir(root, traceID string) string {
	return filepath.Join(snapshotTraceDir(root, traceID), "files")
}

// ApplyPendingWrites snapshots the current contents of every file a pending
// write for traceID touches, then applies the pending writes to the real
// filesystem in staged order. It refuses outright if a snapshot for this
// trace already exists, so a trace can never be applied twice.
func ApplyPendingWrites(root, traceID string, now time.Time) (ApplyPendingResult, error) {
	if _, err := os.Stat(snapshotTraceDir(root, traceID)); err == nil {
		return ApplyPendingResult{}, &agenterr.SnapshotConflict{TraceID: traceID}
	}

	writes, err := readPendingWriteRecords(root, traceID)
	if err != nil {
		return ApplyPendingResult{}, err
	}

	manifest, err := createSnapshot(root, traceID, writes, now)
	if err != nil {
		return ApplyPendingResult{}, err
	}
	if err := saveManifest(root, traceID, manifest); err != nil {
		return ApplyPendingResult{}, err
	}

	for _, w := range writes {
		resolved, err := ResolveWorkspaceRelativePath(root, w.RelPath)
		if err != nil {
			return ApplyPendingResult{}, err
		}
		// Re-verify just before the mutation: a symlink planted between
		// staging and approval must not redirect the write.
		if err := EnsureNoSymlinkInExistingPath(root, resolved); err != nil {
			return ApplyPendingResult{}, err
		}
		if err := applyOneWrite(resolved, w); err != nil {
			return ApplyPendingResult{}, err
		}
	}

	if err := os.RemoveAll(pendingTraceDir(root, traceID)); err != nil {
		return ApplyPendingResult{}, &agenterr.FilesystemRefusal{
			TraceID: traceID,
			Reason:  "applied writes but failed to clear the pending journal: " + err.Error(),
		}
	}

	// Every write was applied in staged order; the result reports each
	// touched path once, sorted.
	touched := dedupSnapshotItems(writes)
	sort.Strings(touched)
	return ApplyPendingResult{TraceID: traceID, AppliedPaths: touched}, nil
}

func applyOneWrite(resolved string, w PendingWrite) error {
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return &agenterr.FilesystemRefusal{TraceID: w.TraceID, Reason: "failed to create parent directory: " + err.Error()}
	}
	if w.Append {
		f, err := os.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return &agenterr.FilesystemRefusal{TraceID: w.TraceID, Reason: "failed to open for append: " + err.Error()}
		}
		defer f.Close()
		if _, err := io.WriteString(f, w.Content); err != nil {
			return &agenterr.FilesystemRefusal{TraceID: w.TraceID, Reason: "failed to append: " + err.Error()}
		}
		return nil
	}

	if _, err := encoding.WriteUTF8Text(resolved, w.Content); err != nil {
		return &agenterr.FilesystemRefusal{TraceID: w.TraceID, Reason: "failed to write: " + err.Error()}
	}
	return nil
}

// createSnapshot captures the pre-apply bytes of every distinct path the
// staged writes touch, deduplicating repeated paths against the same file.
func createSnapshot(root, traceID string, writes []PendingWrite, now time.Time) (SnapshotManifest, error) {
	filesDir := snapshotFilesDir(root, traceID)
	if err := os.MkdirAll(filesDir, 0o755); err != nil {
		return SnapshotManifest{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to create snapshot directory: " + err.Error()}
	}

	items := dedupSnapshotItems(writes)
	manifestItems := make([]SnapshotFileItem, 0, len(items))

	for _, relPath := range items {
		resolved, err := ResolveWorkspaceRelativePath(root, relPath)
		if err != nil {
			return SnapshotManifest{}, err
		}
		rel, err := filepath.Rel(root, resolved)
		if err != nil {
			return SnapshotManifest{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to map snapshot path: " + err.Error()}
		}

		storedAs := filepath.Join(filesDir, rel)
		existed := false

		if raw, readErr := os.ReadFile(resolved); readErr == nil {
			existed = true
			if err := os.MkdirAll(filepath.Dir(storedAs), 0o755); err != nil {
				return SnapshotManifest{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to create snapshot directory: " + err.Error()}
			}
			if err := os.WriteFile(storedAs, raw, 0o644); err != nil {
				return SnapshotManifest{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to store snapshot copy: " + err.Error()}
			}
		} else if !os.IsNotExist(readErr) {
			return SnapshotManifest{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to read file for snapshot: " + readErr.Error()}
		}

		manifestItems = append(manifestItems, SnapshotFileItem{
			RelPath:  relPath,
			Existed:  existed,
			StoredAs: filepath.ToSlash(rel),
		})
	}

	return SnapshotManifest{
		TraceID:   traceID,
		CreatedAt: now.UTC().Format(time.RFC3339),
		Files:     manifestItems,
	}, nil
}

func dedupSnapshotItems(writes []PendingWrite) []string {
	seen := map[string]bool{}
	var ordered []string
	for _, w := range writes {
		if seen[w.RelPath] {
			continue
		}
		seen[w.RelPath] = true
		ordered = append(ordered, w.RelPath)
	}
	return ordered
}

func snapshotItemName(index int) string {
	return fmt.Sprintf("%04d.snap", index)
}

func saveManifest(root, traceID string, manifest SnapshotManifest) error {
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to marshal snapshot manifest: " + err.Error()}
	}
	if _, err := encoding.WriteUTF8Text(snapshotManifestPath(root, traceID), string(payload)+"\n"); err != nil {
		return &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to persist snapshot manifest: " + err.Error()}
	}
	return nil
}

func loadManifest(root, traceID string) (SnapshotManifest, error) {
	raw, err := os.ReadFile(snapshotManifestPath(root, traceID))
	if os.IsNotExist(err) {
		return SnapshotManifest{}, &agenterr.PendingMissing{TraceID: traceID}
	}
	if err != nil {
		return SnapshotManifest{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to read snapshot manifest: " + err.Error()}
	}
	var manifest SnapshotManifest
	if err := json.Unmarshal(raw, &manifest); err != nil {
		return SnapshotManifest{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to parse snapshot manifest: " + err.Error()}
	}
	return manifest, nil
}

// Rollback restores every file recorded in traceID's snapshot manifest to
// its pre-apply state, removing files that did not exist beforehand, then
// deletes the snapshot so the trace can be applied again.
func Rollback(root, traceID string) (RollbackResult, error) {
	manifest, err := loadManifest(root, traceID)
	if err != nil {
		return RollbackResult{}, err
	}

	result := RollbackResult{TraceID: traceID}
	for _, item := range manifest.Files {
		resolved, err := ResolveWorkspaceRelativePath(root, item.RelPath)
		if err != nil {
			return RollbackResult{}, err
		}

		if !item.Existed {
			if err := os.Remove(resolved); err != nil && !os.IsNotExist(err) {
				return RollbackResult{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to remove file during rollback: " + err.Error()}
			}
			result.RemovedPaths = append(result.RemovedPaths, item.RelPath)
			continue
		}

		storedPath := filepath.Join(snapshotFilesDir(root, traceID), item.StoredAs)
		raw, err := os.ReadFile(storedPath)
		if err != nil {
			return RollbackResult{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to read snapshot copy: " + err.Error()}
		}
		if err := os.WriteFile(resolved, raw, 0o644); err != nil {
			return RollbackResult{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to restore file during rollback: " + err.Error()}
		}
		result.RestoredPaths = append(result.RestoredPaths, item.RelPath)
	}

	if err := os.RemoveAll(snapshotTraceDir(root, traceID)); err != nil {
		return RollbackResult{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "rolled back but failed to clear the snapshot: " + err.Error()}
	}

	return result, nil
}

// RollbackLast rolls back the most recently created snapshot across all
// traces (by snapshot directory modification time), or returns (nil, nil) if
// there is no snapshot to roll back.
func RollbackLast(root string) (*RollbackResult, error) {
	snapshotsRoot := filepath.Join(root, ".order", "snapshots")
	entries, err := os.ReadDir(snapshotsRoot)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, &agenterr.FilesystemRefusal{Reason: "failed to list snapshots: " + err.Error()}
	}

	type candidate struct {
		traceID string
		modTime time.Time
	}
	var candidates []candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, statErr := os.Stat(filepath.Join(snapshotsRoot, e.Name(), "manifest.json")); statErr != nil {
			continue
		}
		info, infoErr := e.Info()
		if infoErr != nil {
			continue
		}
		candidates = append(candidates, candidate{traceID: e.Name(), modTime: info.ModTime()})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})

	result, err := Rollback(root, candidates[0].traceID)
	if err != nil {
		return nil, err
	}
	return &result, nil
}
