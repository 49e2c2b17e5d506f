package safety

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ShirasawaTopaz/order/internal/agenterr"
	"github.com/ShirasawaTopaz/order/internal/encoding"
)

// RiskLevel is a coarse heuristic estimate of how disruptive a staged write
// looks, derived from its DiffSummary. It never blocks an operation by
// itself; it is surfaced to the caller so a human reviewer can prioritize.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// DiffSummary estimates the shape of a staged write against the file's
// current contents (or against an empty file, for a create). OldLines and
// NewLines are real line counts of the pre- and post-write content; the
// added/removed estimate is a line-frequency delta, not a true line-level
// diff (no LCS alignment): cheap and stable enough to size a change for
// display, not to drive a patch-apply.
type DiffSummary struct {
	Existed      bool      `json:"existed"`
	OldLines     int       `json:"old_lines"`
	NewLines     int       `json:"new_lines"`
	LinesAdded   int       `json:"added_lines"`
	LinesRemoved int       `json:"removed_lines"`
	Risk         RiskLevel `json:"risk"`
}

// PendingWrite is one staged, not-yet-applied file mutation.
type PendingWrite struct {
	OpID      string      `json:"op_id"`
	TraceID   string      `json:"trace_id"`
	RelPath   string      `json:"rel_path"`
	Content   string      `json:"content"`
	Append    bool        `json:"append"`
	CreatedAt string      `json:"created_at"`
	Diff      DiffSummary `json:"diff"`
}

// PendingWriteSummary is the listing projection of a PendingWrite: it omits
// the full content body so a caller can page through many staged writes
// cheaply.
type PendingWriteSummary struct {
	OpID      string      `json:"op_id"`
	RelPath   string      `json:"rel_path"`
	Append    bool        `json:"append"`
	CreatedAt string      `json:"created_at"`
	Diff      DiffSummary `json:"diff"`
}

var opCounter uint64

func nextOpID(now time.Time) string {
	seq := atomic.AddUint64(&opCounter, 1)
	return fmt.Sprintf("%d-%d", now.UnixMilli(), seq)
}

func pendingTraceDir(root, traceID string) string {
	return filepath.Join(root, ".order", "pending", "writes", traceID)
}

// StageWrite records content as a pending write against relPath without
// touching the real file. The diff is estimated against the file's current
// contents, or against an empty file when it does not exist yet.
func StageWrite(root, traceID, relPath, content string, appendMode bool, now time.Time) (PendingWriteSummary, error) {
	resolved, err := ResolveWorkspaceRelativePath(root, relPath)
	if err != nil {
		if refusal, ok := err.(*agenterr.FilesystemRefusal); ok {
			refusal.TraceID = traceID
			return PendingWriteSummary{}, refusal
		}
		return PendingWriteSummary{}, err
	}
	if err := EnsureNoSymlinkInExistingPath(root, resolved); err != nil {
		return PendingWriteSummary{}, err
	}
	if len(content) > MaxWriteBytes {
		return PendingWriteSummary{}, &agenterr.FilesystemRefusal{
			TraceID: traceID,
			Reason:  fmt.Sprintf("staged content of %d bytes exceeds the %d byte write limit", len(content), MaxWriteBytes),
		}
	}
	content = normalizeLineEndings(content)

	existing := ""
	existed := false
	if raw, readErr := os.ReadFile(resolved); readErr == nil {
		existing = string(raw)
		existed = true
	}

	diff := computeDiffSummary(existing, content, appendMode, existed)

	write := PendingWrite{
		OpID:      nextOpID(now),
		TraceID:   traceID,
		RelPath:   filepath.ToSlash(relPath),
		Content:   content,
		Append:    appendMode,
		CreatedAt: now.UTC().Format(time.RFC3339),
		Diff:      diff,
	}

	dir := pendingTraceDir(root, traceID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return PendingWriteSummary{}, &agenterr.FilesystemRefusal{
			TraceID: traceID,
			Reason:  "failed to create pending-writes directory: " + err.Error(),
		}
	}

	payload, err := json.MarshalIndent(write, "", "  ")
	if err != nil {
		return PendingWriteSummary{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to marshal pending write: " + err.Error()}
	}

	recordPath := filepath.Join(dir, write.OpID+".json")
	if _, err := encoding.WriteUTF8Text(recordPath, string(payload)+"\n"); err != nil {
		return PendingWriteSummary{}, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to persist pending write: " + err.Error()}
	}

	return toSummary(write), nil
}

// ListPendingWrites returns every staged write for traceID, ordered by op id
// (which is chronological: unix-millis prefixed). A missing journal dir is
// the normal probe case and yields an empty list, not an error.
func ListPendingWrites(root, traceID string) ([]PendingWriteSummary, error) {
	writes, err := readPendingWriteRecords(root, traceID)
	if err != nil {
		var missing *agenterr.PendingMissing
		if errors.As(err, &missing) {
			return nil, nil
		}
		return nil, err
	}
	summaries := make([]PendingWriteSummary, 0, len(writes))
	for _, w := range writes {
		summaries = append(summaries, toSummary(w))
	}
	return summaries, nil
}

// RejectPendingWrites discards every staged write for traceID without
// touching the real filesystem outside the pending-writes journal.
func RejectPendingWrites(root, traceID string) error {
	dir := pendingTraceDir(root, traceID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &agenterr.PendingMissing{TraceID: traceID}
	}
	if err := os.RemoveAll(dir); err != nil {
		return &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to reject pending writes: " + err.Error()}
	}
	return nil
}

func readPendingWriteRecords(root, traceID string) ([]PendingWrite, error) {
	dir := pendingTraceDir(root, traceID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, &agenterr.PendingMissing{TraceID: traceID}
	}
	if err != nil {
		return nil, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to list pending writes: " + err.Error()}
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	writes := make([]PendingWrite, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to read pending write " + name + ": " + err.Error()}
		}
		var w PendingWrite
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, &agenterr.FilesystemRefusal{TraceID: traceID, Reason: "failed to parse pending write " + name + ": " + err.Error()}
		}
		writes = append(writes, w)
	}
	return writes, nil
}

func toSummary(w PendingWrite) PendingWriteSummary {
	return PendingWriteSummary{
		OpID:      w.OpID,
		RelPath:   w.RelPath,
		Append:    w.Append,
		CreatedAt: w.CreatedAt,
		Diff:      w.Diff,
	}
}

// computeDiffSummary estimates added/removed line counts by comparing line
// frequency tables between the existing content and the write's outcome.
// For append, the outcome is the existing content with proposed concatenated
// onto it; old/new line counts are real counts of both sides either way.
func computeDiffSummary(existing, proposed string, appendMode, existed bool) DiffSummary {
	final := proposed
	if appendMode {
		final = existing + proposed
	}

	added, removed := estimateLineDeltaBoth(existing, final)
	return DiffSummary{
		Existed:      existed,
		OldLines:     countLines(existing),
		NewLines:     countLines(final),
		LinesAdded:   added,
		LinesRemoved: removed,
		Risk:         riskFor(added, removed),
	}
}

// estimateLineDeltaBoth builds a frequency table of proposed's lines minus
// existing's lines: a positive remainder on a line counts as added, a
// negative remainder counts as removed. Lines that appear the same number
// of times on both sides are treated as unchanged, even if reordered.
func estimateLineDeltaBoth(existing, proposed string) (added int, removed int) {
	freq := map[string]int{}
	for _, line := range splitLines(existing) {
		freq[line]--
	}
	for _, line := range splitLines(proposed) {
		freq[line]++
	}
	for _, delta := range freq {
		if delta > 0 {
			added += delta
		} else if delta < 0 {
			removed += -delta
		}
	}
	return added, removed
}

// normalizeLineEndings maps CRLF and lone CR to LF before a write is staged,
// so the diff estimate and the applied bytes agree.
func normalizeLineEndings(text string) string {
	if !strings.Contains(text, "\r") {
		return text
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}

// splitLines splits text into lines; a final "\n" ends the last line rather
// than starting an empty one.
func splitLines(text string) []string {
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	return len(strings.Split(text, "\n"))
}

func riskFor(added, removed int) RiskLevel {
	total := added + removed
	switch {
	case total > 200:
		return RiskHigh
	case total > 20:
		return RiskMedium
	default:
		return RiskLow
	}
}
