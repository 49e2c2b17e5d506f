package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStageWriteRecordsNewFileAsAllAdded(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	summary, err := StageWrite(root, "trace-1", "notes/todo.txt", "one\ntwo\n", false, now)
	require.NoError(t, err)
	assert.False(t, summary.Diff.Existed)
	assert.Equal(t, 0, summary.Diff.OldLines)
	assert.Equal(t, 3, summary.Diff.NewLines)
	assert.Equal(t, 2, summary.Diff.LinesAdded)
	assert.Equal(t, 0, summary.Diff.LinesRemoved)
}

func TestStageWriteRejectsPathEscape(t *testing.T) {
	root := t.TempDir()
	_, err := StageWrite(root, "trace-1", "../outside.txt", "x", false, time.Now())
	assert.Error(t, err)
}

func TestStageWriteRejectsOversizedContent(t *testing.T) {
	root := t.TempDir()
	big := make([]byte, MaxWriteBytes+1)
	_, err := StageWrite(root, "trace-1", "big.txt", string(big), false, time.Now())
	assert.Error(t, err)
}

func TestListPendingWritesReturnsChronologicalOrder(t *testing.T) {
	root := t.TempDir()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := StageWrite(root, "trace-1", "a.txt", "a\n", false, now)
	require.NoError(t, err)
	_, err = StageWrite(root, "trace-1", "b.txt", "b\n", false, now.Add(time.Second))
	require.NoError(t, err)

	writes, err := ListPendingWrites(root, "trace-1")
	require.NoError(t, err)
	require.Len(t, writes, 2)
	assert.Equal(t, "a.txt", writes[0].RelPath)
	assert.Equal(t, "b.txt", writes[1].RelPath)
}

func TestListPendingWritesReturnsEmptyListForUnknownTrace(t *testing.T) {
	root := t.TempDir()
	writes, err := ListPendingWrites(root, "no-such-trace")
	require.NoError(t, err)
	assert.Empty(t, writes)
}

func TestRejectPendingWritesClearsJournal(t *testing.T) {
	root := t.TempDir()
	now := time.Now()
	_, err := StageWrite(root, "trace-1", "a.txt", "a\n", false, now)
	require.NoError(t, err)

	require.NoError(t, RejectPendingWrites(root, "trace-1"))

	writes, err := ListPendingWrites(root, "trace-1")
	require.NoError(t, err)
	assert.Empty(t, writes)
}

func TestComputeDiffSummaryEstimatesAddedAndRemovedLines(t *testing.T) {
	diff := computeDiffSummary("a\nb\nc\n", "a\nc\nd\n", false, true)
	assert.True(t, diff.Existed)
	assert.Equal(t, 4, diff.OldLines)
	assert.Equal(t, 4, diff.NewLines)
	assert.Equal(t, 1, diff.LinesAdded)
	assert.Equal(t, 1, diff.LinesRemoved)
}

func TestComputeDiffSummaryAppendDiffsAgainstConcatenation(t *testing.T) {
	diff := computeDiffSummary("old\n", "more\n", true, true)
	assert.True(t, diff.Existed)
	assert.Equal(t, 2, diff.OldLines)
	assert.Equal(t, 3, diff.NewLines)
	assert.Equal(t, 1, diff.LinesAdded)
	assert.Equal(t, 0, diff.LinesRemoved)
}

func TestRiskForEscalatesWithVolume(t *testing.T) {
	assert.Equal(t, RiskLow, riskFor(1, 0))
	assert.Equal(t, RiskMedium, riskFor(50, 0))
	assert.Equal(t, RiskHigh, riskFor(500, 0))
}
