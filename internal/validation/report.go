package validation

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ShirasawaTopaz/order/internal/encoding"
)

// ReportPath returns where a trace's validation report is persisted.
func ReportPath(workspaceRoot, traceID string) string {
	return filepath.Join(workspaceRoot, ".order", "reports", traceID, "validation.json")
}

// SaveReport writes the report as pretty JSON with a trailing newline under
// .order/reports/<trace_id>/validation.json.
func SaveReport(workspaceRoot string, report Report) error {
	path := ReportPath(workspaceRoot, report.TraceID)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	_, err = encoding.WriteUTF8Text(path, string(payload)+"\n")
	return err
}
