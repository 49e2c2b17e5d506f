package validation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizeCommand(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		wantProg string
		wantArgs []string
		wantErr  bool
	}{
		{"plain", "go vet ./...", "go", []string{"vet", "./..."}, false},
		{"double quoted", `go test -run "TestFoo Bar" ./pkg`, "go", []string{"test", "-run", "TestFoo Bar", "./pkg"}, false},
		{"single quoted", `gofmt -l 'my dir'`, "gofmt", []string{"-l", "my dir"}, false},
		{"unterminated quote", `go test "broken`, "", nil, true},
		{"empty", "   ", "", nil, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			prog, args, err := tokenizeCommand(tc.command)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantProg, prog)
			assert.Equal(t, tc.wantArgs, args)
		})
	}
}

func TestRunRejectsProgramOutsideAllowlist(t *testing.T) {
	root := t.TempDir()
	writeValidationTOML(t, root, "minimal = [\"rm -rf /\"]\n")

	pipeline := NewPipeline(root)
	_, err := pipeline.Run(context.Background(), "trace-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allowlist")
}

func TestDefaultMinimalCommandsGroupsByPackageDir(t *testing.T) {
	commands := DefaultMinimalCommands([]string{
		"internal/safety/journal.go",
		"internal/safety/snapshot.go",
		"cmd/order/main.go",
		"README.md",
	})
	assert.Equal(t, []string{
		"go vet ./cmd/order/...",
		"go vet ./internal/safety/...",
	}, commands)
}

func TestDefaultMinimalCommandsFallsBackToWholeModule(t *testing.T) {
	assert.Equal(t, []string{"go vet ./..."}, DefaultMinimalCommands(nil))
	assert.Equal(t, []string{"go vet ./..."}, DefaultMinimalCommands([]string{"docs/guide.md"}))
}

func TestRunStopsMinimalStageAtFirstFailure(t *testing.T) {
	root := t.TempDir()
	writeValidationTOML(t, root, "minimal = [\"go vet ./a\", \"go vet ./b\", \"go vet ./c\"]\nextended = [\"go test ./...\"]\n")

	var executed []string
	pipeline := NewPipeline(root)
	pipeline.runCommand = func(ctx context.Context, program string, args []string) (CommandReport, error) {
		executed = append(executed, strings.Join(append([]string{program}, args...), " "))
		exit := 0
		if strings.Contains(strings.Join(args, " "), "./b") {
			exit = 1
		}
		return CommandReport{ExitCode: exit}, nil
	}

	report, err := pipeline.Run(context.Background(), "trace-2", nil)
	require.NoError(t, err)

	assert.False(t, report.OK)
	require.Len(t, report.Stages, 1, "extended stage must not run after a minimal failure")
	assert.Equal(t, []string{"go vet ./a", "go vet ./b"}, executed)
}

func TestRunExtendedStageOnlyAfterMinimalPasses(t *testing.T) {
	root := t.TempDir()
	writeValidationTOML(t, root, "minimal = [\"go vet ./...\"]\nextended = [\"go test ./...\"]\n")

	var executed []string
	pipeline := NewPipeline(root)
	pipeline.runCommand = func(ctx context.Context, program string, args []string) (CommandReport, error) {
		executed = append(executed, program+" "+args[0])
		return CommandReport{ExitCode: 0}, nil
	}

	report, err := pipeline.Run(context.Background(), "trace-3", nil)
	require.NoError(t, err)
	assert.True(t, report.OK)
	require.Len(t, report.Stages, 2)
	assert.Equal(t, []string{"go vet", "go test"}, executed)
}

func TestTailTextKeepsTail(t *testing.T) {
	long := strings.Repeat("a", 100) + "THE-END"
	tail := tailText(long, 20)
	assert.Contains(t, tail, "THE-END")
	assert.Contains(t, tail, "truncated")

	assert.Equal(t, "short", tailText("short", 20))
}

func TestSaveReportWritesPrettyJSONWithNewline(t *testing.T) {
	root := t.TempDir()
	report := Report{
		TraceID: "trace-9",
		OK:      true,
		Stages:  []StageReport{{Name: "minimal", OK: true}},
	}
	require.NoError(t, SaveReport(root, report))

	raw, err := os.ReadFile(ReportPath(root, "trace-9"))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "\n"))
	assert.Contains(t, string(raw), `"trace_id": "trace-9"`)
}

func writeValidationTOML(t *testing.T, root, body string) {
	t.Helper()
	dir := filepath.Join(root, ".order")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "validation.toml"), []byte(body), 0o644))
}
