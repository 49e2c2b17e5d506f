package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/ShirasawaTopaz/order/internal/observability"
	"github.com/ShirasawaTopaz/order/internal/validation"
)

// cmdValidate runs the staged validation pipeline and persists its report
// under the trace's reports directory.
func cmdValidate(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	traceID := fs.String("trace", "", "trace id to attach the report to; generated when empty")
	workspace := fs.String("workspace", ".", "workspace root directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	root, err := filepath.Abs(*workspace)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	trace := *traceID
	if trace == "" {
		trace = observability.NewTraceID()
	}
	changedFiles := fs.Args()

	pipeline := validation.NewPipeline(root)
	logger := observability.NewLogger(root)

	cfg, err := validation.LoadConfig(root)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	commands := cfg.Minimal
	if len(commands) == 0 {
		commands = validation.DefaultMinimalCommands(changedFiles)
	}

	start := time.Now()
	logger.Emit(observability.ValidationStart{TS: observability.Now(), TraceID: trace, Commands: commands})

	report, err := pipeline.Run(context.Background(), trace, changedFiles)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	end := observability.ValidationEnd{
		TS:         observability.Now(),
		TraceID:    trace,
		OK:         report.OK,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if failed := firstFailedCommand(report); failed != "" {
		end.FailedCommand = &failed
	}
	logger.Emit(end)

	if err := validation.SaveReport(root, report); err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	for _, stage := range report.Stages {
		status := "ok"
		if !stage.OK {
			status = "FAILED"
		}
		fmt.Fprintf(stdout, "stage %s: %s (%d commands)\n", stage.Name, status, len(stage.Commands))
	}
	fmt.Fprintf(stdout, "report: %s\n", validation.ReportPath(root, trace))
	if !report.OK {
		return 1
	}
	return 0
}

func firstFailedCommand(report validation.Report) string {
	for _, stage := range report.Stages {
		for _, cmd := range stage.Commands {
			if cmd.ExitCode != 0 {
				return cmd.Command
			}
		}
	}
	return ""
}
