package main

import (
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/ShirasawaTopaz/order/internal/safety"
)

// cmdStage exposes the pending-write journal and snapshot gate:
// list/apply/reject per trace, plus rollback by trace or most recent.
func cmdStage(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: order stage list|apply|reject <trace> | rollback [<trace>|-last]")
		return 2
	}

	root, err := filepath.Abs(".")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	action := args[0]
	rest := args[1:]

	switch action {
	case "list":
		if len(rest) != 1 {
			fmt.Fprintln(stderr, "usage: order stage list <trace>")
			return 2
		}
		writes, err := safety.ListPendingWrites(root, rest[0])
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		if len(writes) == 0 {
			fmt.Fprintln(stdout, "no pending writes")
			return 0
		}
		for _, w := range writes {
			mode := "write"
			if w.Append {
				mode = "append"
			}
			fmt.Fprintf(stdout, "%s  %-6s %s  +%d/-%d lines  risk=%s\n",
				w.OpID, mode, w.RelPath, w.Diff.LinesAdded, w.Diff.LinesRemoved, w.Diff.Risk)
		}
		return 0

	case "apply":
		if len(rest) != 1 {
			fmt.Fprintln(stderr, "usage: order stage apply <trace>")
			return 2
		}
		result, err := safety.ApplyPendingWrites(root, rest[0], time.Now())
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		for _, path := range result.AppliedPaths {
			fmt.Fprintf(stdout, "applied %s\n", path)
		}
		return 0

	case "reject":
		if len(rest) != 1 {
			fmt.Fprintln(stderr, "usage: order stage reject <trace>")
			return 2
		}
		if err := safety.RejectPendingWrites(root, rest[0]); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stdout, "rejected")
		return 0

	case "rollback":
		if len(rest) == 1 && rest[0] != "-last" {
			result, err := safety.Rollback(root, rest[0])
			if err != nil {
				fmt.Fprintln(stderr, err)
				return 1
			}
			printRollback(stdout, result)
			return 0
		}
		result, err := safety.RollbackLast(root)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		if result == nil {
			fmt.Fprintln(stdout, "no snapshot to roll back")
			return 0
		}
		printRollback(stdout, *result)
		return 0

	default:
		fmt.Fprintf(stderr, "unknown stage action %q\n", action)
		return 2
	}
}

func printRollback(stdout io.Writer, result safety.RollbackResult) {
	for _, path := range result.RestoredPaths {
		fmt.Fprintf(stdout, "restored %s\n", path)
	}
	for _, path := range result.RemovedPaths {
		fmt.Fprintf(stdout, "removed %s\n", path)
	}
}
