// Command order is the terminal front door to the agent core: it runs
// prompt/chat/stream requests against a negotiated provider connection and
// exposes the stage/apply/rollback gate for the model's proposed writes.
package main

import (
	"fmt"
	"io"
	"os"
)

const usageText = `order - capability-negotiated coding agent

Usage:
  order run    [flags] <prompt...>      one-shot prompt (reads stdin when no prompt args)
  order stream [flags] <prompt...>      streaming prompt to stdout
  order stage  list|apply|reject <trace>
  order stage  rollback [<trace>|-last]
  order capabilities show|reset [flags]
  order validate [flags] [changed files...]
  order help

Run "order <subcommand> -h" for subcommand flags.
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usageText)
		return 2
	}

	switch args[0] {
	case "run":
		return cmdRun(args[1:], false, stdout, stderr)
	case "stream":
		return cmdRun(args[1:], true, stdout, stderr)
	case "stage":
		return cmdStage(args[1:], stdout, stderr)
	case "capabilities":
		return cmdCapabilities(args[1:], stdout, stderr)
	case "validate":
		return cmdValidate(args[1:], stdout, stderr)
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usageText)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown subcommand %q\n\n", args[0])
		fmt.Fprint(stderr, usageText)
		return 2
	}
}
