// Package validation runs the post-apply check pipeline: a minimal command
// stage derived from the changed files, then an optional extended stage.
// Only the Go toolchain programs are allowlisted; the command list is a
// security boundary, not a convenience.
package validation

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	configFileName = "validation.toml"

	// commandTimeout bounds one validation command.
	commandTimeout = 5 * time.Minute

	// tailBytes is how much of each output stream a report keeps.
	tailBytes = 4000
)

// allowedPrograms is the closed set of program names a validation command
// may invoke.
var allowedPrograms = map[string]bool{
	"go":    true,
	"gofmt": true,
}

// Config is the decoded .order/validation.toml.
type Config struct {
	Minimal  []string `toml:"minimal"`
	Extended []string `toml:"extended"`
}

// LoadConfig reads the optional validation config; a missing file returns an
// empty Config so the caller falls back to derived defaults.
func LoadConfig(workspaceRoot string) (Config, error) {
	path := filepath.Join(workspaceRoot, ".order", configFileName)
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", configFileName, err)
	}
	return cfg, nil
}

// DefaultMinimalCommands derives the minimal stage from the changed files:
// one `go vet` per containing package directory, sorted for stable reports.
func DefaultMinimalCommands(changedFiles []string) []string {
	dirs := map[string]bool{}
	for _, f := range changedFiles {
		if !strings.HasSuffix(f, ".go") {
			continue
		}
		dir := filepath.ToSlash(filepath.Dir(f))
		if dir == "." || dir == "" {
			dirs["./..."] = true
			continue
		}
		dirs["./"+dir+"/..."] = true
	}
	if len(dirs) == 0 {
		return []string{"go vet ./..."}
	}
	targets := make([]string, 0, len(dirs))
	for d := range dirs {
		targets = append(targets, d)
	}
	sort.Strings(targets)
	commands := make([]string, 0, len(targets))
	for _, t := range targets {
		commands = append(commands, "go vet "+t)
	}
	return commands
}

// CommandReport records one executed validation command.
type CommandReport struct {
	Command    string `json:"command"`
	ExitCode   int    `json:"exit_code"`
	StdoutTail string `json:"stdout_tail"`
	StderrTail string `json:"stderr_tail"`
	DurationMs int64  `json:"duration_ms"`
}

// StageReport records one pipeline stage; a stage stops at its first
// failing command.
type StageReport struct {
	Name     string          `json:"name"`
	Commands []CommandReport `json:"commands"`
	OK       bool            `json:"ok"`
}

// Report is the full pipeline outcome, persisted per trace.
type Report struct {
	TraceID string        `json:"trace_id"`
	Stages  []StageReport `json:"stages"`
	OK      bool          `json:"ok"`
}

// Pipeline runs the staged validation commands inside a workspace.
type Pipeline struct {
	WorkspaceRoot string

	// runCommand is a test seam; nil means real execution.
	runCommand func(ctx context.Context, program string, args []string) (CommandReport, error)
}

// NewPipeline constructs a Pipeline rooted at workspaceRoot.
func NewPipeline(workspaceRoot string) *Pipeline {
	return &Pipeline{WorkspaceRoot: workspaceRoot}
}

// Run executes the minimal stage (from config or derived from changedFiles),
// then the extended stage only when the minimal stage fully passed.
func (p *Pipeline) Run(ctx context.Context, traceID string, changedFiles []string) (Report, error) {
	cfg, err := LoadConfig(p.WorkspaceRoot)
	if err != nil {
		return Report{}, err
	}

	minimal := cfg.Minimal
	if len(minimal) == 0 {
		minimal = DefaultMinimalCommands(changedFiles)
	}

	report := Report{TraceID: traceID, OK: true}

	minimalStage, err := p.runStage(ctx, "minimal", minimal)
	if err != nil {
		return Report{}, err
	}
	report.Stages = append(report.Stages, minimalStage)
	report.OK = minimalStage.OK

	if report.OK && len(cfg.Extended) > 0 {
		extendedStage, err := p.runStage(ctx, "extended", cfg.Extended)
		if err != nil {
			return Report{}, err
		}
		report.Stages = append(report.Stages, extendedStage)
		report.OK = extendedStage.OK
	}

	return report, nil
}

func (p *Pipeline) runStage(ctx context.Context, name string, commands []string) (StageReport, error) {
	stage := StageReport{Name: name, OK: true}
	for _, command := range commands {
		program, args, err := tokenizeCommand(command)
		if err != nil {
			return StageReport{}, err
		}
		if !allowedPrograms[program] {
			return StageReport{}, fmt.Errorf("validation command %q uses a program outside the allowlist", command)
		}

		var result CommandReport
		if p.runCommand != nil {
			result, err = p.runCommand(ctx, program, args)
		} else {
			result, err = p.execute(ctx, program, args)
		}
		if err != nil {
			return StageReport{}, err
		}
		result.Command = command
		stage.Commands = append(stage.Commands, result)

		if result.ExitCode != 0 {
			stage.OK = false
			break
		}
	}
	return stage, nil
}

func (p *Pipeline) execute(ctx context.Context, program string, args []string) (CommandReport, error) {
	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, program, args...)
	cmd.Dir = p.WorkspaceRoot

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return CommandReport{}, fmt.Errorf("run %s: %w", program, runErr)
		}
	}

	return CommandReport{
		ExitCode:   exitCode,
		StdoutTail: tailText(stdout.String(), tailBytes),
		StderrTail: tailText(stderr.String(), tailBytes),
		DurationMs: duration.Milliseconds(),
	}, nil
}

// tokenizeCommand splits a command line with simple single/double-quote
// awareness; no shell is ever involved.
func tokenizeCommand(command string) (string, []string, error) {
	var tokens []string
	var current strings.Builder
	var quote rune
	inToken := false

	for _, r := range command {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				tokens = append(tokens, current.String())
				current.Reset()
				inToken = false
			}
		default:
			current.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return "", nil, fmt.Errorf("unterminated quote in validation command %q", command)
	}
	if inToken {
		tokens = append(tokens, current.String())
	}
	if len(tokens) == 0 {
		return "", nil, fmt.Errorf("empty validation command")
	}
	return tokens[0], tokens[1:], nil
}

// tailText keeps the last max bytes of text, marking the elision.
func tailText(text string, max int) string {
	if len(text) <= max {
		return text
	}
	return "..[truncated].." + text[len(text)-max:]
}
