// Package toolsurface implements the workspace-scoped tools the model can
// invoke during a request: read, write (staged), search, and command. Every
// tool shares the safety package's path rules and is bounded by size, count,
// and time limits so a misbehaving model cannot run away with the host.
package toolsurface

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ShirasawaTopaz/order/internal/connection"
	"github.com/ShirasawaTopaz/order/internal/observability"
)

// Dispatcher routes model tool calls to their implementations, bracketing
// each call with tool_call_start/tool_call_end events.
type Dispatcher struct {
	WorkspaceRoot string
	Logger        *observability.Logger

	// now is a test seam for timestamps in staged writes.
	now func() time.Time
}

// NewDispatcher builds a Dispatcher rooted at workspaceRoot. A nil logger
// disables event emission.
func NewDispatcher(workspaceRoot string, logger *observability.Logger) *Dispatcher {
	return &Dispatcher{
		WorkspaceRoot: workspaceRoot,
		Logger:        logger,
		now:           time.Now,
	}
}

// Definitions returns the tool schemas advertised to the provider.
func (d *Dispatcher) Definitions() []connection.Tool {
	return []connection.Tool{
		toolDef("read_file", "Read a UTF-8 text file from the workspace.", `{
			"type": "object",
			"properties": {"path": {"type": "string", "description": "Workspace-relative file path."}},
			"required": ["path"]
		}`),
		toolDef("write_file", "Stage a file write for user review; nothing touches disk until approved.", `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Workspace-relative file path."},
				"content": {"type": "string", "description": "Full new content, or content to append."},
				"append": {"type": "boolean", "description": "Append instead of overwrite."}
			},
			"required": ["path", "content"]
		}`),
		toolDef("search_files", "Search workspace files for a keyword; returns path:line:content matches.", `{
			"type": "object",
			"properties": {
				"path": {"type": "string", "description": "Workspace-relative directory to search; defaults to the root."},
				"keyword": {"type": "string", "description": "Literal text to find."}
			},
			"required": ["keyword"]
		}`),
		toolDef("run_command", "Run a command inside the workspace with a wall-clock timeout.", `{
			"type": "object",
			"properties": {
				"command": {"type": "string", "description": "Command line to execute."},
				"timeout_seconds": {"type": "integer", "description": "Timeout in seconds, default 30, max 300."}
			},
			"required": ["command"]
		}`),
	}
}

func toolDef(name, description, schema string) connection.Tool {
	return connection.Tool{
		Type: "function",
		Function: connection.ToolFunction{
			Name:        name,
			Description: description,
			Parameters:  json.RawMessage(schema),
		},
	}
}

// Dispatch runs the named tool against argsJSON and returns its textual
// result for the model.
func (d *Dispatcher) Dispatch(ctx context.Context, traceID, name, argsJSON string) (string, error) {
	start := time.Now()
	d.emitStart(traceID, name)

	result, err := d.dispatch(ctx, traceID, name, argsJSON)

	d.emitEnd(traceID, name, time.Since(start), err)
	return result, err
}

func (d *Dispatcher) dispatch(ctx context.Context, traceID, name, argsJSON string) (string, error) {
	switch name {
	case "read_file":
		var args struct {
			Path string `json:"path"`
		}
		if err := decodeArgs(argsJSON, &args); err != nil {
			return "", err
		}
		return d.readFile(args.Path)
	case "write_file":
		var args struct {
			Path    string `json:"path"`
			Content string `json:"content"`
			Append  bool   `json:"append"`
		}
		if err := decodeArgs(argsJSON, &args); err != nil {
			return "", err
		}
		return d.stageWrite(traceID, args.Path, args.Content, args.Append)
	case "search_files":
		var args struct {
			Path    string `json:"path"`
			Keyword string `json:"keyword"`
		}
		if err := decodeArgs(argsJSON, &args); err != nil {
			return "", err
		}
		return d.search(args.Path, args.Keyword)
	case "run_command":
		var args struct {
			Command        string `json:"command"`
			TimeoutSeconds int    `json:"timeout_seconds"`
		}
		if err := decodeArgs(argsJSON, &args); err != nil {
			return "", err
		}
		return d.runCommand(ctx, args.Command, args.TimeoutSeconds)
	default:
		return "", fmt.Errorf("unknown tool %q", name)
	}
}

func decodeArgs(argsJSON string, into any) error {
	if err := json.Unmarshal([]byte(argsJSON), into); err != nil {
		return fmt.Errorf("invalid tool arguments: %w", err)
	}
	return nil
}

func (d *Dispatcher) emitStart(traceID, tool string) {
	if d.Logger == nil {
		return
	}
	d.Logger.Emit(observability.ToolCallStart{
		TS:      observability.Now(),
		TraceID: traceID,
		Tool:    tool,
	})
}

func (d *Dispatcher) emitEnd(traceID, tool string, duration time.Duration, err error) {
	if d.Logger == nil {
		return
	}
	event := observability.ToolCallEnd{
		TS:         observability.Now(),
		TraceID:    traceID,
		Tool:       tool,
		OK:         err == nil,
		DurationMs: duration.Milliseconds(),
	}
	if err != nil {
		msg := err.Error()
		event.Error = &msg
	}
	d.Logger.Emit(event)
}
