package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/ShirasawaTopaz/order/internal/connection"
	"github.com/ShirasawaTopaz/order/internal/engine"
	"github.com/ShirasawaTopaz/order/internal/memory"
	"github.com/ShirasawaTopaz/order/internal/modelinfo"
	"github.com/ShirasawaTopaz/order/internal/observability"
	"github.com/ShirasawaTopaz/order/internal/toolsurface"
)

// cmdRun serves both the run and stream subcommands; they share flags and
// differ only in how the reply reaches stdout.
func cmdRun(args []string, streaming bool, stdout, stderr io.Writer) int {
	var flags runFlags
	name := "run"
	if streaming {
		name = "stream"
	}
	fs := newRunFlagSet(name, &flags)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	provider, err := parseProvider(flags.provider)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	if strings.TrimSpace(flags.model) == "" {
		fmt.Fprintln(stderr, "-model is required")
		return 2
	}
	if _, known := modelinfo.Lookup(flags.model); !known {
		fmt.Fprintf(stderr, "warning: model %q is not in the known-model table; context budgeting uses defaults\n", flags.model)
	}

	workspace, err := filepath.Abs(flags.workspace)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		raw, readErr := io.ReadAll(os.Stdin)
		if readErr != nil {
			fmt.Fprintln(stderr, readErr)
			return 1
		}
		prompt = strings.TrimSpace(string(raw))
	}
	if prompt == "" {
		fmt.Fprintln(stderr, "no prompt given (pass arguments or pipe stdin)")
		return 2
	}

	apiKey := flags.apiKey
	if apiKey == "" {
		apiKey = connection.APIKeyFromEnv(provider)
	}
	baseURL := flags.baseURL
	if baseURL == "" {
		baseURL = connection.BaseURLFromEnv(provider)
	}

	configOverride, err := connection.LoadConfigOverride(workspace)
	if err != nil {
		fmt.Fprintf(stderr, "warning: ignoring connection.toml: %v\n", err)
	}

	logger := observability.NewLogger(workspace)
	logger.Warn = func(format string, warnArgs ...any) {
		fmt.Fprintf(stderr, "warning: "+format+"\n", warnArgs...)
	}

	mem, err := memory.Load(workspace)
	if err != nil {
		fmt.Fprintf(stderr, "warning: ignoring context memory: %v\n", err)
		mem = nil
	}

	eng := engine.New(engine.Options{
		WorkspaceRoot:  workspace,
		Provider:       provider,
		Model:          flags.model,
		APIKey:         apiKey,
		BaseURL:        baseURL,
		SupportTools:   flags.supportTools,
		SystemPreamble: flags.preamble,
		ConfigOverride: configOverride,
		HTTPTimeout:    flags.httpTimeout,
	}, logger, toolsurface.NewDispatcher(workspace, logger), mem)

	logger.Emit(observability.TuiInput{TS: observability.Now(), InputLen: len(prompt)})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if streaming {
		return streamToStdout(ctx, eng, prompt, stdout, stderr)
	}

	response, err := eng.Prompt(ctx, prompt)
	if err != nil {
		msg := err.Error()
		logger.Emit(observability.TuiOutput{TS: observability.Now(), OK: false, Error: &msg})
		fmt.Fprintln(stderr, err)
		return 1
	}
	outputLen := len(response.Content)
	logger.Emit(observability.TuiOutput{TS: observability.Now(), TraceID: response.TraceID, OK: true, OutputLen: &outputLen})
	fmt.Fprintln(stdout, response.Content)
	return 0
}

func streamToStdout(ctx context.Context, eng *engine.Engine, prompt string, stdout, stderr io.Writer) int {
	var cancel atomic.Bool
	go func() {
		<-ctx.Done()
		cancel.Store(true)
	}()

	_, err := eng.StreamChat(ctx, prompt, nil, &cancel, func(event connection.StreamEvent) {
		switch event.Kind {
		case connection.StreamDelta:
			fmt.Fprint(stdout, event.Content)
		case connection.StreamToolProgress:
			fmt.Fprintf(stderr, "[tool] %s\n", event.Message)
		case connection.StreamDone:
			fmt.Fprintln(stdout)
		case connection.StreamError:
			fmt.Fprintf(stderr, "stream error: %s\n", event.Message)
		}
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}
