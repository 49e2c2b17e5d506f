package main

import (
	"flag"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ShirasawaTopaz/order/internal/capability"
)

// boolFlexFlag wires a bool destination and records whether it was set via
// flag, so an unset flag can fall back to an env var or default.
type boolFlexFlag struct {
	dst *bool
	set *bool
}

func (b *boolFlexFlag) String() string {
	if b == nil || b.dst == nil || !*b.dst {
		return "false"
	}
	return "true"
}

func (b *boolFlexFlag) Set(s string) error {
	v, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	if b.dst != nil {
		*b.dst = v
	}
	if b.set != nil {
		*b.set = true
	}
	return nil
}

func (b *boolFlexFlag) IsBoolFlag() bool { return true }

// durationFlexFlag accepts either a Go duration ("30s") or a bare number of
// seconds ("30").
type durationFlexFlag struct {
	dst *time.Duration
}

func (d *durationFlexFlag) String() string {
	if d == nil || d.dst == nil {
		return "0s"
	}
	return d.dst.String()
}

func (d *durationFlexFlag) Set(s string) error {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		*d.dst = time.Duration(secs) * time.Second
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d.dst = v
	return nil
}

// runFlags holds the connection flags shared by the run and stream
// subcommands.
type runFlags struct {
	provider     string
	model        string
	baseURL      string
	apiKey       string
	preamble     string
	workspace    string
	supportTools bool
	httpTimeout  time.Duration
}

func newRunFlagSet(name string, flags *runFlags) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.StringVar(&flags.provider, "provider", "openai", "provider id: openai, codex, claude, gemini, openaiapi")
	fs.StringVar(&flags.model, "model", "", "model identifier (required)")
	fs.StringVar(&flags.baseURL, "base-url", "", "custom base URL; empty uses the provider default")
	fs.StringVar(&flags.apiKey, "api-key", "", "API key; empty falls back to the provider's env var")
	fs.StringVar(&flags.preamble, "preamble", "", "system preamble text")
	fs.StringVar(&flags.workspace, "workspace", ".", "workspace root directory")
	flags.supportTools = true
	fs.Var(&boolFlexFlag{dst: &flags.supportTools}, "support-tools", "declare whether the user wants tool calls (true/false)")
	flags.httpTimeout = 120 * time.Second
	fs.Var(&durationFlexFlag{dst: &flags.httpTimeout}, "http-timeout", "HTTP timeout as duration or seconds")
	return fs
}

func parseProvider(s string) (capability.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return capability.ProviderOpenAI, nil
	case "codex":
		return capability.ProviderCodex, nil
	case "claude":
		return capability.ProviderClaude, nil
	case "gemini":
		return capability.ProviderGemini, nil
	case "openaiapi", "openai-compatible":
		return capability.ProviderOpenAICompatible, nil
	default:
		return "", fmt.Errorf("unknown provider %q (want openai, codex, claude, gemini, or openaiapi)", s)
	}
}
