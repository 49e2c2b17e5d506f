package main

import (
	"flag"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/ShirasawaTopaz/order/internal/capability"
	"github.com/ShirasawaTopaz/order/internal/observability"
)

// cmdCapabilities inspects and resets the persistent capability cache.
func cmdCapabilities(args []string, stdout, stderr io.Writer) int {
	if len(args) < 1 {
		fmt.Fprintln(stderr, "usage: order capabilities show|reset [flags]")
		return 2
	}

	root, err := filepath.Abs(".")
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}

	switch args[0] {
	case "show":
		fs := flag.NewFlagSet("capabilities show", flag.ContinueOnError)
		fs.SetOutput(stderr)
		providerName := fs.String("provider", "", "provider id (required)")
		model := fs.String("model", "", "model identifier (required)")
		baseURL := fs.String("base-url", "", "custom base URL used when the entry was written")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}
		if *providerName == "" || *model == "" {
			fmt.Fprintln(stderr, "-provider and -model are required")
			return 2
		}
		provider, err := parseProvider(*providerName)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 2
		}

		snapshot, found, err := capability.Resolver{}.InspectCacheEntry(root, provider, *baseURL, *model)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		if !found {
			fmt.Fprintln(stdout, "no cache entry")
			return 0
		}
		printSnapshot(stdout, snapshot)
		return 0

	case "reset":
		fs := flag.NewFlagSet("capabilities reset", flag.ContinueOnError)
		fs.SetOutput(stderr)
		providerName := fs.String("provider", "", "only reset entries for this provider")
		model := fs.String("model", "", "only reset entries for this model")
		if err := fs.Parse(args[1:]); err != nil {
			return 2
		}

		var providerFilter, modelFilter *string
		if strings.TrimSpace(*providerName) != "" {
			providerFilter = providerName
		}
		if strings.TrimSpace(*model) != "" {
			modelFilter = model
		}

		removed, err := capability.Resolver{}.ResetCacheEntries(root, providerFilter, modelFilter)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}

		logger := observability.NewLogger(root)
		logger.Emit(observability.CapabilityCacheReset{
			TS:       observability.Now(),
			Provider: providerFilter,
			Model:    modelFilter,
			Removed:  removed,
		})

		fmt.Fprintf(stdout, "removed %d entries\n", removed)
		return 0

	default:
		fmt.Fprintf(stderr, "unknown capabilities action %q\n", args[0])
		return 2
	}
}

func printSnapshot(stdout io.Writer, s capability.CacheSnapshot) {
	fmt.Fprintf(stdout, "provider: %s\nmodel: %s\n", s.Provider, s.Model)
	if s.APIURL != "" {
		fmt.Fprintf(stdout, "base url: %s\n", s.APIURL)
	}
	fmt.Fprintf(stdout, "tools: %v  responses_api: %v  stream: %v  system_preamble: %v\n",
		s.Capabilities.Tools, s.Capabilities.ResponsesAPI, s.Capabilities.Stream, s.Capabilities.SystemPreamble)
	fmt.Fprintf(stdout, "source: %s  confidence: %.2f  reason: %s\n", s.Source, s.Confidence, s.Reason)
	if s.Expired {
		fmt.Fprintf(stdout, "expired at %s\n", s.ExpiresAt)
	} else {
		fmt.Fprintf(stdout, "expires at %s (%ds remaining)\n", s.ExpiresAt, s.RemainingTTLSeconds)
	}
}
