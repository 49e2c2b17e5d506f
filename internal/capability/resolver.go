package capability

import (
	"strings"
	"time"
)

// Provider is the closed set of LLM providers the engine can target.
type Provider string

const (
	ProviderOpenAI           Provider = "openai"
	ProviderCodex            Provider = "codex"
	ProviderClaude           Provider = "claude"
	ProviderGemini           Provider = "gemini"
	ProviderOpenAICompatible Provider = "openaiapi"
)

// Resolver composes static defaults, the persistent cache, config
// overrides, and the user's declared switches into a NegotiatedCapabilities.
type Resolver struct{}

// Resolve implements the four-layer resolution described in component C4.
func (Resolver) Resolve(
	workspaceRoot string,
	provider Provider,
	apiURL string,
	model string,
	userSupportTools bool,
	configOverride *Overlay,
) (NegotiatedCapabilities, error) {
	normalizedURL := normalizeAPIURL(apiURL)

	sources := []string{"static"}
	caps := staticDefaultCapabilities(provider, apiURL)

	if cache, err := loadCacheFile(workspaceRoot); err == nil {
		now := time.Now()
		if snapshot, ok := cache.getSnapshot(string(provider), normalizedURL, model, now); ok {
			if snapshot.Expired {
				sources = append(sources, "cache:expired")
			} else {
				caps = snapshot.Capabilities
				sources = append(sources, "cache:active")
			}
		}
	}

	if configOverride != nil {
		caps = configOverride.ApplyTo(caps)
		sources = append(sources, configOverride.SourceTags()...)
	}

	toolsEnabled := userSupportTools && caps.Tools
	systemPreambleEnabled := caps.SystemPreamble
	endpoint := EndpointChatCompletions
	if provider == ProviderOpenAI && caps.ResponsesAPI {
		endpoint = EndpointResponsesAPI
	}

	return NegotiatedCapabilities{
		ProviderCapabilities:  caps,
		ToolsEnabled:          toolsEnabled,
		SystemPreambleEnabled: systemPreambleEnabled,
		Endpoint:              endpoint,
		StreamEnabled:         caps.Stream,
		Sources:               sources,
	}, nil
}

// InspectCacheEntry returns a read-only snapshot of the cache entry for the
// given key, if any, without mutating the cache file.
func (Resolver) InspectCacheEntry(workspaceRoot string, provider Provider, apiURL, model string) (CacheSnapshot, bool, error) {
	cache, err := loadCacheFile(workspaceRoot)
	if err != nil {
		return CacheSnapshot{}, false, err
	}
	snapshot, ok := cache.getSnapshot(string(provider), normalizeAPIURL(apiURL), model, time.Now())
	return snapshot, ok, nil
}

// WritebackCache merges capabilities into the cache under the default
// runtime-fallback context.
func (Resolver) WritebackCache(workspaceRoot string, provider Provider, apiURL, model string, caps Caps) error {
	return Resolver{}.WritebackCacheWithContext(workspaceRoot, provider, apiURL, model, caps, RuntimeWriteback("runtime_fallback"))
}

// WritebackCacheWithContext merges capabilities into the cache under an
// explicit writeback context (reason, source, TTL, confidence).
func (Resolver) WritebackCacheWithContext(workspaceRoot string, provider Provider, apiURL, model string, caps Caps, ctx WritebackContext) error {
	normalizedURL := normalizeAPIURL(apiURL)
	cache, err := loadCacheFile(workspaceRoot)
	if err != nil {
		cache = cacheFile{Version: cacheFileVersion}
	}
	cache.upsert(string(provider), normalizedURL, model, caps, ctx)
	return saveCacheFile(workspaceRoot, cache)
}

// ResetCacheEntries removes cache entries matching the optional provider and
// model filters (nil filter matches everything) and returns the count
// removed.
func (Resolver) ResetCacheEntries(workspaceRoot string, provider, model *string) (int, error) {
	cache, err := loadCacheFile(workspaceRoot)
	if err != nil {
		return 0, err
	}
	removed := cache.removeMatching(provider, model)
	if removed == 0 {
		return 0, nil
	}
	if err := saveCacheFile(workspaceRoot, cache); err != nil {
		return 0, err
	}
	return removed, nil
}

func normalizeAPIURL(apiURL string) string {
	return strings.TrimSuffix(strings.TrimSpace(apiURL), "/")
}

// staticDefaultCapabilities is a pure function of provider identity and
// whether a non-empty custom base URL was supplied. Gateways fronting a
// given provider frequently do not support tools or the responses API, so
// OpenAI's defaults are conservative whenever a custom base URL is present.
func staticDefaultCapabilities(provider Provider, apiURL string) Caps {
	hasCustomBaseURL := strings.TrimSpace(apiURL) != ""

	switch provider {
	case ProviderOpenAI:
		return Caps{
			Tools:          !hasCustomBaseURL,
			SystemPreamble: true,
			ResponsesAPI:   !hasCustomBaseURL,
			Stream:         true,
		}
	case ProviderCodex, ProviderClaude, ProviderGemini:
		return Caps{
			Tools:          true,
			SystemPreamble: true,
			ResponsesAPI:   false,
			Stream:         true,
		}
	default:
		// OpenAI-compatible gateways default conservatively until a
		// request proves otherwise.
		return Caps{
			Tools:          false,
			SystemPreamble: true,
			ResponsesAPI:   false,
			Stream:         true,
		}
	}
}
