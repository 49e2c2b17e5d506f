// Package capability implements the persistent capability cache (C3) and
// the layered capability resolver (C4).
package capability

const (
	cacheFileVersion       = 2
	defaultCacheTTLSeconds = 24 * 60 * 60
	defaultCacheConfidence = 0.8
	minCacheTTLSeconds     = 1
	maxCacheTTLSeconds     = 365 * 24 * 60 * 60
)

// Endpoint is the concrete HTTP surface selected for a request.
type Endpoint string

const (
	EndpointResponsesAPI    Endpoint = "responses_api"
	EndpointChatCompletions Endpoint = "chat_completions"
)

// Caps describes what a provider is known to support, independent of
// whether the user wants a given feature enabled.
type Caps struct {
	Tools          bool `json:"supports_tools"`
	SystemPreamble bool `json:"supports_system_preamble"`
	ResponsesAPI   bool `json:"supports_responses_api"`
	Stream         bool `json:"supports_stream"`
}

// Downgrade applies delta, only ever moving a field from true to false.
func (c Caps) Downgrade(delta Overlay) Caps {
	if delta.Tools != nil && !*delta.Tools {
		c.Tools = false
	}
	if delta.SystemPreamble != nil && !*delta.SystemPreamble {
		c.SystemPreamble = false
	}
	if delta.ResponsesAPI != nil && !*delta.ResponsesAPI {
		c.ResponsesAPI = false
	}
	if delta.Stream != nil && !*delta.Stream {
		c.Stream = false
	}
	return c
}

// Overlay is a partial Caps used for config overrides and fallback steps;
// every field is independently present or absent.
type Overlay struct {
	Tools          *bool `json:"supports_tools,omitempty"`
	SystemPreamble *bool `json:"supports_system_preamble,omitempty"`
	ResponsesAPI   *bool `json:"supports_responses_api,omitempty"`
	Stream         *bool `json:"supports_stream,omitempty"`
}

// ApplyTo overwrites each present field of base with the overlay's value.
func (o Overlay) ApplyTo(base Caps) Caps {
	if o.Tools != nil {
		base.Tools = *o.Tools
	}
	if o.SystemPreamble != nil {
		base.SystemPreamble = *o.SystemPreamble
	}
	if o.ResponsesAPI != nil {
		base.ResponsesAPI = *o.ResponsesAPI
	}
	if o.Stream != nil {
		base.Stream = *o.Stream
	}
	return base
}

// SourceTags renders the overlay's present fields as log-friendly
// provenance tags.
func (o Overlay) SourceTags() []string {
	var tags []string
	if o.Tools != nil {
		tags = append(tags, "config:tools")
	}
	if o.SystemPreamble != nil {
		tags = append(tags, "config:system_preamble")
	}
	if o.ResponsesAPI != nil {
		tags = append(tags, "config:responses_api")
	}
	if o.Stream != nil {
		tags = append(tags, "config:stream")
	}
	return tags
}

func boolPtr(v bool) *bool { return &v }

// NegotiatedCapabilities is the resolved enable/disable policy for one
// request.
type NegotiatedCapabilities struct {
	ProviderCapabilities  Caps
	ToolsEnabled          bool
	SystemPreambleEnabled bool
	Endpoint              Endpoint
	StreamEnabled         bool
	Sources               []string
}

// Source identifies where a cached capability entry came from.
type Source string

const (
	SourceRuntimeWriteback Source = "runtime_writeback"
	SourceConfigOverride   Source = "config_override"
	SourceManualReset      Source = "manual_reset"
	SourceUnknown          Source = "unknown"
)

// WritebackContext carries the reason, provenance, TTL, and confidence for
// a cache writeback.
type WritebackContext struct {
	Reason     string
	Source     Source
	TTLSeconds uint64
	Confidence float32
}

// RuntimeWriteback builds a WritebackContext with the default TTL and
// confidence for a runtime-learned downgrade.
func RuntimeWriteback(reason string) WritebackContext {
	return WritebackContext{
		Reason:     reason,
		Source:     SourceRuntimeWriteback,
		TTLSeconds: defaultCacheTTLSeconds,
		Confidence: defaultCacheConfidence,
	}
}

// WithTTLSeconds returns a copy of ctx with ttlSeconds clamped to the
// [1s, 365d] range the cache persists.
func (ctx WritebackContext) WithTTLSeconds(ttlSeconds uint64) WritebackContext {
	ctx.TTLSeconds = clampTTLSeconds(ttlSeconds)
	return ctx
}

func clampTTLSeconds(ttl uint64) uint64 {
	if ttl < minCacheTTLSeconds {
		return minCacheTTLSeconds
	}
	if ttl > maxCacheTTLSeconds {
		return maxCacheTTLSeconds
	}
	return ttl
}

// WithConfidence returns a copy of ctx with confidence clamped to [0,1].
func (ctx WritebackContext) WithConfidence(confidence float32) WritebackContext {
	ctx.Confidence = clampFloat32(confidence, 0, 1)
	return ctx
}

func clampFloat32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// CacheSnapshot is a read-only view of one cache entry, with expiry
// computed against the current time.
type CacheSnapshot struct {
	Provider            string
	APIURL              string
	Model               string
	Capabilities        Caps
	Reason              string
	FirstSeenAt         string
	LastSeenAt          string
	TTLSeconds          uint64
	Confidence          float32
	Source              Source
	Expired             bool
	ExpiresAt           string
	RemainingTTLSeconds uint64
}
