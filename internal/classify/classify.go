// Package classify implements the error classifier (C5): it maps
// heterogeneous provider failures onto a stable taxonomy using status code,
// provider error code, message content, and the request's feature flags.
package classify

import (
	"strconv"
	"strings"

	"github.com/dlclark/regexp2"

	"github.com/ShirasawaTopaz/order/internal/capability"
)

// bareStatusRe finds a standalone 3-digit HTTP status token: the lookarounds
// keep it from firing inside longer digit runs like request ids, which
// stdlib RE2 cannot express directly.
var bareStatusRe = regexp2.MustCompile(`(?<!\d)[45]\d{2}(?!\d)`, regexp2.None)

// Category is the closed set of error classifications.
type Category string

const (
	CategoryToolsUnsupported     Category = "tools_unsupported"
	CategoryResponsesUnsupported Category = "responses_unsupported"
	CategoryStreamUnsupported    Category = "stream_unsupported"
	CategoryAuthError            Category = "auth_error"
	CategoryRateLimited          Category = "rate_limited"
	CategoryTransientNetwork     Category = "transient_network"
	CategoryUnknown              Category = "unknown"
)

// IsDegradable reports whether the category can be recovered from by a
// single capability fallback step.
func (c Category) IsDegradable() bool {
	switch c {
	case CategoryToolsUnsupported, CategoryResponsesUnsupported, CategoryStreamUnsupported:
		return true
	default:
		return false
	}
}

// RequestFeatureFlags records which features were requested, used to gate
// the classifier against false positives when a feature was never even in
// play.
type RequestFeatureFlags struct {
	ToolsEnabled     bool
	StreamEnabled    bool
	ResponsesEnabled bool
}

// FromNegotiated derives RequestFeatureFlags from a NegotiatedCapabilities.
func FromNegotiated(n capability.NegotiatedCapabilities) RequestFeatureFlags {
	return RequestFeatureFlags{
		ToolsEnabled:     n.ToolsEnabled,
		StreamEnabled:    n.StreamEnabled,
		ResponsesEnabled: n.Endpoint == capability.EndpointResponsesAPI,
	}
}

// ClassifiedError is the outcome of classifying one provider error.
type ClassifiedError struct {
	Category          Category
	StatusCode        *int
	ProviderErrorCode *string
	Endpoint          capability.Endpoint
	RequestFlags      RequestFeatureFlags
	Summary           string
}

func (c ClassifiedError) IsDegradable() bool {
	return c.Category.IsDegradable()
}

// ConfidenceHint returns the cache-writeback confidence heuristic for this
// category: higher for well-understood protocol incompatibilities, lower
// for unknown so it never entrenches a wrong guess for long.
func (c ClassifiedError) ConfidenceHint() float32 {
	switch c.Category {
	case CategoryToolsUnsupported, CategoryResponsesUnsupported, CategoryStreamUnsupported:
		return 0.92
	case CategoryAuthError, CategoryRateLimited:
		return 0.9
	case CategoryTransientNetwork:
		return 0.7
	default:
		return 0.45
	}
}

// Classifier maps a Go error plus request context onto exactly one Category.
type Classifier struct{}

// Classify evaluates the rule table in priority order, first match wins.
func (Classifier) Classify(err error, endpoint capability.Endpoint, flags RequestFeatureFlags) ClassifiedError {
	message := err.Error()
	normalized := strings.ToLower(message)
	statusCode := extractStatusCode(normalized)
	providerErrorCode := extractProviderErrorCode(normalized)

	category := classifyCategory(normalized, statusCode, providerErrorCode, flags)

	return ClassifiedError{
		Category:          category,
		StatusCode:        statusCode,
		ProviderErrorCode: providerErrorCode,
		Endpoint:          endpoint,
		RequestFlags:      flags,
		Summary:           firstLineSummary(message, 200),
	}
}

func classifyCategory(normalized string, statusCode *int, providerErrorCode *string, flags RequestFeatureFlags) Category {
	if isAuthError(normalized, statusCode, providerErrorCode) {
		return CategoryAuthError
	}
	if isRateLimited(normalized, statusCode, providerErrorCode) {
		return CategoryRateLimited
	}
	if isResponsesUnsupported(normalized, statusCode, flags) {
		return CategoryResponsesUnsupported
	}
	if isToolsUnsupported(normalized, statusCode, flags) {
		return CategoryToolsUnsupported
	}
	if isStreamUnsupported(normalized, statusCode, flags) {
		return CategoryStreamUnsupported
	}
	if isTransientNetwork(normalized, statusCode) {
		return CategoryTransientNetwork
	}
	return CategoryUnknown
}

func isAuthError(normalized string, statusCode *int, providerErrorCode *string) bool {
	if statusCode != nil && (*statusCode == 401 || *statusCode == 403) {
		return true
	}
	if hasAny(normalized, "unauthorized", "forbidden", "invalid api key", "invalid_api_key",
		"authentication failed", "auth failed", "permission denied") {
		return true
	}
	if providerErrorCode != nil && hasAny(*providerErrorCode, "invalid_api_key", "unauthorized", "forbidden", "authentication_error") {
		return true
	}
	return false
}

func isRateLimited(normalized string, statusCode *int, providerErrorCode *string) bool {
	if statusCode != nil && *statusCode == 429 {
		return true
	}
	if hasAny(normalized, "rate limit", "rate_limited", "too many requests", "quota exceeded", "insufficient_quota") {
		return true
	}
	if providerErrorCode != nil && hasAny(*providerErrorCode, "rate_limit", "rate_limited", "insufficient_quota", "too_many_requests") {
		return true
	}
	return false
}

func isToolsUnsupported(normalized string, statusCode *int, flags RequestFeatureFlags) bool {
	if !flags.ToolsEnabled {
		return false
	}
	mentionsTool := hasAny(normalized, "tool definitions", "tool definition", "tools are not supported",
		"tool call", "function_call", "tools")
	looksUnsupported := hasAny(normalized, "not support", "unsupported", "not available",
		"invalid parameter", "invalid_request_error", "400", "404")
	explicitFailure := strings.Contains(normalized, "failed to get tool definitions")

	return mentionsTool && (explicitFailure || looksUnsupported || (statusCode != nil && *statusCode == 400))
}

func isResponsesUnsupported(normalized string, statusCode *int, flags RequestFeatureFlags) bool {
	if !flags.ResponsesEnabled {
		return false
	}
	mentionsResponses := hasAny(normalized, "/responses", "responses api", "responses endpoint", "responses is not supported")
	looksUnsupported := hasAny(normalized, "not found", "unknown endpoint", "unsupported", "not support", "404")

	if mentionsResponses && looksUnsupported {
		return true
	}
	return statusCode != nil && *statusCode == 404 && strings.Contains(normalized, "responses")
}

func isStreamUnsupported(normalized string, statusCode *int, flags RequestFeatureFlags) bool {
	if !flags.StreamEnabled {
		return false
	}
	mentionsStream := hasAny(normalized, "stream", "streaming", "sse")
	looksUnsupported := hasAny(normalized, "not support", "unsupported", "invalid", "not found", "400", "404")

	return mentionsStream && (looksUnsupported || (statusCode != nil && *statusCode == 400))
}

func isTransientNetwork(normalized string, statusCode *int) bool {
	if statusCode != nil {
		switch *statusCode {
		case 408, 500, 502, 503, 504:
			return true
		}
	}
	return hasAny(normalized, "timeout", "timed out", "connection reset", "connection refused",
		"temporary failure", "temporarily unavailable", "dns", "network is unreachable",
		"broken pipe", "eof", "gateway timeout", "connection aborted")
}

func extractStatusCode(normalized string) *int {
	for _, marker := range []string{`"status":`, "status code", "status="} {
		if code := extractStatusAfterMarker(normalized, marker); code != nil {
			return code
		}
	}

	match, err := bareStatusRe.FindStringMatch(normalized)
	for err == nil && match != nil {
		value, convErr := strconv.Atoi(match.String())
		if convErr == nil && value >= 400 && value <= 599 {
			return &value
		}
		match, err = bareStatusRe.FindNextMatch(match)
	}
	return nil
}

func extractStatusAfterMarker(normalized, marker string) *int {
	idx := strings.Index(normalized, marker)
	if idx < 0 {
		return nil
	}
	suffix := normalized[idx+len(marker):]
	var digits strings.Builder
	started := false
	for _, r := range suffix {
		if r >= '0' && r <= '9' {
			started = true
			digits.WriteRune(r)
			continue
		}
		if started {
			break
		}
	}
	if digits.Len() < 3 {
		return nil
	}
	value, err := strconv.Atoi(digits.String())
	if err != nil {
		return nil
	}
	if value < 400 || value > 599 {
		return nil
	}
	return &value
}

func extractProviderErrorCode(normalized string) *string {
	for _, marker := range []string{`"code":"`, `"code": "`, "code=", "code:"} {
		if token := extractTokenAfterMarker(normalized, marker); token != "" {
			return &token
		}
	}
	return nil
}

func extractTokenAfterMarker(text, marker string) string {
	idx := strings.Index(text, marker)
	if idx < 0 {
		return ""
	}
	suffix := text[idx+len(marker):]
	var token strings.Builder
	for _, r := range suffix {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' || r == '-' || r == '.' {
			token.WriteRune(r)
			continue
		}
		break
	}
	return token.String()
}

func firstLineSummary(text string, maxChars int) string {
	firstLine := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		firstLine = text[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)

	runes := []rune(firstLine)
	if len(runes) <= maxChars {
		return firstLine
	}
	cut := maxChars - 2
	if cut < 0 {
		cut = 0
	}
	return string(runes[:cut]) + ".."
}

func hasAny(text string, needles ...string) bool {
	for _, needle := range needles {
		if strings.Contains(text, needle) {
			return true
		}
	}
	return false
}
