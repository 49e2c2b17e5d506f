package classify

import (
	"errors"
	"testing"

	"github.com/ShirasawaTopaz/order/internal/capability"
	"github.com/stretchr/testify/assert"
)

func flags(tools, stream, responses bool) RequestFeatureFlags {
	return RequestFeatureFlags{ToolsEnabled: tools, StreamEnabled: stream, ResponsesEnabled: responses}
}

func TestClassifyOpenAIFixtureToolsUnsupported(t *testing.T) {
	err := errors.New("400 Bad Request: tool definitions are not supported for this model")
	result := Classifier{}.Classify(err, capability.EndpointChatCompletions, flags(true, false, false))
	assert.Equal(t, CategoryToolsUnsupported, result.Category)
	assert.True(t, result.IsDegradable())
}

func TestClassifyCodexFixtureFailedToGetToolDefinitions(t *testing.T) {
	err := errors.New("failed to get tool definitions from upstream")
	result := Classifier{}.Classify(err, capability.EndpointChatCompletions, flags(true, false, false))
	assert.Equal(t, CategoryToolsUnsupported, result.Category)
}

func TestClassifyResponsesNotFound(t *testing.T) {
	err := errors.New(`{"status": 404, "message": "unknown endpoint: /responses is not supported"}`)
	result := Classifier{}.Classify(err, capability.EndpointResponsesAPI, flags(false, false, true))
	assert.Equal(t, CategoryResponsesUnsupported, result.Category)
	assert.NotNil(t, result.StatusCode)
	assert.Equal(t, 404, *result.StatusCode)
}

func TestClassifyAuthError(t *testing.T) {
	err := errors.New("401 Unauthorized: invalid api key provided")
	result := Classifier{}.Classify(err, capability.EndpointChatCompletions, flags(false, false, false))
	assert.Equal(t, CategoryAuthError, result.Category)
	assert.False(t, result.IsDegradable())
}

func TestClassifyRateLimited(t *testing.T) {
	err := errors.New("429 Too Many Requests: rate limit exceeded")
	result := Classifier{}.Classify(err, capability.EndpointChatCompletions, flags(false, false, false))
	assert.Equal(t, CategoryRateLimited, result.Category)
}

func TestClassifyStreamUnsupported(t *testing.T) {
	err := errors.New("400 Bad Request: streaming is not supported by current endpoint")
	result := Classifier{}.Classify(err, capability.EndpointChatCompletions, flags(false, true, false))
	assert.Equal(t, CategoryStreamUnsupported, result.Category)
}

func TestClassifyDoesNotPromoteUnknownWithoutFeatureFlag(t *testing.T) {
	err := errors.New("400 Bad Request: tool definitions are not supported for this model")
	result := Classifier{}.Classify(err, capability.EndpointChatCompletions, flags(false, false, false))
	assert.Equal(t, CategoryUnknown, result.Category)
}

func TestClassifyTransientNetwork(t *testing.T) {
	err := errors.New("connection reset by peer")
	result := Classifier{}.Classify(err, capability.EndpointChatCompletions, flags(false, false, false))
	assert.Equal(t, CategoryTransientNetwork, result.Category)
}

func TestExtractStatusCodeSkipsDigitsInsideLongerRuns(t *testing.T) {
	assert.Nil(t, extractStatusCode("request 4291756 failed"), "a 3-digit window inside a longer run is not a status")

	code := extractStatusCode("upstream returned 502 while proxying")
	if assert.NotNil(t, code) {
		assert.Equal(t, 502, *code)
	}
}

func TestExtractProviderErrorCode(t *testing.T) {
	result := Classifier{}.Classify(
		errors.New(`{"error":{"code":"invalid_api_key","message":"nope"}}`),
		capability.EndpointChatCompletions, flags(false, false, false))
	assert.Equal(t, CategoryAuthError, result.Category)
	if assert.NotNil(t, result.ProviderErrorCode) {
		assert.Equal(t, "invalid_api_key", *result.ProviderErrorCode)
	}
}

func TestConfidenceHintPerCategory(t *testing.T) {
	tests := []struct {
		category Category
		want     float32
	}{
		{CategoryToolsUnsupported, 0.92},
		{CategoryStreamUnsupported, 0.92},
		{CategoryAuthError, 0.9},
		{CategoryTransientNetwork, 0.7},
		{CategoryUnknown, 0.45},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ClassifiedError{Category: tc.category}.ConfidenceHint())
	}
}

func TestFirstLineSummaryTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 300; i++ {
		long += "x"
	}
	summary := firstLineSummary(long, 200)
	assert.Len(t, []rune(summary), 200)
	assert.Contains(t, summary, "..")
}
