package connection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ShirasawaTopaz/order/internal/capability"
)

func TestBuildSelectsClientByProviderAndEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		provider capability.Provider
		endpoint capability.Endpoint
		wantType any
	}{
		{"openai responses", capability.ProviderOpenAI, capability.EndpointResponsesAPI, &responsesClient{}},
		{"openai chat", capability.ProviderOpenAI, capability.EndpointChatCompletions, &chatClient{}},
		{"codex", capability.ProviderCodex, capability.EndpointChatCompletions, &chatClient{}},
		{"compatible gateway", capability.ProviderOpenAICompatible, capability.EndpointChatCompletions, &chatClient{}},
		{"claude", capability.ProviderClaude, capability.EndpointChatCompletions, &claudeClient{}},
		{"gemini", capability.ProviderGemini, capability.EndpointChatCompletions, &geminiClient{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			builder := Builder{
				Provider: tc.provider,
				Model:    "model-x",
				BaseURL:  "https://example.test/v1",
				Endpoint: tc.endpoint,
			}
			client, err := builder.Build()
			require.NoError(t, err)
			assert.IsType(t, tc.wantType, client)
		})
	}
}

func TestBuildRejectsEmptyModel(t *testing.T) {
	_, err := Builder{Provider: capability.ProviderOpenAI}.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model")
}

func TestBuildRequiresBaseURLForCompatibleProvider(t *testing.T) {
	_, err := Builder{Provider: capability.ProviderOpenAICompatible, Model: "m"}.Build()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base URL")
}

func TestRegistryReusesClientPerConnection(t *testing.T) {
	registry := NewRegistry()
	builder := Builder{
		Provider: capability.ProviderOpenAI,
		Model:    "Model-X",
		Endpoint: capability.EndpointChatCompletions,
	}

	first, firstID, err := registry.Get(builder)
	require.NoError(t, err)

	// Case differences in the model must not fork a second client.
	builder.Model = "model-x"
	second, secondID, err := registry.Get(builder)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, firstID, secondID)
}

func TestRegistryForksClientPerEndpoint(t *testing.T) {
	registry := NewRegistry()
	builder := Builder{Provider: capability.ProviderOpenAI, Model: "model-x", Endpoint: capability.EndpointResponsesAPI}

	responses, _, err := registry.Get(builder)
	require.NoError(t, err)

	builder.Endpoint = capability.EndpointChatCompletions
	chat, _, err := registry.Get(builder)
	require.NoError(t, err)

	assert.NotSame(t, responses, chat)
}

func TestLoadConfigOverrideMissingFileMeansNoOverride(t *testing.T) {
	overlay, err := LoadConfigOverride(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, overlay)
}
