package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResponsesClientMapsOutputTextAndFunctionCalls(t *testing.T) {
	var gotPath string
	var decoded responsesRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))
		_, _ = w.Write([]byte(`{"output":[
			{"type":"message","content":[{"type":"output_text","text":"part one "},{"type":"output_text","text":"part two"}]},
			{"type":"function_call","name":"read_file","call_id":"c1","arguments":"{\"path\":\"a\"}"}
		]}`))
	}))
	defer server.Close()

	client := &responsesClient{
		baseURL:    server.URL,
		apiKey:     "k",
		model:      "gpt-test",
		preamble:   "stay factual",
		httpClient: server.Client(),
	}

	result, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{
		{Role: RoleSystem, Content: "ignored, builder preamble wins"},
		{Role: RoleUser, Content: "q"},
	}})
	require.NoError(t, err)

	assert.Equal(t, "/responses", gotPath)
	assert.Equal(t, "stay factual", decoded.Instructions)
	require.Len(t, decoded.Input, 1, "system turns must not leak into input items")
	assert.Equal(t, "part one part two", result.Content)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "read_file", result.ToolCalls[0].Function.Name)
	assert.Equal(t, "c1", result.ToolCalls[0].ID)
}

func TestClaudeClientMapsMessagesAndHeaders(t *testing.T) {
	var gotVersion, gotKey string
	var decoded claudeRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"claude says hi"}],"stop_reason":"end_turn"}`))
	}))
	defer server.Close()

	client := &claudeClient{
		baseURL:    server.URL,
		apiKey:     "sk-test",
		model:      "claude-3-5-sonnet-latest",
		preamble:   "be brief",
		httpClient: server.Client(),
	}

	result, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi"},
		{Role: RoleTool, Content: "tool output"},
	}})
	require.NoError(t, err)

	assert.Equal(t, anthropicVersion, gotVersion)
	assert.Equal(t, "sk-test", gotKey)
	assert.Equal(t, "be brief", decoded.System)
	assert.Greater(t, decoded.MaxTokens, 0)
	require.Len(t, decoded.Messages, 3)
	assert.Equal(t, "user", decoded.Messages[2].Role, "tool results ride back as user turns")
	assert.Equal(t, "claude says hi", result.Content)
}

func TestGeminiClientMapsRolesAndEndpoint(t *testing.T) {
	var gotPath string
	var decoded geminiRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"gemini reply"}]}}]}`))
	}))
	defer server.Close()

	client := &geminiClient{
		baseURL:    server.URL,
		apiKey:     "g-key",
		model:      "gemini-2.0-flash",
		preamble:   "answer in english",
		httpClient: server.Client(),
	}

	result, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "a"},
	}})
	require.NoError(t, err)

	assert.Equal(t, "/v1beta/models/gemini-2.0-flash:generateContent", gotPath)
	require.NotNil(t, decoded.SystemInstruction)
	require.Len(t, decoded.Contents, 2)
	assert.Equal(t, "user", decoded.Contents[0].Role)
	assert.Equal(t, "model", decoded.Contents[1].Role)
	assert.Equal(t, "gemini reply", result.Content)
}

func TestClaudeStreamDeliversTextDeltas(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"event: content_block_delta\n" +
				"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"par\"}}\n\n" +
				"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"tial\"}}\n\n" +
				"data: {\"type\":\"message_stop\"}\n\n"))
	}))
	defer server.Close()

	client := &claudeClient{baseURL: server.URL, apiKey: "k", model: "m", httpClient: server.Client()}

	var got string
	err := client.StreamChat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}}, func(event StreamEvent) {
		if event.Kind == StreamDelta {
			got += event.Content
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "partial", got)
}
