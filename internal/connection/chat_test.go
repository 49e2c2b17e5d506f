package connection

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChatClient(t *testing.T, handler http.HandlerFunc) *chatClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return &chatClient{
		baseURL:    server.URL,
		apiKey:     "test-key",
		model:      "model-x",
		httpClient: server.Client(),
	}
}

func TestChatClientSendsAuthAndIdempotencyHeaders(t *testing.T) {
	var gotAuth, gotIdem string
	client := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hi"}}]}`))
	})

	result, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hello"}}})
	require.NoError(t, err)
	assert.Equal(t, "hi", result.Content)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Contains(t, gotIdem, "order-")
}

func TestChatClientPrependsPreambleOnce(t *testing.T) {
	var decoded chatCompletionsRequest
	client := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&decoded))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	})
	client.preamble = "be terse"

	_, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}})
	require.NoError(t, err)
	require.Len(t, decoded.Messages, 2)
	assert.Equal(t, RoleSystem, decoded.Messages[0].Role)
	assert.Equal(t, "be terse", decoded.Messages[0].Content)
}

func TestChatClientSurfacesToolCalls(t *testing.T) {
	client := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"read_file","arguments":"{\"path\":\"a.txt\"}"}}
		]}}]}`))
	})

	result, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "read a.txt"}}})
	require.NoError(t, err)
	require.Len(t, result.ToolCalls, 1)
	assert.Equal(t, "read_file", result.ToolCalls[0].Function.Name)
}

func TestChatClientReturnsBodyOnHTTPError(t *testing.T) {
	client := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"tools are not supported","code":"invalid_request_error"}}`))
	})

	_, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "tools are not supported")
}

func TestChatClientRetriesOn500ThenSucceeds(t *testing.T) {
	restore := sleepFunc
	sleepFunc = func(time.Duration) {}
	defer func() { sleepFunc = restore }()

	calls := 0
	client := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"recovered"}}]}`))
	})
	client.retry = RetryPolicy{MaxRetries: 1}

	result, err := client.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}})
	require.NoError(t, err)
	assert.Equal(t, "recovered", result.Content)
	assert.Equal(t, 2, calls)
}

func TestChatClientStreamDeliversDeltas(t *testing.T) {
	client := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"hel\"}}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}]}\n\n" +
				"data: [DONE]\n\n"))
	})

	var got string
	err := client.StreamChat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}}, func(event StreamEvent) {
		if event.Kind == StreamDelta {
			got += event.Content
		}
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
}

func TestChatClientStreamRejectsNonSSEResponse(t *testing.T) {
	client := newTestChatClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"not streamed"}}]}`))
	})

	err := client.StreamChat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "q"}}}, func(StreamEvent) {})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not support streaming")
}
