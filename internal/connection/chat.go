package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// chatCompletionsRequest is the payload for POST {base}/chat/completions,
// compatible with OpenAI and the gateways that imitate it.
type chatCompletionsRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Tools    []Tool    `json:"tools,omitempty"`
	Stream   bool      `json:"stream,omitempty"`
}

type chatCompletionsResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		FinishReason string  `json:"finish_reason"`
		Message      Message `json:"message"`
	} `json:"choices"`
}

// streamChunk is one SSE data payload of a streamed chat completion.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// chatClient serves OpenAI's chat-completions endpoint and every
// OpenAI-compatible gateway (Codex included).
type chatClient struct {
	baseURL    string
	apiKey     string
	model      string
	preamble   string
	httpClient *http.Client
	retry      RetryPolicy
}

func (c *chatClient) endpoint() string {
	return strings.TrimRight(c.baseURL, "/") + "/chat/completions"
}

func (c *chatClient) Prompt(ctx context.Context, text string) (string, error) {
	result, err := c.Chat(ctx, ChatRequest{Messages: c.withPreamble([]Message{{Role: RoleUser, Content: text}})})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func (c *chatClient) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	payload := chatCompletionsRequest{
		Model:    c.model,
		Messages: c.withPreamble(req.Messages),
		Tools:    req.Tools,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ChatResult{}, fmt.Errorf("marshal request: %w", err)
	}

	attempts := c.retry.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	idemKey := newIdempotencyKey()

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		resp, derr := c.post(ctx, c.endpoint(), body, idemKey)
		if derr != nil {
			lastErr = derr
			if attempt < attempts-1 && isRetryableError(derr) {
				sleepFunc(c.retry.retryDelay(attempt))
				continue
			}
			return ChatResult{}, fmt.Errorf("chat POST failed: %v (base=%s, http-timeout=%s)", derr, c.baseURL, c.httpClient.Timeout)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			if attempt < attempts-1 && isRetryableError(readErr) {
				sleepFunc(c.retry.retryDelay(attempt))
				continue
			}
			return ChatResult{}, fmt.Errorf("read response body: %w", readErr)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			if attempt < attempts-1 && (resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500) {
				if ra, ok := retryAfterDuration(resp.Header.Get("Retry-After"), time.Now()); ok {
					sleepFunc(ra)
				} else {
					sleepFunc(c.retry.retryDelay(attempt))
				}
				continue
			}
			return ChatResult{}, fmt.Errorf("chat API %s: %d: %s", c.endpoint(), resp.StatusCode, truncateBody(string(respBody), 2000))
		}

		var decoded chatCompletionsResponse
		if err := json.Unmarshal(respBody, &decoded); err != nil {
			return ChatResult{}, fmt.Errorf("decode response: %w; body: %s", err, truncateBody(string(respBody), 1000))
		}
		if len(decoded.Choices) == 0 {
			return ChatResult{}, fmt.Errorf("chat API returned no choices")
		}
		choice := decoded.Choices[0]
		return ChatResult{Content: choice.Message.Content, ToolCalls: choice.Message.ToolCalls}, nil
	}
	if lastErr != nil {
		return ChatResult{}, lastErr
	}
	return ChatResult{}, fmt.Errorf("chat request failed without a specific error")
}

// StreamChat performs a streaming chat completion (SSE) and delivers deltas
// to onEvent as they arrive. Retries are not applied in streaming mode.
func (c *chatClient) StreamChat(ctx context.Context, req ChatRequest, onEvent func(StreamEvent)) error {
	payload := chatCompletionsRequest{
		Model:    c.model,
		Messages: c.withPreamble(req.Messages),
		Tools:    req.Tools,
		Stream:   true,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, derr := c.post(ctx, c.endpoint(), body, newIdempotencyKey())
	if derr != nil {
		return derr
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, rerr := io.ReadAll(resp.Body)
		if rerr != nil {
			return fmt.Errorf("chat API %s: %d: <read error>", c.endpoint(), resp.StatusCode)
		}
		return fmt.Errorf("chat API %s: %d: %s", c.endpoint(), resp.StatusCode, truncateBody(string(b), 2000))
	}
	if err := requireSSE(resp); err != nil {
		return err
	}

	return readSSE(resp.Body, func(payload string) error {
		var chunk streamChunk
		if jerr := json.Unmarshal([]byte(payload), &chunk); jerr != nil {
			// Skip malformed chunk
			return nil
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				onEvent(StreamEvent{Kind: StreamDelta, Content: choice.Delta.Content})
			}
		}
		return nil
	})
}

func (c *chatClient) post(ctx context.Context, endpoint string, body []byte, idemKey string) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	httpReq.Header.Set("Idempotency-Key", idemKey)
	return c.httpClient.Do(httpReq)
}

func (c *chatClient) withPreamble(messages []Message) []Message {
	if c.preamble == "" {
		return messages
	}
	if len(messages) > 0 && messages[0].Role == RoleSystem {
		return messages
	}
	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: RoleSystem, Content: c.preamble})
	return append(out, messages...)
}
