package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const anthropicVersion = "2023-06-01"

// claudeClient speaks the Anthropic messages API. Tool results are carried
// back as plain user turns; the engine's tool loop owns the call/result
// bookkeeping, so the client only needs text in and text-or-calls out.
type claudeClient struct {
	baseURL    string
	apiKey     string
	model      string
	preamble   string
	maxTokens  int
	httpClient *http.Client
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model     string          `json:"model"`
	MaxTokens int             `json:"max_tokens"`
	System    string          `json:"system,omitempty"`
	Messages  []claudeMessage `json:"messages"`
	Stream    bool            `json:"stream,omitempty"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type claudeStreamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (c *claudeClient) endpoint() string {
	return strings.TrimRight(c.baseURL, "/") + "/v1/messages"
}

func (c *claudeClient) Prompt(ctx context.Context, text string) (string, error) {
	result, err := c.Chat(ctx, ChatRequest{Messages: []Message{{Role: RoleUser, Content: text}}})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func (c *claudeClient) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	body, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return ChatResult{}, fmt.Errorf("marshal request: %w", err)
	}

	resp, derr := c.post(ctx, body)
	if derr != nil {
		return ChatResult{}, fmt.Errorf("messages POST failed: %v (base=%s)", derr, c.baseURL)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return ChatResult{}, fmt.Errorf("read response body: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ChatResult{}, fmt.Errorf("messages API %s: %d: %s", c.endpoint(), resp.StatusCode, truncateBody(string(respBody), 2000))
	}

	var decoded claudeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return ChatResult{}, fmt.Errorf("decode response: %w; body: %s", err, truncateBody(string(respBody), 1000))
	}
	var text strings.Builder
	for _, block := range decoded.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return ChatResult{Content: text.String()}, nil
}

func (c *claudeClient) StreamChat(ctx context.Context, req ChatRequest, onEvent func(StreamEvent)) error {
	body, err := json.Marshal(c.buildRequest(req, true))
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, derr := c.post(ctx, body)
	if derr != nil {
		return derr
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("messages API %s: %d: %s", c.endpoint(), resp.StatusCode, truncateBody(string(b), 2000))
	}
	if err := requireSSE(resp); err != nil {
		return err
	}

	return readSSE(resp.Body, func(payload string) error {
		var event claudeStreamEvent
		if jerr := json.Unmarshal([]byte(payload), &event); jerr != nil {
			return nil
		}
		if event.Type == "content_block_delta" && event.Delta.Type == "text_delta" && event.Delta.Text != "" {
			onEvent(StreamEvent{Kind: StreamDelta, Content: event.Delta.Text})
		}
		return nil
	})
}

func (c *claudeClient) buildRequest(req ChatRequest, stream bool) claudeRequest {
	out := claudeRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    c.preamble,
		Stream:    stream,
	}
	if out.MaxTokens <= 0 {
		out.MaxTokens = 4096
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if out.System == "" {
				out.System = m.Content
			}
		case RoleTool:
			out.Messages = append(out.Messages, claudeMessage{Role: "user", Content: m.Content})
		default:
			out.Messages = append(out.Messages, claudeMessage{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func (c *claudeClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	return c.httpClient.Do(httpReq)
}
