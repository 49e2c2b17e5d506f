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

// responsesClient serves OpenAI's responses endpoint. Only OpenAI proper is
// ever routed here; gateways and other providers stay on chat completions.
type responsesClient struct {
	baseURL    string
	apiKey     string
	model      string
	preamble   string
	httpClient *http.Client
	retry      RetryPolicy
}

type responsesInputItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responsesRequest struct {
	Model        string               `json:"model"`
	Input        []responsesInputItem `json:"input"`
	Instructions string               `json:"instructions,omitempty"`
	Tools        []responsesTool      `json:"tools,omitempty"`
	Stream       bool                 `json:"stream,omitempty"`
}

// responsesTool is the flattened function-tool shape the responses API
// expects, unlike the nested chat-completions shape.
type responsesTool struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type responsesResponse struct {
	ID     string `json:"id"`
	Output []struct {
		Type      string `json:"type"`
		Name      string `json:"name"`
		CallID    string `json:"call_id"`
		Arguments string `json:"arguments"`
		Content   []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

// responsesStreamEvent is one SSE payload of a streamed response; only the
// text-delta events carry content we surface.
type responsesStreamEvent struct {
	Type  string `json:"type"`
	Delta string `json:"delta"`
}

func (c *responsesClient) endpoint() string {
	return strings.TrimRight(c.baseURL, "/") + "/responses"
}

func (c *responsesClient) Prompt(ctx context.Context, text string) (string, error) {
	result, err := c.Chat(ctx, ChatRequest{Messages: []Message{{Role: RoleUser, Content: text}}})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func (c *responsesClient) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	body, err := json.Marshal(c.buildRequest(req, false))
	if err != nil {
		return ChatResult{}, fmt.Errorf("marshal request: %w", err)
	}

	resp, derr := c.post(ctx, body)
	if derr != nil {
		return ChatResult{}, fmt.Errorf("responses POST failed: %v (base=%s)", derr, c.baseURL)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return ChatResult{}, fmt.Errorf("read response body: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ChatResult{}, fmt.Errorf("responses API %s: %d: %s", c.endpoint(), resp.StatusCode, truncateBody(string(respBody), 2000))
	}

	var decoded responsesResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return ChatResult{}, fmt.Errorf("decode response: %w; body: %s", err, truncateBody(string(respBody), 1000))
	}

	var result ChatResult
	var text strings.Builder
	for _, item := range decoded.Output {
		switch item.Type {
		case "message":
			for _, part := range item.Content {
				if part.Type == "output_text" {
					text.WriteString(part.Text)
				}
			}
		case "function_call":
			result.ToolCalls = append(result.ToolCalls, ToolCall{
				ID:   item.CallID,
				Type: "function",
				Function: ToolCallFunction{
					Name:      item.Name,
					Arguments: item.Arguments,
				},
			})
		}
	}
	result.Content = text.String()
	return result, nil
}

func (c *responsesClient) StreamChat(ctx context.Context, req ChatRequest, onEvent func(StreamEvent)) error {
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
		return fmt.Errorf("responses API %s: %d: %s", c.endpoint(), resp.StatusCode, truncateBody(string(b), 2000))
	}
	if err := requireSSE(resp); err != nil {
		return err
	}

	return readSSE(resp.Body, func(payload string) error {
		var event responsesStreamEvent
		if jerr := json.Unmarshal([]byte(payload), &event); jerr != nil {
			return nil
		}
		if event.Type == "response.output_text.delta" && event.Delta != "" {
			onEvent(StreamEvent{Kind: StreamDelta, Content: event.Delta})
		}
		return nil
	})
}

func (c *responsesClient) buildRequest(req ChatRequest, stream bool) responsesRequest {
	out := responsesRequest{
		Model:        c.model,
		Instructions: c.preamble,
		Stream:       stream,
	}
	for _, m := range req.Messages {
		if m.Role == RoleSystem {
			if out.Instructions == "" {
				out.Instructions = m.Content
			}
			continue
		}
		out.Input = append(out.Input, responsesInputItem{Role: m.Role, Content: m.Content})
	}
	for _, t := range req.Tools {
		out.Tools = append(out.Tools, responsesTool{
			Type:        "function",
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	return out
}

func (c *responsesClient) post(ctx context.Context, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	httpReq.Header.Set("Idempotency-Key", newIdempotencyKey())
	return c.httpClient.Do(httpReq)
}
