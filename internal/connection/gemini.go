package connection

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// geminiClient speaks the generativelanguage generateContent API.
type geminiClient struct {
	baseURL    string
	apiKey     string
	model      string
	preamble   string
	httpClient *http.Client
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

func (c *geminiClient) endpoint(method string) string {
	return fmt.Sprintf("%s/v1beta/models/%s:%s",
		strings.TrimRight(c.baseURL, "/"), url.PathEscape(c.model), method)
}

func (c *geminiClient) Prompt(ctx context.Context, text string) (string, error) {
	result, err := c.Chat(ctx, ChatRequest{Messages: []Message{{Role: RoleUser, Content: text}}})
	if err != nil {
		return "", err
	}
	return result.Content, nil
}

func (c *geminiClient) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return ChatResult{}, fmt.Errorf("marshal request: %w", err)
	}

	resp, derr := c.post(ctx, c.endpoint("generateContent"), body)
	if derr != nil {
		return ChatResult{}, fmt.Errorf("generateContent POST failed: %v (base=%s)", derr, c.baseURL)
	}
	respBody, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return ChatResult{}, fmt.Errorf("read response body: %w", readErr)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ChatResult{}, fmt.Errorf("generateContent API %s: %d: %s", c.endpoint("generateContent"), resp.StatusCode, truncateBody(string(respBody), 2000))
	}

	var decoded geminiResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return ChatResult{}, fmt.Errorf("decode response: %w; body: %s", err, truncateBody(string(respBody), 1000))
	}
	if len(decoded.Candidates) == 0 {
		return ChatResult{}, fmt.Errorf("generateContent API returned no candidates")
	}
	var text strings.Builder
	for _, part := range decoded.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	return ChatResult{Content: text.String()}, nil
}

func (c *geminiClient) StreamChat(ctx context.Context, req ChatRequest, onEvent func(StreamEvent)) error {
	body, err := json.Marshal(c.buildRequest(req))
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, derr := c.post(ctx, c.endpoint("streamGenerateContent")+"?alt=sse", body)
	if derr != nil {
		return derr
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("streamGenerateContent API: %d: %s", resp.StatusCode, truncateBody(string(b), 2000))
	}
	if err := requireSSE(resp); err != nil {
		return err
	}

	return readSSE(resp.Body, func(payload string) error {
		var chunk geminiResponse
		if jerr := json.Unmarshal([]byte(payload), &chunk); jerr != nil {
			return nil
		}
		for _, candidate := range chunk.Candidates {
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					onEvent(StreamEvent{Kind: StreamDelta, Content: part.Text})
				}
			}
		}
		return nil
	})
}

func (c *geminiClient) buildRequest(req ChatRequest) geminiRequest {
	out := geminiRequest{}
	if c.preamble != "" {
		out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: c.preamble}}}
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			if out.SystemInstruction == nil {
				out.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
			}
		case RoleAssistant:
			out.Contents = append(out.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			out.Contents = append(out.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}
	return out
}

func (c *geminiClient) post(ctx context.Context, endpoint string, body []byte) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("x-goog-api-key", c.apiKey)
	}
	return c.httpClient.Do(httpReq)
}
