package connection

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ShirasawaTopaz/order/internal/capability"
)

// Client is the provider surface the request engine drives. Implementations
// are stateless beyond their HTTP transport and safe for concurrent use.
type Client interface {
	Prompt(ctx context.Context, text string) (string, error)
	Chat(ctx context.Context, req ChatRequest) (ChatResult, error)
	StreamChat(ctx context.Context, req ChatRequest, onEvent func(StreamEvent)) error
}

// Builder collects everything needed to construct one provider client bound
// to a negotiated endpoint. A zero Timeout defaults to 120s, long enough for
// slow completions without hanging a stuck connection forever.
type Builder struct {
	Provider capability.Provider
	APIKey   string
	BaseURL  string
	Model    string
	Preamble string
	Endpoint capability.Endpoint
	Timeout  time.Duration
	Retry    RetryPolicy
}

// defaultBaseURLs per provider; a Builder.BaseURL overrides these.
var defaultBaseURLs = map[capability.Provider]string{
	capability.ProviderOpenAI: "https://api.openai.com/v1",
	capability.ProviderCodex:  "https://api.openai.com/v1",
	capability.ProviderClaude: "https://api.anthropic.com",
	capability.ProviderGemini: "https://generativelanguage.googleapis.com",
}

// apiKeyEnvVars maps each provider to the environment variable holding its
// key; apiBaseURLEnvVars holds the base-url counterparts.
var apiKeyEnvVars = map[capability.Provider]string{
	capability.ProviderOpenAI:           "OPENAI_API_KEY",
	capability.ProviderCodex:            "CODEX_API_KEY",
	capability.ProviderClaude:           "ANTHROPIC_API_KEY",
	capability.ProviderGemini:           "GEMINI_API_KEY",
	capability.ProviderOpenAICompatible: "OPENAI_API_KEY",
}

var apiBaseURLEnvVars = map[capability.Provider]string{
	capability.ProviderOpenAI:           "OPENAI_BASE_URL",
	capability.ProviderCodex:            "CODEX_BASE_URL",
	capability.ProviderClaude:           "ANTHROPIC_BASE_URL",
	capability.ProviderGemini:           "GEMINI_BASE_URL",
	capability.ProviderOpenAICompatible: "OPENAI_BASE_URL",
}

// APIKeyFromEnv returns the provider's key from its environment variable.
func APIKeyFromEnv(provider capability.Provider) string {
	if name, ok := apiKeyEnvVars[provider]; ok {
		return strings.TrimSpace(os.Getenv(name))
	}
	return ""
}

// BaseURLFromEnv returns the provider's base-url override from its
// environment variable, empty when unset.
func BaseURLFromEnv(provider capability.Provider) string {
	if name, ok := apiBaseURLEnvVars[provider]; ok {
		return strings.TrimSpace(os.Getenv(name))
	}
	return ""
}

// Build constructs the concrete client for the builder's provider and
// endpoint. The OpenAI responses endpoint is only honored for OpenAI proper;
// every other combination lands on the provider's chat surface.
func (b Builder) Build() (Client, error) {
	baseURL := strings.TrimSpace(b.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURLs[b.Provider]
	}
	if baseURL == "" {
		return nil, fmt.Errorf("provider %s requires an explicit base URL", b.Provider)
	}
	if strings.TrimSpace(b.Model) == "" {
		return nil, fmt.Errorf("model must not be empty")
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	httpClient := newHTTPClient(timeout)

	switch b.Provider {
	case capability.ProviderOpenAI:
		if b.Endpoint == capability.EndpointResponsesAPI {
			return &responsesClient{
				baseURL:    baseURL,
				apiKey:     b.APIKey,
				model:      b.Model,
				preamble:   b.Preamble,
				httpClient: httpClient,
				retry:      b.Retry,
			}, nil
		}
		return b.chatClient(baseURL, httpClient), nil
	case capability.ProviderCodex, capability.ProviderOpenAICompatible:
		return b.chatClient(baseURL, httpClient), nil
	case capability.ProviderClaude:
		return &claudeClient{
			baseURL:    baseURL,
			apiKey:     b.APIKey,
			model:      b.Model,
			preamble:   b.Preamble,
			httpClient: httpClient,
		}, nil
	case capability.ProviderGemini:
		return &geminiClient{
			baseURL:    baseURL,
			apiKey:     b.APIKey,
			model:      b.Model,
			preamble:   b.Preamble,
			httpClient: httpClient,
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", b.Provider)
	}
}

func (b Builder) chatClient(baseURL string, httpClient *http.Client) *chatClient {
	return &chatClient{
		baseURL:    baseURL,
		apiKey:     b.APIKey,
		model:      b.Model,
		preamble:   b.Preamble,
		httpClient: httpClient,
		retry:      b.Retry,
	}
}
