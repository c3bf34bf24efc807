package completion

import (
	"context"
	"fmt"
	"net/http"
)

const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Provider is a hosted completion API
type Provider interface {
	// Call makes a single request with no retries
	Call(ctx context.Context, request Request) (*Response, error)

	// Name returns the provider name
	Name() string
}

// Message is one role/content pair sent to the model
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request contains the parameters of one completion call
type Request struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Response is the provider-neutral result of a call
type Response struct {
	Content string
	Usage   TokenUsage
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// ProviderOptions configures provider construction
type ProviderOptions struct {
	APIKey string

	// BaseURL overrides the API endpoint, e.g. for a proxy or a test server.
	BaseURL string

	HTTPClient *http.Client
}

// NewProvider creates a provider by name
func NewProvider(name string, opts ProviderOptions) (Provider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", name)
	}

	switch name {
	case ProviderOpenAI:
		return NewOpenAIProvider(opts), nil
	case ProviderAnthropic:
		return NewAnthropicProvider(opts), nil
	default:
		return nil, fmt.Errorf("unsupported provider: %s", name)
	}
}
