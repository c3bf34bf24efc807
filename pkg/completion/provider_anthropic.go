package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicProvider implements Provider for the Anthropic Messages API
type AnthropicProvider struct {
	client anthropic.Client
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(opts ProviderOptions) *AnthropicProvider {
	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithMaxRetries(0),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return &AnthropicProvider{
		client: anthropic.NewClient(reqOpts...),
	}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return ProviderAnthropic
}

// Call makes a single Messages API request.
// System turns go to the system parameter; the rest must alternate starting with a user turn.
func (p *AnthropicProvider) Call(ctx context.Context, request Request) (*Response, error) {
	var system []string
	var turns []Message
	for _, msg := range request.Messages {
		switch msg.Role {
		case "system":
			system = append(system, msg.Content)
		case "user", "assistant":
			turns = append(turns, msg)
		default:
			return nil, fmt.Errorf("%w: unsupported role %q", ErrInvalidRequest, msg.Role)
		}
	}

	turns = alternateTurns(turns)
	if len(turns) == 0 {
		return nil, fmt.Errorf("%w: no user message", ErrInvalidRequest)
	}

	messages := make([]anthropic.MessageParam, 0, len(turns))
	for _, msg := range turns {
		if msg.Role == "user" {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		} else {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	maxTokens := int64(request.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(request.Model),
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(request.Temperature),
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{
			{Text: strings.Join(system, "\n\n")},
		}
	}

	response, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return nil, &APIError{Provider: ProviderAnthropic, StatusCode: apiErr.StatusCode, Err: err}
		}
		return nil, err
	}

	if len(response.Content) == 0 {
		return nil, ErrNoChoices
	}

	var content strings.Builder
	for _, block := range response.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			content.WriteString(b.Text)
		}
	}

	return &Response{
		Content: content.String(),
		Usage: TokenUsage{
			InputTokens:  int(response.Usage.InputTokens),
			OutputTokens: int(response.Usage.OutputTokens),
		},
	}, nil
}

// alternateTurns drops leading assistant turns and merges consecutive turns of the
// same role, which happens when an earlier completion failed after the user turn
// was recorded.
func alternateTurns(turns []Message) []Message {
	out := make([]Message, 0, len(turns))
	for _, msg := range turns {
		if len(out) == 0 && msg.Role != "user" {
			continue
		}
		if len(out) > 0 && out[len(out)-1].Role == msg.Role {
			out[len(out)-1].Content += "\n\n" + msg.Content
			continue
		}
		out = append(out, msg)
	}
	return out
}
