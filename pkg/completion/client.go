package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/harun/vprtutor/internal/observability"
	"github.com/harun/vprtutor/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// Config holds the fixed request parameters and the retry policy
type Config struct {
	Model       string
	MaxTokens   int
	Temperature float64

	// Timeout bounds each attempt. Zero disables the per-attempt bound.
	Timeout time.Duration

	// MaxRetries is the number of extra attempts after the first one.
	MaxRetries  int
	BackoffBase time.Duration
	BackoffMax  time.Duration
}

// DefaultConfig returns the parameters the tutor bot runs with
func DefaultConfig() Config {
	return Config{
		Model:       "gpt-4o-mini",
		MaxTokens:   250,
		Temperature: 0.7,
		Timeout:     30 * time.Second,
		MaxRetries:  2,
		BackoffBase: time.Second,
		BackoffMax:  8 * time.Second,
	}
}

// Client performs completion calls against a Provider
type Client struct {
	provider Provider
	config   Config
	logger   zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a completion client
func NewClient(provider Provider, cfg Config, logger zerolog.Logger) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	observability.EnsureRegistered()

	return &Client{
		provider: provider,
		config:   cfg,
		logger:   logger.With().Str("component", "completion").Str("provider", provider.Name()).Logger(),
		sleep:    sleepContext,
	}, nil
}

// Provider returns the name of the underlying provider
func (c *Client) Provider() string {
	return c.provider.Name()
}

// Complete sends messages and returns the trimmed text of the first choice.
// Any failure is returned as *UnavailableError.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, span := tracing.StartSpan(
		ctx,
		"vprtutor.completion",
		"completion.complete",
		attribute.String("provider", c.provider.Name()),
		attribute.String("model", c.config.Model),
		attribute.Int("messages", len(messages)),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, c.logger)
	start := time.Now()

	request := Request{
		Model:       c.config.Model,
		Messages:    messages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	}

	maxAttempts := c.config.MaxRetries + 1
	var lastErr error
	var lastKind Kind
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		content, err := c.attempt(ctx, request)
		if err == nil {
			observability.RecordCompletion(c.provider.Name(), "success", time.Since(start))
			logger.Debug().
				Int("attempt", attempt).
				Dur("duration", time.Since(start)).
				Msg("Completion succeeded")
			return content, nil
		}

		lastErr = err
		lastKind = Classify(err)

		// The caller gave up; its context error wins over the attempt's.
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			lastKind = Classify(lastErr)
			break
		}

		if !lastKind.IsRetryable() || attempt == maxAttempts {
			break
		}

		delay := ExponentialBackoff(attempt-1, c.config.BackoffBase, c.config.BackoffMax)
		observability.RecordCompletionRetry(c.provider.Name(), string(lastKind))
		logger.Warn().
			Err(err).
			Str("kind", string(lastKind)).
			Int("attempt", attempt).
			Dur("delay", delay).
			Msg("Retrying completion after error")

		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			lastKind = Classify(err)
			break
		}
	}

	unavailable := &UnavailableError{
		Provider: c.provider.Name(),
		Kind:     lastKind,
		Attempts: attempts,
		Err:      lastErr,
	}

	span.RecordError(unavailable)
	span.SetStatus(codes.Error, unavailable.Error())
	observability.RecordCompletion(c.provider.Name(), string(lastKind), time.Since(start))

	return "", unavailable
}

// attempt performs one bounded call and validates the reply
func (c *Client) attempt(ctx context.Context, request Request) (string, error) {
	callCtx := ctx
	if c.config.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.config.Timeout)
		defer cancel()
	}

	response, err := c.provider.Call(callCtx, request)
	if err != nil {
		return "", err
	}
	if response == nil {
		return "", ErrNoChoices
	}

	content := strings.TrimSpace(response.Content)
	if content == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}
