package completion

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Call(ctx context.Context, request Request) (*Response, error) {
	args := m.Called(ctx, request)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

func (m *mockProvider) Name() string {
	return "mock"
}

func newTestClient(t *testing.T, p Provider, mutate func(*Config)) (*Client, *[]time.Duration) {
	t.Helper()

	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	client, err := NewClient(p, cfg, zerolog.Nop())
	require.NoError(t, err)

	var delays []time.Duration
	client.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return client, &delays
}

var testMessages = []Message{
	{Role: "system", Content: "persona"},
	{Role: "user", Content: "помоги с математикой"},
}

func TestNewClient_Validation(t *testing.T) {
	_, err := NewClient(nil, DefaultConfig(), zerolog.Nop())
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Model = ""
	_, err = NewClient(&mockProvider{}, cfg, zerolog.Nop())
	assert.Error(t, err)
}

func TestClient_CompleteSuccess(t *testing.T) {
	p := &mockProvider{}
	p.On("Call", mock.Anything, mock.MatchedBy(func(r Request) bool {
		return r.Model == "gpt-4o-mini" && r.MaxTokens == 250 && r.Temperature == 0.7 && len(r.Messages) == 2
	})).Return(&Response{Content: "  Вот задача: ...\n"}, nil).Once()

	client, delays := newTestClient(t, p, nil)

	reply, err := client.Complete(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, "Вот задача: ...", reply)
	assert.Empty(t, *delays)
	p.AssertExpectations(t)
}

func TestClient_BlankReplyIsMalformed(t *testing.T) {
	p := &mockProvider{}
	p.On("Call", mock.Anything, mock.Anything).Return(&Response{Content: "   "}, nil).Once()

	client, _ := newTestClient(t, p, nil)

	_, err := client.Complete(context.Background(), testMessages)
	require.Error(t, err)

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, KindMalformed, unavailable.Kind)
	assert.Equal(t, 1, unavailable.Attempts)
	assert.ErrorIs(t, err, ErrEmptyResponse)
	p.AssertNumberOfCalls(t, "Call", 1)
}

func TestClient_RetriesTransientThenSucceeds(t *testing.T) {
	p := &mockProvider{}
	serverErr := &APIError{Provider: "mock", StatusCode: 503, Err: errors.New("overloaded")}
	p.On("Call", mock.Anything, mock.Anything).Return(nil, serverErr).Once()
	p.On("Call", mock.Anything, mock.Anything).Return(&Response{Content: "ok"}, nil).Once()

	client, delays := newTestClient(t, p, nil)

	reply, err := client.Complete(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, "ok", reply)
	assert.Equal(t, []time.Duration{time.Second}, *delays)
	p.AssertExpectations(t)
}

func TestClient_AuthFailureIsNotRetried(t *testing.T) {
	p := &mockProvider{}
	authErr := &APIError{Provider: "mock", StatusCode: 401, Err: errors.New("invalid api key")}
	p.On("Call", mock.Anything, mock.Anything).Return(nil, authErr)

	client, delays := newTestClient(t, p, nil)

	_, err := client.Complete(context.Background(), testMessages)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, KindAuth, unavailable.Kind)
	assert.Equal(t, authErr, unavailable.Err)
	assert.Empty(t, *delays)
	p.AssertNumberOfCalls(t, "Call", 1)
}

func TestClient_RetryExhaustion(t *testing.T) {
	p := &mockProvider{}
	rateErr := &APIError{Provider: "mock", StatusCode: 429, Err: errors.New("slow down")}
	p.On("Call", mock.Anything, mock.Anything).Return(nil, rateErr)

	client, delays := newTestClient(t, p, func(cfg *Config) {
		cfg.MaxRetries = 3
		cfg.BackoffBase = 100 * time.Millisecond
		cfg.BackoffMax = 250 * time.Millisecond
	})

	_, err := client.Complete(context.Background(), testMessages)
	require.Error(t, err)

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, KindRateLimit, unavailable.Kind)
	assert.Equal(t, 4, unavailable.Attempts)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 250 * time.Millisecond}, *delays)
	p.AssertNumberOfCalls(t, "Call", 4)
}

func TestClient_ZeroRetriesMakesOneCall(t *testing.T) {
	p := &mockProvider{}
	p.On("Call", mock.Anything, mock.Anything).Return(nil, errors.New("connection reset by peer"))

	client, _ := newTestClient(t, p, func(cfg *Config) {
		cfg.MaxRetries = 0
	})

	_, err := client.Complete(context.Background(), testMessages)
	require.Error(t, err)

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, KindTransport, unavailable.Kind)
	p.AssertNumberOfCalls(t, "Call", 1)
}

func TestClient_AttemptTimeout(t *testing.T) {
	p := &mockProvider{}
	p.On("Call", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		<-ctx.Done()
	}).Return(nil, context.DeadlineExceeded)

	client, _ := newTestClient(t, p, func(cfg *Config) {
		cfg.Timeout = 20 * time.Millisecond
		cfg.MaxRetries = 0
	})

	start := time.Now()
	_, err := client.Complete(context.Background(), testMessages)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, KindTimeout, unavailable.Kind)
}

func TestClient_CallerCancellationStopsRetries(t *testing.T) {
	p := &mockProvider{}
	ctx, cancel := context.WithCancel(context.Background())
	p.On("Call", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		cancel()
	}).Return(nil, &APIError{Provider: "mock", StatusCode: 500, Err: errors.New("boom")})

	client, delays := newTestClient(t, p, nil)

	_, err := client.Complete(ctx, testMessages)
	require.Error(t, err)

	var unavailable *UnavailableError
	require.True(t, errors.As(err, &unavailable))
	assert.Equal(t, KindCanceled, unavailable.Kind)
	assert.Empty(t, *delays)
	p.AssertNumberOfCalls(t, "Call", 1)
}
