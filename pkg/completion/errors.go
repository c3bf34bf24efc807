package completion

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies why a completion could not be produced
type Kind string

const (
	KindTransport Kind = "transport"
	KindAuth      Kind = "auth"
	KindRateLimit Kind = "rate_limit"
	KindServer    Kind = "server"
	KindRejected  Kind = "rejected"
	KindMalformed Kind = "malformed"
	KindTimeout   Kind = "timeout"
	KindCanceled  Kind = "canceled"
)

var (
	// ErrUnavailable matches every error returned by Client.Complete
	ErrUnavailable = errors.New("completion unavailable")

	ErrNoChoices      = errors.New("no response choices returned")
	ErrEmptyResponse  = errors.New("empty response content")
	ErrInvalidRequest = errors.New("invalid completion request")
)

// UnavailableError is the single failure type surfaced to callers.
// The underlying cause is available through errors.Unwrap.
type UnavailableError struct {
	Provider string
	Kind     Kind
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("completion unavailable (provider=%s kind=%s attempts=%d): %v", e.Provider, e.Kind, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUnavailable) hold for any UnavailableError
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// APIError carries the HTTP status of a failed provider call
type APIError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %v", e.Provider, e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// Classify maps a provider error onto a Kind
func Classify(err error) Kind {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrNoChoices), errors.Is(err, ErrEmptyResponse):
		return KindMalformed
	case errors.Is(err, ErrInvalidRequest):
		return KindRejected
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return kindForStatus(apiErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}

	return KindTransport
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized, code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusTooManyRequests:
		return KindRateLimit
	case code == http.StatusRequestTimeout:
		return KindTimeout
	case code >= 500:
		return KindServer
	case code >= 400:
		return KindRejected
	default:
		// A 2xx/3xx surfacing as an error means the body could not be decoded.
		return KindMalformed
	}
}

// IsRetryable reports whether a failure of this kind may succeed on a later attempt
func (k Kind) IsRetryable() bool {
	switch k {
	case KindTransport, KindRateLimit, KindServer, KindTimeout:
		return true
	default:
		return false
	}
}
