package tracing

import (
	"context"

	"github.com/google/uuid"
)

// ContextKey is the type for context keys
type ContextKey string

const (
	// TraceIDKey is the context key for trace ID
	TraceIDKey ContextKey = "trace_id"
	// SessionKeyKey is the context key for the tutoring session key
	SessionKeyKey ContextKey = "session_key"
	// UpdateIDKey is the context key for the inbound Telegram update ID
	UpdateIDKey ContextKey = "update_id"
)

// TraceContext holds tracing information
type TraceContext struct {
	TraceID    string
	SessionKey string
	UpdateID   int
}

// NewTraceID generates a new trace ID
func NewTraceID() string {
	return uuid.New().String()
}

// WithTraceID adds a trace ID to the context
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// WithSessionKey adds a session key to the context
func WithSessionKey(ctx context.Context, sessionKey string) context.Context {
	return context.WithValue(ctx, SessionKeyKey, sessionKey)
}

// WithUpdateID adds the Telegram update ID to the context
func WithUpdateID(ctx context.Context, updateID int) context.Context {
	return context.WithValue(ctx, UpdateIDKey, updateID)
}

// GetTraceID retrieves the trace ID from the context
func GetTraceID(ctx context.Context) string {
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

// GetSessionKey retrieves the session key from the context
func GetSessionKey(ctx context.Context) string {
	if sessionKey, ok := ctx.Value(SessionKeyKey).(string); ok {
		return sessionKey
	}
	return ""
}

// GetUpdateID retrieves the update ID from the context, 0 if absent
func GetUpdateID(ctx context.Context) int {
	if updateID, ok := ctx.Value(UpdateIDKey).(int); ok {
		return updateID
	}
	return 0
}

// FromContext extracts all tracing information from the context
func FromContext(ctx context.Context) *TraceContext {
	return &TraceContext{
		TraceID:    GetTraceID(ctx),
		SessionKey: GetSessionKey(ctx),
		UpdateID:   GetUpdateID(ctx),
	}
}

// NewUpdateContext starts a fresh trace for one inbound update
func NewUpdateContext(ctx context.Context, sessionKey string, updateID int) context.Context {
	ctx = WithTraceID(ctx, NewTraceID())
	if sessionKey != "" {
		ctx = WithSessionKey(ctx, sessionKey)
	}
	if updateID != 0 {
		ctx = WithUpdateID(ctx, updateID)
	}
	return ctx
}
