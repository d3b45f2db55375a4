package core

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// RequestIDKey is a custom context key type for storing the request ID in context.
type RequestIDKey struct{}

// FlowIDKey is a custom context key type for storing the authorization flow ID in context.
type FlowIDKey struct{}

// WithRequestID returns a new context with a generated request ID set.
func WithRequestID(ctx context.Context) context.Context {
	reqID := uuid.New().String()
	return context.WithValue(ctx, RequestIDKey{}, reqID)
}

// RequestIDFromCtx returns the request ID stored in ctx, or "".
func RequestIDFromCtx(ctx context.Context) string {
	reqID, _ := ctx.Value(RequestIDKey{}).(string)
	return reqID
}

// WithFlowID returns a new context carrying the given flow ID.
func WithFlowID(ctx context.Context, flowID string) context.Context {
	return context.WithValue(ctx, FlowIDKey{}, flowID)
}

// LoggerFromCtx returns a slog.Logger with request_id and flow_id fields if
// present in context. Otherwise it returns the default logger.
func LoggerFromCtx(ctx context.Context) *slog.Logger {
	logger := slog.Default()
	if reqID := RequestIDFromCtx(ctx); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	if flowID, _ := ctx.Value(FlowIDKey{}).(string); flowID != "" {
		logger = logger.With("flow_id", flowID)
	}
	return logger
}

// MaskToken shows only the first 6 and last 2 characters of a token, hiding
// the middle with asterisks. Short tokens are fully masked.
func MaskToken(token string) string {
	if len(token) > 8 {
		return token[:6] + "****" + token[len(token)-2:]
	}
	if len(token) > 0 {
		return "****"
	}
	return ""
}
