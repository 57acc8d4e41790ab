// Package reqctx carries per-request identifiers through a context.Context,
// the same way the teacher threads a request ID from HTTP handler down to
// every translator and upstream call.
package reqctx

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

// WithRequestID attaches a request ID to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestID returns the request ID stored in ctx, or "unknown" if absent.
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return "unknown"
}

// NewRequestID generates a short, log-friendly request identifier.
func NewRequestID() string {
	return fmt.Sprintf("req_%s", uuid.New().String()[:8])
}
