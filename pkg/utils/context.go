package utils

import (
	"context"
	"time"
)

// DefaultTimeout is the default timeout for operations that need one but
// have no caller-supplied deadline.
const DefaultTimeout = 30 * time.Second

// ContextWithTimeout creates a context with the default timeout.
func ContextWithTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, DefaultTimeout)
}

// ContextWithCustomTimeout creates a context with a custom timeout.
func ContextWithCustomTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}
