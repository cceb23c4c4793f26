// Package graceful provides the error-wrapping convention used across the
// saga orchestrator: every error that crosses a component boundary is
// wrapped with a stable code, a human message, and the causing error before
// it is logged or turned into a bus event.
package graceful

import (
	"context"
	"errors"
	"fmt"

	"github.com/alpespartners/saga-orchestrator/pkg/contextx"
	"go.uber.org/zap"
)

// ErrorCode classifies an error the way §7 of the spec does, so callers can
// branch on taxonomy (business vs. transient vs. decode) without string
// matching.
type ErrorCode string

const (
	// CodeValidation is a bad-input error caught at admission; never reaches the bus.
	CodeValidation ErrorCode = "VALIDATION"
	// CodeBusinessRule is an invariant violation inside a service (duplicate name, etc.);
	// surfaced as an explicit error event, never a panic or silent nack.
	CodeBusinessRule ErrorCode = "BUSINESS_RULE"
	// CodeTransient is an infrastructure fault (bus timeout, store unavailable);
	// retried with backoff before being surfaced.
	CodeTransient ErrorCode = "TRANSIENT"
	// CodeDecode is a malformed envelope; routed to dead-letter, never retried.
	CodeDecode ErrorCode = "DECODE"
	// CodeNotFound models a lookup miss that is not itself an error (e.g. unknown saga).
	CodeNotFound ErrorCode = "NOT_FOUND"
	// CodeInternal is anything else.
	CodeInternal ErrorCode = "INTERNAL"
)

// ContextError wraps an error with a stable code, message, and structured fields.
type ContextError struct {
	Code    ErrorCode
	Message string
	Context map[string]interface{}
	Cause   error
}

func (e *ContextError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *ContextError) Unwrap() error { return e.Cause }

// WrapErr creates a ContextError with a code, message, and cause.
func WrapErr(code ErrorCode, msg string, cause error, fields map[string]interface{}) *ContextError {
	return &ContextError{Code: code, Message: msg, Cause: cause, Context: fields}
}

// LogAndWrap logs the error once, at the boundary that handles it, and returns the wrapped error.
// If ctx carries a correlation id (see pkg/contextx), it is attached so the
// log line can be tied back to its saga without every caller threading the
// id through its own fields.
func LogAndWrap(ctx context.Context, log *zap.Logger, code ErrorCode, msg string, cause error, fields ...zap.Field) *ContextError {
	if ctx != nil {
		if cid := contextx.CorrelationID(ctx); cid != "" {
			fields = append(fields, zap.String("correlation_id", cid))
		}
		if ctx.Err() != nil {
			fields = append(fields, zap.NamedError("ctx_err", ctx.Err()))
		}
	}
	if cause != nil {
		fields = append(fields, zap.Error(cause))
	}
	fields = append(fields, zap.String("error_code", string(code)))
	if log != nil {
		log.Error(msg, fields...)
	}
	return &ContextError{Code: code, Message: msg, Cause: cause}
}

// IsCode reports whether err (or any error it wraps) carries the given code.
func IsCode(err error, code ErrorCode) bool {
	var ce *ContextError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}
