package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error codes. The handler package maps each to an HTTP status.
const (
	EINVALID      = "invalid"
	EUNAUTHORIZED = "unauthorized"
	EFORBIDDEN    = "forbidden"  // plan or role forbids the action
	ENOTFOUND     = "not_found"
	ECONFLICT     = "conflict"   // e.g. plan already active
	ETOOLARGE     = "too_large"  // media above the size cap
	ERATELIMIT    = "rate_limit" // quota exhausted or too many attempts
	EINTERNAL     = "internal"
	ENOTIMPL      = "not_impl" // payment gateway not configured
	EPAYMENT      = "payment"  // gateway refused or failed
)

const internalMessage = "An internal error occurred. Please try again later."

// Error is an application error carrying a code for the transport layer.
type Error struct {
	Code    string
	Op      string // e.g. "payment.checkout"
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return e.Op + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code, op, message string, err error) *Error {
	return &Error{Code: code, Op: op, Message: message, Err: err}
}

// Errorf creates an Error with a formatted message.
func Errorf(code, op, format string, args ...any) *Error {
	return newError(code, op, fmt.Sprintf(format, args...), nil)
}

// Wrap attaches code, op and message to err.
func Wrap(err error, code, op, message string) *Error {
	return newError(code, op, message, err)
}

// NotFound reports a missing user, message or invoice.
func NotFound(op, resource, id string) *Error {
	return newError(ENOTFOUND, op, fmt.Sprintf("%s with ID %q not found", resource, id), nil)
}

func Invalid(op, message string) *Error {
	return newError(EINVALID, op, message, nil)
}

func Conflict(op, message string) *Error {
	return newError(ECONFLICT, op, message, nil)
}

// Internal wraps a storage or gateway failure. Its message never reaches
// clients.
func Internal(err error, op, message string) *Error {
	return newError(EINTERNAL, op, message, err)
}

// ErrorCode resolves the code of err. Quota denials map to ERATELIMIT,
// capability denials to EFORBIDDEN and anything unknown to EINTERNAL.
func ErrorCode(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	var qe *QuotaExceededError
	switch {
	case errors.As(err, &e):
		return e.Code
	case errors.As(err, &qe):
		return ERATELIMIT
	case errors.Is(err, ErrCapabilityNotAllowed):
		return EFORBIDDEN
	}
	return EINTERNAL
}

// ErrorMessage returns the client-facing message for err.
func ErrorMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	var qe *QuotaExceededError
	switch {
	case errors.As(err, &e):
		if e.Code == EINTERNAL {
			return internalMessage
		}
		return e.Message
	case errors.As(err, &qe):
		return qe.Error()
	case errors.Is(err, ErrCapabilityNotAllowed):
		return ErrCapabilityNotAllowed.Error()
	}
	return internalMessage
}

// ErrorOp returns the op of the outermost Error in the chain.
func ErrorOp(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Op
	}
	return ""
}

// =============================================================================
// Quota errors
// =============================================================================

// ErrCapabilityNotAllowed is returned when the plan forbids an action outright.
var ErrCapabilityNotAllowed = errors.New("capability not allowed on current plan")

// QuotaExceededError reports which scope blocked a consume and when it resets.
type QuotaExceededError struct {
	Op      string
	Family  QuotaFamily
	Scope   Scope
	Limit   int
	ResetAt *time.Time
}

func (e *QuotaExceededError) Error() string {
	msg := fmt.Sprintf("%s %s limit of %d reached", e.Family, e.Scope, e.Limit)
	if e.ResetAt != nil {
		msg += ", resets at " + e.ResetAt.UTC().Format(time.RFC3339)
	}
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// QuotaExceeded builds a QuotaExceededError for the given denial.
func QuotaExceeded(op string, family QuotaFamily, scope Scope, limit int, resetAt *time.Time) *QuotaExceededError {
	return &QuotaExceededError{
		Op:      op,
		Family:  family,
		Scope:   scope,
		Limit:   limit,
		ResetAt: resetAt,
	}
}

// =============================================================================
// Validation errors
// =============================================================================

// ValidationError carries per-field messages keyed by JSON field name.
type ValidationError struct {
	Op     string
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: validation failed", e.Op)
}

// NewValidationError creates a ValidationError with one field message.
func NewValidationError(op, field, message string) *ValidationError {
	return &ValidationError{
		Op:     op,
		Fields: map[string]string{field: message},
	}
}
