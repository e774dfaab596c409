package worker

import (
	"context"
	"errors"
	"fmt"
)

// JobHandler executes one type of queued job.
type JobHandler interface {
	// Type returns the job_type this handler consumes.
	Type() string

	// Handle runs the job. payload is the JSON stored at enqueue time.
	// Returning a PermanentError fails the job without retrying it.
	Handle(ctx context.Context, payload []byte) error
}

// PermanentError marks a job failure that retrying cannot fix, such as a
// malformed payload or an invoice that no longer exists.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError wraps err as a PermanentError.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// Permanentf formats a PermanentError.
func Permanentf(format string, args ...any) error {
	return &PermanentError{Err: fmt.Errorf(format, args...)}
}

// IsPermanent reports whether err is, or wraps, a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
