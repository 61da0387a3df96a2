package jobs

import (
	"errors"
	"fmt"
)

// Failure kinds drive the queue-consumer retry policy: validation failures
// are dropped permanently, retryable failures are redelivered or
// re-enqueued, anything else fails the unit as-is.

// ValidationError marks a terminal failure caused by bad input.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string { return fmt.Sprintf("validation: %v", e.Err) }
func (e *ValidationError) Unwrap() error { return e.Err }

// Validation wraps err as a terminal validation failure.
func Validation(err error) error {
	if err == nil {
		return nil
	}
	return &ValidationError{Err: err}
}

// Validationf builds a validation failure from a format string.
func Validationf(format string, args ...any) error {
	return &ValidationError{Err: fmt.Errorf(format, args...)}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// RetryableError marks an infrastructure failure worth retrying.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("retryable: %v", e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as a retryable infrastructure failure.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err is a retryable failure.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}
