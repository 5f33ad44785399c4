package jobs

import (
	"errors"
	"time"
)

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}

// Fatal marks err as non-retriable: the engine fails the job immediately
// instead of scheduling another attempt
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &fatalError{err: err}
}

// IsFatal reports whether any error in the chain was marked with Fatal
func IsFatal(err error) bool {
	var fatal *fatalError
	return errors.As(err, &fatal)
}

// retryAfterDelay extracts an explicit retry delay from the error chain,
// signaled by upstream rate limiting (429 + Retry-After)
func retryAfterDelay(err error) (time.Duration, bool) {
	var limited interface{ RetryAfter() time.Duration }
	if errors.As(err, &limited) {
		return limited.RetryAfter(), true
	}
	return 0, false
}
