package pulse

import "errors"

var (
	// Store errors.
	ErrStoreUnavailable = errors.New("pulse: shared store unavailable")

	// Not found errors.
	ErrJobNotFound         = errors.New("pulse: job not found")
	ErrDLQNotFound         = errors.New("pulse: dlq entry not found")
	ErrIdempotencyNotFound = errors.New("pulse: idempotency record not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("pulse: job already exists")
	ErrHandlerExists    = errors.New("pulse: handler already registered for job type")

	// Admission errors.
	ErrInvalidJob  = errors.New("pulse: invalid job")
	ErrRateLimited = errors.New("pulse: rate limit exceeded")

	// Dispatch errors.
	ErrNoHandler    = errors.New("pulse: no handler registered for job type")
	ErrInvalidState = errors.New("pulse: invalid state transition")
)

// permanentError marks a handler failure as non-retryable. The queue engine
// escalates it straight to the DLQ without burning retry attempts.
type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent wraps err so the engine treats it as a non-retryable failure.
// A nil err returns nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err (or anything it wraps) was marked with
// Permanent, or is ErrNoHandler.
func IsPermanent(err error) bool {
	if errors.Is(err, ErrNoHandler) {
		return true
	}
	var p *permanentError
	return errors.As(err, &p)
}
