package orchestrator

import (
	"github.com/cockroachdb/errors"
)

var (
	// ErrModelUnavailable is returned when the model call fails or times out.
	// The turn is not persisted.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrMaxIterations is returned when the turn needs more model calls than allowed.
	ErrMaxIterations = errors.New("max iterations exceeded")
	// ErrClosed is returned by a closed Session.
	ErrClosed = errors.New("session closed")
)

// modelError keeps the cause of a failed model call and matches ErrModelUnavailable.
type modelError struct {
	model string
	cause error
}

func (e *modelError) Error() string {
	return "model " + e.model + " unavailable: " + e.cause.Error()
}

func (e *modelError) Unwrap() error { return e.cause }

func (e *modelError) Is(target error) bool {
	return target == ErrModelUnavailable
}
