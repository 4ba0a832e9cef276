package model

import (
	"errors"
	"strings"
)

var (
	// ErrValidation marks malformed or oversized input, rejected before it
	// reaches the pool or the store.
	ErrValidation = errors.New("validation failed")
	// ErrTimedOut is returned when the evaluator exceeded its time budget.
	ErrTimedOut = errors.New("query execution timed out")
	// ErrEvaluation is a worker crash or a malformed worker reply.
	ErrEvaluation = errors.New("evaluation failed")
	ErrNotFound   = errors.New("snippet not found")
	// ErrStorage wraps persistence failures.
	ErrStorage = errors.New("storage failure")
)

// ValidationError collects all problems found in a single input.
type ValidationError struct {
	Messages []string
}

func NewValidationError(msgs ...string) *ValidationError {
	return &ValidationError{Messages: msgs}
}

func (e *ValidationError) Add(msg string) {
	e.Messages = append(e.Messages, msg)
}

func (e *ValidationError) Len() int {
	if e == nil {
		return 0
	}
	return len(e.Messages)
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Messages, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// err returns nil for an empty ValidationError, so callers can build one
// unconditionally.
func (e *ValidationError) err() error {
	if e.Len() == 0 {
		return nil
	}
	return e
}

// ValidationMessages returns the messages of a ValidationError in the chain
// of err, or err.Error() otherwise.
func ValidationMessages(err error) []string {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr.Messages
	}
	return []string{err.Error()}
}
