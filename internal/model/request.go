package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	MaxInputSize = 1024 * 1024 // 1 MiB
	MaxQuerySize = 256 * 1024  // 256 KiB

	DefaultTimeout = 5000 * time.Millisecond
)

// ExecutionRequest is a single query evaluation consumed by exactly one worker.
type ExecutionRequest struct {
	ID      string
	Input   string
	Query   string
	Options []Flag
	Timeout time.Duration
}

// NewExecutionRequest validates the size ceilings and assigns a request id.
func NewExecutionRequest(input, query string, options []Flag, timeout time.Duration) (ExecutionRequest, error) {
	var verr ValidationError
	if len(input) > MaxInputSize {
		verr.Add(fmt.Sprintf("JSON must be at most %d bytes", MaxInputSize))
	}
	if len(query) > MaxQuerySize {
		verr.Add(fmt.Sprintf("Query must be at most %d bytes", MaxQuerySize))
	}
	for _, o := range options {
		if !o.Valid() {
			verr.Add(fmt.Sprintf("invalid option %q", o))
		}
	}
	if timeout <= 0 {
		verr.Add("timeout must be positive")
	}
	if err := verr.err(); err != nil {
		return ExecutionRequest{}, err
	}
	return ExecutionRequest{
		ID:      uuid.NewString(),
		Input:   input,
		Query:   query,
		Options: options,
		Timeout: timeout,
	}, nil
}

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeTimedOut
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("OutcomeKind(%d)", int(k))
	}
}

// Outcome is the final result of one ExecutionRequest. The pool never
// retries, so an Outcome is produced exactly once.
type Outcome struct {
	Kind   OutcomeKind
	Text   string // Success only
	Reason string // Failed only
}

func Success(text string) Outcome {
	return Outcome{Kind: OutcomeSuccess, Text: text}
}

func TimedOut() Outcome {
	return Outcome{Kind: OutcomeTimedOut}
}

func Failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}

// Err converts a non successful outcome into ErrTimedOut or ErrEvaluation.
func (o Outcome) Err() error {
	switch o.Kind {
	case OutcomeSuccess:
		return nil
	case OutcomeTimedOut:
		return ErrTimedOut
	default:
		return fmt.Errorf("%w: %s", ErrEvaluation, o.Reason)
	}
}
