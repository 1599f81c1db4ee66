package analytics

import "fmt"

// Outcome is the kind of an algorithm result.
type Outcome int

const (
	OutcomeEmpty Outcome = iota
	OutcomeSuccess
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeError:
		return "error"
	default:
		return "empty"
	}
}

// Result is the outcome of one algorithm: a value, an error, or a reason
// why there is nothing to report. Empty is not a failure; it means the
// algorithm ran (or was skipped) and found nothing.
type Result[T any] struct {
	outcome Outcome
	value   T
	err     error
	reason  string
}

// Success wraps a computed value.
func Success[T any](v T) Result[T] {
	return Result[T]{outcome: OutcomeSuccess, value: v}
}

// Failure wraps an algorithm error.
func Failure[T any](err error) Result[T] {
	return Result[T]{outcome: OutcomeError, err: err}
}

// Empty records that there is no result, and why.
func Empty[T any](reason string) Result[T] {
	return Result[T]{outcome: OutcomeEmpty, reason: reason}
}

// Outcome returns the result kind.
func (r Result[T]) Outcome() Outcome { return r.outcome }

// Value returns the payload of a successful result.
func (r Result[T]) Value() (T, bool) {
	return r.value, r.outcome == OutcomeSuccess
}

// Err returns the error of a failed result.
func (r Result[T]) Err() error { return r.err }

// Reason returns why an empty result is empty.
func (r Result[T]) Reason() string { return r.reason }

func (r Result[T]) String() string {
	switch r.outcome {
	case OutcomeSuccess:
		return fmt.Sprintf("Success(%v)", r.value)
	case OutcomeError:
		return fmt.Sprintf("Error(%v)", r.err)
	default:
		return fmt.Sprintf("Empty(%s)", r.reason)
	}
}
