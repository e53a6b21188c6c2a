package filter

import (
	"errors"
	"fmt"
)

var (
	ErrCompile    = errors.New("invalid filter specification")
	ErrEvaluation = errors.New("filter evaluation failed")
)

// CompileError rejects a specification before any message is processed.
// Index is the offending clause, or -1 for specification-level problems.
type CompileError struct {
	Index   int
	Field   string
	Message string
}

func (e *CompileError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("invalid filter: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("invalid filter: expressions[%d].%s: %s", e.Index, e.Field, e.Message)
}

func (e *CompileError) Is(target error) bool {
	return target == ErrCompile
}

type EvaluationError struct {
	Clause  int
	Key     string
	Message string
	Cause   error
}

func (e *EvaluationError) Error() string {
	msg := e.Message
	if e.Key != "" {
		msg = fmt.Sprintf("clause %d (%s): %s", e.Clause, e.Key, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *EvaluationError) Unwrap() error {
	return e.Cause
}

func (e *EvaluationError) Is(target error) bool {
	return target == ErrEvaluation
}

// CompileErrors returns every clause-level error carried by err.
func CompileErrors(err error) []*CompileError {
	var out []*CompileError
	var walk func(error)
	walk = func(e error) {
		if e == nil {
			return
		}
		if ce, ok := e.(*CompileError); ok {
			out = append(out, ce)
			return
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
			return
		}
		if next := errors.Unwrap(e); next != nil {
			walk(next)
		}
	}
	walk(err)
	return out
}
