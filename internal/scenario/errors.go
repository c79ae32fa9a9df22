package scenario

import (
	"fmt"
	"time"

	"github.com/d3xf/scenic/api/schemas"
)

// -- Error Taxonomy --
//
// Every failure mode the interpreter can surface is one of these types, so
// callers can classify with errors.As. ValidationError is always fatal; the
// rest are subject to the failing node's ignoreErrors.

// ValidationError reports a malformed scenario. It is detected eagerly for
// the whole tree before any action executes and is never ignorable.
type ValidationError struct {
	// Path addresses the offending action, e.g. "[1].then[0]".
	Path  string
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid action at %s: field %q: %s", e.Path, e.Field, e.Msg)
	}
	return fmt.Sprintf("invalid action at %s: %s", e.Path, e.Msg)
}

// SubstitutionError reports a bad placeholder reference in a string field.
type SubstitutionError struct {
	Ref      string
	Index    int
	Captured int
	Msg      string
}

func (e *SubstitutionError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("cannot resolve %s: %s", e.Ref, e.Msg)
	}
	return fmt.Sprintf("cannot resolve %s: index %d out of range (captured %d)", e.Ref, e.Index, e.Captured)
}

// TimeoutError reports that a handler or condition did not complete within
// the action's timeout. The underlying operation is abandoned.
type TimeoutError struct {
	Kind    schemas.ActionKind
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("action %q timed out after %s", e.Kind, e.Timeout)
}

// ActionFailure wraps a handler-reported failure (selector not found, captcha
// unsolved, cookie never appeared, ...).
type ActionFailure struct {
	Kind schemas.ActionKind
	Err  error
}

func (e *ActionFailure) Error() string {
	return fmt.Sprintf("action %q failed: %v", e.Kind, e.Err)
}

func (e *ActionFailure) Unwrap() error { return e.Err }

// ConditionEvaluationError reports that the expression evaluator threw while
// evaluating an if/while condition.
type ConditionEvaluationError struct {
	Expr string
	Err  error
}

func (e *ConditionEvaluationError) Error() string {
	return fmt.Sprintf("condition %q failed to evaluate: %v", e.Expr, e.Err)
}

func (e *ConditionEvaluationError) Unwrap() error { return e.Err }

// RunError is what Run returns on abort: the failing action's tree path plus
// the underlying typed error.
type RunError struct {
	Path string
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("scenario aborted at %s: %v", e.Path, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
