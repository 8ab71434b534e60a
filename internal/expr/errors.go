package expr

import (
	"errors"
	"fmt"
)

// EvalError reports a data-shape problem detected during evaluation:
// a non-boolean operand to Not, a bad function argument, a query input
// that did not resolve to a comparable value. Evaluation returns a nil
// value alongside the error; callers record the reason and continue.
type EvalError struct {
	// Op names the operator that failed ("not", "call", "query", ...).
	Op string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *EvalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("evaluate %s: %s: %v", e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("evaluate %s: %s", e.Op, e.Message)
}

func (e *EvalError) Unwrap() error { return e.Err }

// IsEvalError reports whether err is (or wraps) an EvalError.
func IsEvalError(err error) bool {
	var ee *EvalError
	return errors.As(err, &ee)
}

// ConfigError reports a programmer-facing configuration problem: an
// unknown function name, an unknown symbol, a query evaluated without a
// QuerySource. Configuration errors abort the calling job.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "expression configuration: " + e.Message
}

// IsConfigError reports whether err is (or wraps) a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

func newEvalError(op, message string, err error) *EvalError {
	return &EvalError{Op: op, Message: message, Err: err}
}

func newConfigError(format string, args ...any) *ConfigError {
	return &ConfigError{Message: fmt.Sprintf(format, args...)}
}
