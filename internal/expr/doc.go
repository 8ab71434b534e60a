// Package expr defines the expression language evaluated by the Reflex
// engine: a small, declarative tree of literals, path navigation, boolean
// and equality operators, function invocation, object/list construction,
// and a read-only cross-collection query operator.
//
// The AST is a closed sum type. Every variant implements the sealed Expr
// interface via an unexported marker method, so the evaluator can type
// switch exhaustively and adding an operator is a compile-time-checked
// change.
//
// Evaluation contract:
//   - Deterministic given (expression, scope). The scope is never mutated.
//   - No side effects except reads issued through a QuerySource.
//   - Absent data is not an error: path navigation short-circuits to nil
//     on any missing or null intermediate segment.
//   - Data-shape problems (bad function argument, unresolvable query
//     input) surface as *EvalError values. Callers record them and move
//     on; they never abort a batch.
//   - Configuration problems (unknown function, unknown symbol, query
//     without a source) surface as *ConfigError and abort the calling job.
package expr
