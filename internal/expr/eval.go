package expr

import (
	"context"
	"fmt"
	"reflect"
)

// QuerySource executes the read side of the Query operator. The where
// tree it receives is fully resolved: every Eq leaf carries a *Literal
// value. Implementations must be read-only and re-entrant.
type QuerySource interface {
	Query(ctx context.Context, collection string, where Predicate, yields []string) ([]map[string]any, error)
}

// Result is the outcome of one evaluation: the computed value (nil when
// the expression failed or navigated into absent data) and the type
// hint carried by the root node.
type Result struct {
	Value    any
	TypeHint string
}

// Evaluator walks expression trees. It is stateless apart from the
// function registry and the optional query source, so one Evaluator is
// safe for concurrent use across goroutines.
type Evaluator struct {
	funcs  map[string]Func
	source QuerySource
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithQuerySource wires the read side of the Query operator. Without a
// source, evaluating a Query is a configuration error.
func WithQuerySource(src QuerySource) Option {
	return func(ev *Evaluator) { ev.source = src }
}

// WithFunc registers an additional function, replacing any built-in of
// the same name.
func WithFunc(name string, fn Func) Option {
	return func(ev *Evaluator) { ev.funcs[name] = fn }
}

// New creates an Evaluator with the built-in function registry.
func New(opts ...Option) *Evaluator {
	ev := &Evaluator{funcs: builtins()}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// Evaluate computes the value of e against sc.
//
// The error, when non-nil, is either an *EvalError (data-shape problem,
// value is nil, caller records and continues) or a *ConfigError
// (malformed configuration, caller aborts the job). Missing paths are
// neither: they evaluate to a nil value with no error.
func (ev *Evaluator) Evaluate(ctx context.Context, e Expr, sc Scope) (Result, error) {
	if e == nil {
		return Result{}, newConfigError("nil expression")
	}
	v, err := ev.eval(ctx, e, sc)
	if err != nil {
		return Result{TypeHint: e.Hint()}, err
	}
	return Result{Value: v, TypeHint: e.Hint()}, nil
}

// EvaluateBool evaluates e and coerces the result to a boolean.
// A nil result is false; a non-boolean result is a data-shape error.
func (ev *Evaluator) EvaluateBool(ctx context.Context, e Expr, sc Scope) (bool, error) {
	res, err := ev.Evaluate(ctx, e, sc)
	if err != nil {
		return false, err
	}
	if res.Value == nil {
		return false, nil
	}
	b, ok := res.Value.(bool)
	if !ok {
		return false, newEvalError("condition", fmt.Sprintf("expected boolean, got %T", res.Value), nil)
	}
	return b, nil
}

func (ev *Evaluator) eval(ctx context.Context, e Expr, sc Scope) (any, error) {
	switch n := e.(type) {
	case *Literal:
		return n.Value, nil

	case *Dot:
		src, err := ev.eval(ctx, n.Source, sc)
		if err != nil {
			return nil, err
		}
		return navigate(src, n.Paths), nil

	case *Self:
		return navigate(sc.Self(), n.Paths), nil

	case *Symbol:
		v, ok := sc.Lookup(n.Name)
		if !ok {
			// Absent bindings follow the missing-path contract:
			// nil, not an error. Scopes are built per call site and
			// options is only bound for enum fields.
			return nil, nil
		}
		return v, nil

	case *Equals:
		left, err := ev.eval(ctx, n.Left, sc)
		if err != nil {
			return nil, err
		}
		right, err := ev.eval(ctx, n.Right, sc)
		if err != nil {
			return nil, err
		}
		return looseEqual(left, right), nil

	case *Not:
		v, err := ev.eval(ctx, n.Arg, sc)
		if err != nil {
			return nil, err
		}
		b, ok := v.(bool)
		if !ok {
			return nil, newEvalError("not", fmt.Sprintf("expected boolean argument, got %T", v), nil)
		}
		return !b, nil

	case *Call:
		fn, ok := ev.funcs[n.Name]
		if !ok {
			return nil, newConfigError("unknown function %q", n.Name)
		}
		args := make([]any, len(n.Params))
		for i, p := range n.Params {
			v, err := ev.eval(ctx, p, sc)
			if err != nil {
				return nil, err
			}
			args[i] = v
		}
		v, err := fn(args)
		if err != nil {
			return nil, newEvalError("call", fmt.Sprintf("function %q", n.Name), err)
		}
		return v, nil

	case *Object:
		out := make(map[string]any, len(n.Fields))
		for name, field := range n.Fields {
			v, err := ev.eval(ctx, field, sc)
			if err != nil {
				return nil, err
			}
			out[name] = v
		}
		return out, nil

	case *List:
		out := make([]any, len(n.Elems))
		for i, elem := range n.Elems {
			v, err := ev.eval(ctx, elem, sc)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *Query:
		return ev.evalQuery(ctx, n, sc)

	default:
		return nil, newConfigError("unknown expression node %T", e)
	}
}

// evalQuery resolves the where tree's value expressions against the
// scope, then delegates the read to the query source.
func (ev *Evaluator) evalQuery(ctx context.Context, q *Query, sc Scope) (any, error) {
	if ev.source == nil {
		return nil, newConfigError("query %q evaluated without a query source", q.Collection)
	}

	where, err := ev.resolvePredicate(ctx, q.Where, sc)
	if err != nil {
		return nil, err
	}

	rows, err := ev.source.Query(ctx, q.Collection, where, q.Yields)
	if err != nil {
		return nil, newEvalError("query", fmt.Sprintf("collection %q", q.Collection), err)
	}

	out := make([]any, len(rows))
	for i, row := range rows {
		out[i] = map[string]any(row)
	}
	return out, nil
}

// resolvePredicate evaluates every Eq value expression, returning a
// parallel tree whose leaves carry *Literal values only.
func (ev *Evaluator) resolvePredicate(ctx context.Context, p Predicate, sc Scope) (Predicate, error) {
	switch pred := p.(type) {
	case nil:
		return nil, nil
	case *Eq:
		v, err := ev.eval(ctx, pred.Value, sc)
		if err != nil {
			return nil, err
		}
		return &Eq{Field: pred.Field, Value: &Literal{Value: v}}, nil
	case *And:
		preds := make([]Predicate, len(pred.Preds))
		for i, sub := range pred.Preds {
			resolved, err := ev.resolvePredicate(ctx, sub, sc)
			if err != nil {
				return nil, err
			}
			preds[i] = resolved
		}
		return &And{Preds: preds}, nil
	case *Or:
		preds := make([]Predicate, len(pred.Preds))
		for i, sub := range pred.Preds {
			resolved, err := ev.resolvePredicate(ctx, sub, sc)
			if err != nil {
				return nil, err
			}
			preds[i] = resolved
		}
		return &Or{Preds: preds}, nil
	default:
		return nil, newConfigError("unknown predicate node %T", p)
	}
}

// navigate walks value segment by segment, short-circuiting to nil on
// any missing or null intermediate. Absent data is not an error.
func navigate(value any, paths []string) any {
	current := value
	for _, seg := range paths {
		if current == nil {
			return nil
		}
		obj, ok := current.(map[string]any)
		if !ok {
			return nil
		}
		current = obj[seg]
	}
	return current
}

// Equal reports structural equality under the evaluator's comparison
// rules. Exposed for callers that diff raw value snapshots the same way
// the equals operator would.
func Equal(a, b any) bool {
	return looseEqual(a, b)
}

// looseEqual compares two values structurally, treating all numeric
// representations as equal when their values match. JSON decoding
// produces float64 while store reads produce int64; equality must not
// depend on which side a number came from.
func looseEqual(a, b any) bool {
	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !looseEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			bval, exists := bv[k]
			if !exists || !looseEqual(v, bval) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
