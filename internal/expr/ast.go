package expr

// Expr is the sealed interface for expression nodes.
// Only types in this package implement it. The marker method prevents
// external implementations and enables exhaustive type switches in the
// evaluator and the SQL compiler.
type Expr interface {
	exprNode()

	// Hint returns the optional type hint carried by the node.
	// Empty string means no hint.
	Hint() string
}

// hinted carries the optional type hint shared by all node variants.
type hinted struct {
	TypeHint string `json:"type_hint,omitempty"`
}

func (h hinted) Hint() string { return h.TypeHint }

// Literal is a constant value: boolean, string, number, list, or object.
// Values are plain JSON shapes (bool, string, float64/int64,
// []any, map[string]any) or nil.
type Literal struct {
	hinted
	Value any `json:"value"`
}

func (*Literal) exprNode() {}

// Dot navigates into the result of a sub-expression, one path segment at
// a time. Navigation yields nil (not an error) on any missing or null
// intermediate.
type Dot struct {
	hinted
	Source Expr     `json:"source"`
	Paths  []string `json:"paths"`
}

func (*Dot) exprNode() {}

// Self navigates the evaluation subject (the "self" scope binding).
type Self struct {
	hinted
	Paths []string `json:"paths"`
}

func (*Self) exprNode() {}

// Symbol looks up a named scope binding: self, currentValues,
// previousValues, metadata, or options.
type Symbol struct {
	hinted
	Name string `json:"name"`
}

func (*Symbol) exprNode() {}

// Equals compares two sub-expression results for deep equality.
// Numbers compare by value regardless of int/float representation.
type Equals struct {
	hinted
	Left  Expr `json:"left"`
	Right Expr `json:"right"`
}

func (*Equals) exprNode() {}

// Not negates the boolean result of its argument.
// A non-boolean argument is a data-shape error.
type Not struct {
	hinted
	Arg Expr `json:"arg"`
}

func (*Not) exprNode() {}

// Call invokes a registered function with evaluated parameters.
// Unknown function names are configuration errors.
type Call struct {
	hinted
	Name   string `json:"name"`
	Params []Expr `json:"params"`
}

func (*Call) exprNode() {}

// Object constructs a map from field name to evaluated sub-expression.
type Object struct {
	hinted
	Fields map[string]Expr `json:"fields"`
}

func (*Object) exprNode() {}

// List constructs a slice from evaluated sub-expressions.
type List struct {
	hinted
	Elems []Expr `json:"elems"`
}

func (*List) exprNode() {}

// Query performs a read-only lookup against an external collection.
// The where tree is conjunctive/disjunctive over equality comparisons;
// Yields projects the named fields of each matching document.
// Query must never mutate state and must be re-entrant: evaluating it
// twice over identical underlying data returns identical results.
type Query struct {
	hinted
	Collection string    `json:"collection"`
	Where      Predicate `json:"where,omitempty"`
	Yields     []string  `json:"yields"`
}

func (*Query) exprNode() {}

// Predicate is the sealed filter tree used by Query.
// Eq leaves compare a document field against an evaluated expression;
// And/Or combine sub-predicates.
type Predicate interface {
	predicateNode()
}

// Eq matches documents whose field equals the evaluated Value.
type Eq struct {
	Field string `json:"field"`
	Value Expr   `json:"value"`
}

func (*Eq) predicateNode() {}

// And matches documents satisfying every sub-predicate.
type And struct {
	Preds []Predicate `json:"preds"`
}

func (*And) predicateNode() {}

// Or matches documents satisfying at least one sub-predicate.
type Or struct {
	Preds []Predicate `json:"preds"`
}

func (*Or) predicateNode() {}
