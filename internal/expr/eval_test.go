package expr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testScope() Scope {
	return NewScope(map[string]any{
		BindingSelf: map[string]any{
			"caseNumber": "C-100",
			"patient":    map[string]any{"name": "Ada"},
		},
		BindingCurrentValues: map[string]any{
			"caseNumber": "C-100",
			"status":     "open",
		},
		BindingMetadata: map[string]any{"actor": "system"},
	})
}

func TestEvaluate_Literal(t *testing.T) {
	ev := New()

	res, err := ev.Evaluate(context.Background(), &Literal{Value: "hello"}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "hello", res.Value)
}

func TestEvaluate_SymbolAndDot(t *testing.T) {
	ev := New()

	e := &Dot{
		Source: &Symbol{Name: BindingCurrentValues},
		Paths:  []string{"caseNumber"},
	}

	res, err := ev.Evaluate(context.Background(), e, testScope())
	require.NoError(t, err)
	assert.Equal(t, "C-100", res.Value)
}

func TestEvaluate_SelfNestedPath(t *testing.T) {
	ev := New()

	res, err := ev.Evaluate(context.Background(), &Self{Paths: []string{"patient", "name"}}, testScope())
	require.NoError(t, err)
	assert.Equal(t, "Ada", res.Value)
}

// Navigating through a null intermediate yields nil with no error.
// This is a binding contract: absent data is not a failure.
func TestEvaluate_DotThroughNullIsNil(t *testing.T) {
	ev := New()
	sc := NewScope(map[string]any{
		BindingCurrentValues: map[string]any{"a": nil},
	})

	e := &Dot{
		Source: &Symbol{Name: BindingCurrentValues},
		Paths:  []string{"a", "b"},
	}

	res, err := ev.Evaluate(context.Background(), e, sc)
	require.NoError(t, err)
	assert.Nil(t, res.Value)
}

func TestEvaluate_MissingPathIsNil(t *testing.T) {
	ev := New()

	res, err := ev.Evaluate(context.Background(), &Self{Paths: []string{"no", "such", "path"}}, testScope())
	require.NoError(t, err)
	assert.Nil(t, res.Value)
}

func TestEvaluate_UnboundSymbolIsNil(t *testing.T) {
	ev := New()

	res, err := ev.Evaluate(context.Background(), &Symbol{Name: BindingOptions}, testScope())
	require.NoError(t, err)
	assert.Nil(t, res.Value)
}

func TestEvaluate_Equals(t *testing.T) {
	ev := New()

	e := &Equals{
		Left:  &Dot{Source: &Symbol{Name: BindingCurrentValues}, Paths: []string{"status"}},
		Right: &Literal{Value: "open"},
	}

	res, err := ev.Evaluate(context.Background(), e, testScope())
	require.NoError(t, err)
	assert.Equal(t, true, res.Value)
}

// Numbers compare by value: a float64 from JSON decoding equals an
// int64 from a store read.
func TestEvaluate_EqualsNumericRepresentations(t *testing.T) {
	ev := New()

	e := &Equals{
		Left:  &Literal{Value: float64(42)},
		Right: &Literal{Value: int64(42)},
	}

	res, err := ev.Evaluate(context.Background(), e, testScope())
	require.NoError(t, err)
	assert.Equal(t, true, res.Value)
}

func TestEvaluate_Not(t *testing.T) {
	ev := New()

	res, err := ev.Evaluate(context.Background(), &Not{Arg: &Literal{Value: false}}, testScope())
	require.NoError(t, err)
	assert.Equal(t, true, res.Value)
}

func TestEvaluate_NotNonBooleanIsEvalError(t *testing.T) {
	ev := New()

	res, err := ev.Evaluate(context.Background(), &Not{Arg: &Literal{Value: "nope"}}, testScope())
	require.Error(t, err)
	assert.True(t, IsEvalError(err))
	assert.False(t, IsConfigError(err))
	assert.Nil(t, res.Value)
}

func TestEvaluate_UnknownFunctionIsConfigError(t *testing.T) {
	ev := New()

	_, err := ev.Evaluate(context.Background(), &Call{Name: "frobnicate"}, testScope())
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
	assert.False(t, IsEvalError(err))
}

func TestEvaluate_CallBuiltins(t *testing.T) {
	ev := New()
	ctx := context.Background()
	sc := testScope()

	res, err := ev.Evaluate(ctx, &Call{Name: "concat", Params: []Expr{
		&Literal{Value: "case-"},
		&Dot{Source: &Symbol{Name: BindingCurrentValues}, Paths: []string{"caseNumber"}},
	}}, sc)
	require.NoError(t, err)
	assert.Equal(t, "case-C-100", res.Value)

	res, err = ev.Evaluate(ctx, &Call{Name: "coalesce", Params: []Expr{
		&Self{Paths: []string{"missing"}},
		&Literal{Value: "fallback"},
	}}, sc)
	require.NoError(t, err)
	assert.Equal(t, "fallback", res.Value)

	res, err = ev.Evaluate(ctx, &Call{Name: "upper", Params: []Expr{&Literal{Value: "ada"}}}, sc)
	require.NoError(t, err)
	assert.Equal(t, "ADA", res.Value)
}

func TestEvaluate_ObjectAndList(t *testing.T) {
	ev := New()

	e := &Object{Fields: map[string]Expr{
		"key":    &Dot{Source: &Symbol{Name: BindingCurrentValues}, Paths: []string{"caseNumber"}},
		"labels": &List{Elems: []Expr{&Literal{Value: "a"}, &Literal{Value: "b"}}},
	}}

	res, err := ev.Evaluate(context.Background(), e, testScope())
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"key":    "C-100",
		"labels": []any{"a", "b"},
	}, res.Value)
}

func TestEvaluate_TypeHintCarried(t *testing.T) {
	ev := New()

	e := &Literal{hinted: hinted{TypeHint: "string"}, Value: "x"}
	res, err := ev.Evaluate(context.Background(), e, testScope())
	require.NoError(t, err)
	assert.Equal(t, "string", res.TypeHint)
}

func TestEvaluateBool(t *testing.T) {
	ev := New()
	ctx := context.Background()
	sc := testScope()

	ok, err := ev.EvaluateBool(ctx, &Literal{Value: true}, sc)
	require.NoError(t, err)
	assert.True(t, ok)

	// nil coerces to false
	ok, err = ev.EvaluateBool(ctx, &Self{Paths: []string{"missing"}}, sc)
	require.NoError(t, err)
	assert.False(t, ok)

	// non-boolean is a data-shape error
	_, err = ev.EvaluateBool(ctx, &Literal{Value: "yes"}, sc)
	require.Error(t, err)
	assert.True(t, IsEvalError(err))
}

// Evaluation must not mutate the scope it was handed.
func TestEvaluate_ScopeNotMutated(t *testing.T) {
	ev := New()
	bindings := map[string]any{
		BindingCurrentValues: map[string]any{"caseNumber": "C-1"},
	}
	sc := NewScope(bindings)

	_, err := ev.Evaluate(context.Background(), &Symbol{Name: BindingCurrentValues}, sc)
	require.NoError(t, err)

	// Mutating the caller's map after NewScope must not affect the scope.
	bindings[BindingCurrentValues] = "clobbered"
	v, ok := sc.Lookup(BindingCurrentValues)
	require.True(t, ok)
	assert.Equal(t, map[string]any{"caseNumber": "C-1"}, v)
}

type fakeSource struct {
	gotCollection string
	gotWhere      Predicate
	gotYields     []string
	rows          []map[string]any
}

func (f *fakeSource) Query(_ context.Context, collection string, where Predicate, yields []string) ([]map[string]any, error) {
	f.gotCollection = collection
	f.gotWhere = where
	f.gotYields = yields
	return f.rows, nil
}

func TestEvaluate_QueryResolvesWhereTree(t *testing.T) {
	src := &fakeSource{rows: []map[string]any{{"name": "Ada"}}}
	ev := New(WithQuerySource(src))

	e := &Query{
		Collection: "patients",
		Where: &And{Preds: []Predicate{
			&Eq{Field: "caseNumber", Value: &Dot{Source: &Symbol{Name: BindingCurrentValues}, Paths: []string{"caseNumber"}}},
			&Eq{Field: "active", Value: &Literal{Value: true}},
		}},
		Yields: []string{"name"},
	}

	res, err := ev.Evaluate(context.Background(), e, testScope())
	require.NoError(t, err)
	assert.Equal(t, []any{map[string]any{"name": "Ada"}}, res.Value)
	assert.Equal(t, "patients", src.gotCollection)
	assert.Equal(t, []string{"name"}, src.gotYields)

	// The where tree handed to the source is fully resolved: every Eq
	// leaf carries a literal value.
	and, ok := src.gotWhere.(*And)
	require.True(t, ok)
	require.Len(t, and.Preds, 2)
	eq, ok := and.Preds[0].(*Eq)
	require.True(t, ok)
	lit, ok := eq.Value.(*Literal)
	require.True(t, ok)
	assert.Equal(t, "C-100", lit.Value)
}

func TestEvaluate_QueryWithoutSourceIsConfigError(t *testing.T) {
	ev := New()

	_, err := ev.Evaluate(context.Background(), &Query{Collection: "patients"}, testScope())
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}

func TestMarshalExpr_RoundTrip(t *testing.T) {
	e := &Object{
		hinted: hinted{TypeHint: "object"},
		Fields: map[string]Expr{
			"cond": &Not{Arg: &Equals{
				Left:  &Self{Paths: []string{"status"}},
				Right: &Literal{Value: "closed"},
			}},
			"match": &Query{
				Collection: "cases",
				Where: &Or{Preds: []Predicate{
					&Eq{Field: "id", Value: &Symbol{Name: BindingSelf}},
					&Eq{Field: "open", Value: &Literal{Value: true}},
				}},
				Yields: []string{"id"},
			},
			"name": &Call{Name: "concat", Params: []Expr{
				&Literal{Value: "p-"},
				&Dot{Source: &Symbol{Name: BindingMetadata}, Paths: []string{"actor"}},
			}},
		},
	}

	data, err := MarshalExpr(e)
	require.NoError(t, err)

	decoded, err := UnmarshalExpr(data)
	require.NoError(t, err)
	assert.Equal(t, e, decoded)
}

func TestUnmarshalExpr_UnknownOp(t *testing.T) {
	_, err := UnmarshalExpr([]byte(`{"op":"teleport","node":{}}`))
	require.Error(t, err)
	assert.True(t, IsConfigError(err))
}
