package querysql

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumehq/reflex/internal/expr"
	"github.com/lumehq/reflex/internal/model"
	"github.com/lumehq/reflex/internal/store"
)

func TestCompileEqColumn(t *testing.T) {
	sql, params, err := Compile(&expr.Eq{
		Field: "contextKey",
		Value: &expr.Literal{Value: "cust-42"},
	})
	require.NoError(t, err)
	assert.Equal(t, "context_key = ?", sql)
	assert.Equal(t, []any{"cust-42"}, params)
}

func TestCompileEqJSONPath(t *testing.T) {
	sql, params, err := Compile(&expr.Eq{
		Field: "dynamicFields.total",
		Value: &expr.Literal{Value: float64(9)},
	})
	require.NoError(t, err)
	assert.Equal(t, "json_extract(dynamic_fields, '$.total') = ?", sql)
	assert.Equal(t, []any{float64(9)}, params)
}

func TestCompileNullUsesIs(t *testing.T) {
	sql, params, err := Compile(&expr.Eq{
		Field: "context.customer",
		Value: &expr.Literal{Value: nil},
	})
	require.NoError(t, err)
	assert.Equal(t, "json_extract(context, '$.customer') IS NULL", sql)
	assert.Empty(t, params)
}

func TestCompileJunctions(t *testing.T) {
	sql, params, err := Compile(&expr.Or{Preds: []expr.Predicate{
		&expr.And{Preds: []expr.Predicate{
			&expr.Eq{Field: "contextKey", Value: &expr.Literal{Value: "a"}},
			&expr.Eq{Field: "dynamicFields.open", Value: &expr.Literal{Value: true}},
		}},
		&expr.Eq{Field: "id", Value: &expr.Literal{Value: "p-9"}},
	}})
	require.NoError(t, err)
	assert.Equal(t,
		"((context_key = ?) AND (json_extract(dynamic_fields, '$.open') = ?)) OR (id = ?)",
		sql)
	assert.Equal(t, []any{"a", true, "p-9"}, params)
}

func TestCompileRejectsHostilePath(t *testing.T) {
	// Paths are spliced into the statement, so anything outside the
	// identifier charset must be rejected outright.
	_, _, err := Compile(&expr.Eq{
		Field: "dynamicFields.x') OR ('1'='1",
		Value: &expr.Literal{Value: "v"},
	})
	assert.Error(t, err)

	_, _, err = Compile(&expr.Eq{
		Field: "secret_column",
		Value: &expr.Literal{Value: "v"},
	})
	assert.Error(t, err)
}

func TestSelectProxiesOrdering(t *testing.T) {
	// COLLATE must precede the sort direction; SQLite rejects the
	// reverse order.
	sql, params, err := SelectProxies("t-1", "d-1", nil)
	require.NoError(t, err)
	assert.Contains(t, sql, "ORDER BY id COLLATE BINARY ASC")
	assert.Equal(t, []any{"t-1", "d-1"}, params)
}

func TestCompileRejectsUnresolvedValue(t *testing.T) {
	_, _, err := Compile(&expr.Eq{
		Field: "contextKey",
		Value: &expr.Symbol{Name: "other"},
	})
	assert.Error(t, err)
}

func TestProxySourceQuery(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	seed := []*model.Proxy{
		{
			ID: "p-1", TenantID: "t1", DomainID: "orders", ContextKey: "cust-1",
			Context:       map[string]any{"region": "eu"},
			DynamicFields: map[string]any{"total": float64(10)},
		},
		{
			ID: "p-2", TenantID: "t1", DomainID: "orders", ContextKey: "cust-2",
			Context:       map[string]any{"region": "us"},
			DynamicFields: map[string]any{"total": float64(20)},
		},
		{
			ID: "p-3", TenantID: "t2", DomainID: "orders", ContextKey: "cust-1",
			Context:       map[string]any{"region": "eu"},
			DynamicFields: map[string]any{"total": float64(30)},
		},
	}
	for _, p := range seed {
		_, _, err := s.CreateProxy(ctx, p)
		require.NoError(t, err)
	}

	src := NewProxySource(s, "t1")
	rows, err := src.Query(ctx, "orders",
		&expr.Eq{Field: "context.region", Value: &expr.Literal{Value: "eu"}},
		[]string{"contextKey", "dynamicFields.total"})
	require.NoError(t, err)

	// The t2 proxy with the same region never leaks across the tenant
	// boundary.
	require.Len(t, rows, 1)
	assert.Equal(t, "cust-1", rows[0]["contextKey"])
	assert.Equal(t, float64(10), rows[0]["total"])
}

func TestProxySourceEmptyYieldReturnsDocument(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, _, err := s.CreateProxy(ctx, &model.Proxy{
		ID: "p-1", TenantID: "t1", DomainID: "orders", ContextKey: "cust-1",
		Context:       map[string]any{},
		DynamicFields: map[string]any{},
	})
	require.NoError(t, err)

	src := NewProxySource(s, "t1")
	rows, err := src.Query(ctx, "orders", nil, nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "p-1", rows[0]["id"])
	assert.Contains(t, rows[0], "dynamicFields")
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
