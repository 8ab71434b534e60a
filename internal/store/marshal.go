package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lumehq/reflex/internal/expr"
)

// Column codecs. Maps and values are stored as compact JSON; expressions
// are stored in their tagged envelope encoding, NULL when absent.

func marshalMap(m map[string]any) (string, error) {
	if m == nil {
		m = map[string]any{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshal map: %w", err)
	}
	return string(data), nil
}

func unmarshalMap(data string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("unmarshal map: %w", err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func marshalValue(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal value: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalValue(col sql.NullString) (any, error) {
	if !col.Valid {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal([]byte(col.String), &v); err != nil {
		return nil, fmt.Errorf("unmarshal value: %w", err)
	}
	return v, nil
}

func marshalExprColumn(e expr.Expr) (sql.NullString, error) {
	if e == nil {
		return sql.NullString{}, nil
	}
	data, err := expr.MarshalExpr(e)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshal expression: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func unmarshalExprColumn(col sql.NullString) (expr.Expr, error) {
	if !col.Valid {
		return nil, nil
	}
	e, err := expr.UnmarshalExpr([]byte(col.String))
	if err != nil {
		return nil, fmt.Errorf("unmarshal expression: %w", err)
	}
	return e, nil
}

func marshalStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	data, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("marshal string list: %w", err)
	}
	return string(data), nil
}

func unmarshalStrings(data string) ([]string, error) {
	var ss []string
	if err := json.Unmarshal([]byte(data), &ss); err != nil {
		return nil, fmt.Errorf("unmarshal string list: %w", err)
	}
	if ss == nil {
		ss = []string{}
	}
	return ss, nil
}
