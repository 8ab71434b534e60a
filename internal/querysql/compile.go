// Package querysql compiles query predicates to parameterized SQL over
// the proxy table. Field paths address the proxy document: top-level
// names map to columns, context.* and dynamicFields.* map to
// json_extract over the stored JSON.
//
// Every query carries an ORDER BY with a binary collation tiebreaker so
// result ordering is deterministic across runs, and every value is
// parameterized, never interpolated.
package querysql

import (
	"fmt"
	"strings"

	"github.com/lumehq/reflex/internal/expr"
)

// Compile converts a where-predicate into a SQL fragment plus its
// parameters. The predicate must be fully resolved: every comparison
// value a literal. A nil predicate compiles to a vacuous truth.
func Compile(p expr.Predicate) (string, []any, error) {
	sql, params, err := compilePredicate(p)
	if err != nil {
		return "", nil, err
	}
	return sql, params, nil
}

// SelectProxies builds the full statement selecting proxy rows of one
// (tenant, domain) filtered by the predicate.
func SelectProxies(tenantID, domainID string, where expr.Predicate) (string, []any, error) {
	whereSQL, whereParams, err := compilePredicate(where)
	if err != nil {
		return "", nil, err
	}

	sql := fmt.Sprintf(`SELECT id, tenant_id, domain_id, context_key, context, dynamic_fields
		FROM proxies
		WHERE tenant_id = ? AND domain_id = ? AND (%s)
		ORDER BY id COLLATE BINARY ASC`, whereSQL)

	params := append([]any{tenantID, domainID}, whereParams...)
	return sql, params, nil
}

func compilePredicate(p expr.Predicate) (string, []any, error) {
	if p == nil {
		return "1 = 1", nil, nil
	}

	switch pred := p.(type) {
	case *expr.Eq:
		return compileEq(pred)
	case *expr.And:
		return compileJunction(pred.Preds, "AND")
	case *expr.Or:
		return compileJunction(pred.Preds, "OR")
	default:
		return "", nil, fmt.Errorf("unsupported predicate type: %T", p)
	}
}

func compileEq(eq *expr.Eq) (string, []any, error) {
	column, err := fieldColumn(eq.Field)
	if err != nil {
		return "", nil, err
	}

	lit, ok := eq.Value.(*expr.Literal)
	if !ok {
		return "", nil, fmt.Errorf("predicate value for %q is not resolved to a literal: %T", eq.Field, eq.Value)
	}

	param, err := literalParam(lit.Value)
	if err != nil {
		return "", nil, fmt.Errorf("predicate value for %q: %w", eq.Field, err)
	}

	if param == nil {
		// SQL equality never matches NULL; null comparisons need IS.
		return fmt.Sprintf("%s IS NULL", column), nil, nil
	}
	return fmt.Sprintf("%s = ?", column), []any{param}, nil
}

func compileJunction(preds []expr.Predicate, op string) (string, []any, error) {
	if len(preds) == 0 {
		return "1 = 1", nil, nil
	}

	var parts []string
	var params []any
	for _, p := range preds {
		sql, pp, err := compilePredicate(p)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		params = append(params, pp...)
	}
	return strings.Join(parts, " "+op+" "), params, nil
}

// fieldColumn maps a proxy-document path to a SQL expression. Top-level
// names map to columns; context.* and dynamicFields.* descend into the
// stored JSON documents. The path is validated strictly because it is
// spliced into the statement text.
func fieldColumn(field string) (string, error) {
	segments := strings.Split(field, ".")
	for _, seg := range segments {
		if !validIdentifier(seg) {
			return "", fmt.Errorf("invalid field path %q", field)
		}
	}

	switch segments[0] {
	case "id", "tenantId", "domainId", "contextKey":
		if len(segments) != 1 {
			return "", fmt.Errorf("field path %q does not nest", field)
		}
		switch segments[0] {
		case "tenantId":
			return "tenant_id", nil
		case "domainId":
			return "domain_id", nil
		case "contextKey":
			return "context_key", nil
		default:
			return "id", nil
		}
	case "context":
		if len(segments) < 2 {
			return "", fmt.Errorf("field path %q needs a key under context", field)
		}
		return jsonExtract("context", segments[1:]), nil
	case "dynamicFields":
		if len(segments) < 2 {
			return "", fmt.Errorf("field path %q needs a key under dynamicFields", field)
		}
		return jsonExtract("dynamic_fields", segments[1:]), nil
	default:
		return "", fmt.Errorf("unknown proxy field %q", field)
	}
}

func jsonExtract(column string, path []string) string {
	return fmt.Sprintf("json_extract(%s, '$.%s')", column, strings.Join(path, "."))
}

func validIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r == '_':
		case r >= '0' && r <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

// literalParam converts a literal value to a SQL parameter. Composite
// values cannot be compared in SQL directly.
func literalParam(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string, bool, float64, int64, int:
		return val, nil
	case []any:
		return nil, fmt.Errorf("list cannot be used as a SQL parameter")
	case map[string]any:
		return nil, fmt.Errorf("object cannot be used as a SQL parameter")
	default:
		return nil, fmt.Errorf("unsupported literal type for SQL parameter: %T", v)
	}
}
