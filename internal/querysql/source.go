package querysql

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumehq/reflex/internal/expr"
	"github.com/lumehq/reflex/internal/store"
)

// ProxySource answers query expressions against the proxy table. The
// collection name is the domain id; rows are filtered in SQL and the
// yield projection runs over the decoded proxy documents.
type ProxySource struct {
	store    *store.Store
	tenantID string
}

// NewProxySource builds a source scoped to one tenant. Queries never
// cross the tenant boundary.
func NewProxySource(s *store.Store, tenantID string) *ProxySource {
	return &ProxySource{store: s, tenantID: tenantID}
}

// Query implements expr.QuerySource.
func (ps *ProxySource) Query(ctx context.Context, collection string, where expr.Predicate, yields []string) ([]map[string]any, error) {
	sql, params, err := SelectProxies(ps.tenantID, collection, where)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}

	rows, err := ps.store.Query(ctx, sql, params...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", collection, err)
	}
	defer rows.Close()

	results := []map[string]any{}
	for rows.Next() {
		var id, tenantID, domainID, contextKey, contextJSON, fieldsJSON string
		if err := rows.Scan(&id, &tenantID, &domainID, &contextKey, &contextJSON, &fieldsJSON); err != nil {
			return nil, fmt.Errorf("query %s: scan: %w", collection, err)
		}

		doc, err := proxyDocument(id, tenantID, domainID, contextKey, contextJSON, fieldsJSON)
		if err != nil {
			return nil, fmt.Errorf("query %s: %w", collection, err)
		}

		results = append(results, project(doc, yields))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query %s: iterate: %w", collection, err)
	}

	return results, nil
}

func proxyDocument(id, tenantID, domainID, contextKey, contextJSON, fieldsJSON string) (map[string]any, error) {
	var context, fields map[string]any
	if err := json.Unmarshal([]byte(contextJSON), &context); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		return nil, fmt.Errorf("decode dynamic fields: %w", err)
	}

	return map[string]any{
		"id":            id,
		"tenantId":      tenantID,
		"domainId":      domainID,
		"contextKey":    contextKey,
		"context":       context,
		"dynamicFields": fields,
	}, nil
}

// project picks the yielded paths out of a document. An empty yield set
// returns the whole document. A missing path yields nil under its leaf
// name, matching how navigation elsewhere treats absent steps.
func project(doc map[string]any, yields []string) map[string]any {
	if len(yields) == 0 {
		return doc
	}

	out := make(map[string]any, len(yields))
	for _, y := range yields {
		segments := strings.Split(y, ".")
		out[segments[len(segments)-1]] = navigatePath(doc, segments)
	}
	return out
}

func navigatePath(doc map[string]any, segments []string) any {
	var cur any = doc
	for _, seg := range segments {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur, ok = m[seg]
		if !ok {
			return nil
		}
	}
	return cur
}
