package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lumehq/reflex/internal/model"
)

// CreateProxy inserts a proxy record. Creation is idempotent on
// (tenant_id, domain_id, context_key): a replayed creating event
// conflicts on the identity index and is reported as inserted=false,
// with the existing proxy's id returned in place of the candidate's.
func (s *Store) CreateProxy(ctx context.Context, p *model.Proxy) (id string, inserted bool, err error) {
	contextJSON, err := marshalMap(p.Context)
	if err != nil {
		return "", false, fmt.Errorf("create proxy: %w", err)
	}
	fieldsJSON, err := marshalMap(p.DynamicFields)
	if err != nil {
		return "", false, fmt.Errorf("create proxy: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("create proxy: begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO proxies (id, tenant_id, domain_id, context_key, context, dynamic_fields)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, domain_id, context_key) DO NOTHING
	`, p.ID, p.TenantID, p.DomainID, p.ContextKey, contextJSON, fieldsJSON)
	if err != nil {
		return "", false, fmt.Errorf("create proxy: insert: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return "", false, fmt.Errorf("create proxy: rows affected: %w", err)
	}

	if affected > 0 {
		if err := tx.Commit(); err != nil {
			return "", false, fmt.Errorf("create proxy: commit: %w", err)
		}
		return p.ID, true, nil
	}

	// Conflict: a proxy with this identity already exists. Return its id
	// so callers converge on the canonical record.
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM proxies
		WHERE tenant_id = ? AND domain_id = ? AND context_key = ?
	`, p.TenantID, p.DomainID, p.ContextKey).Scan(&id)
	if err != nil {
		return "", false, fmt.Errorf("create proxy: select existing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("create proxy: commit (existing): %w", err)
	}
	return id, false, nil
}

// GetProxy returns the proxy by id. Returns ErrNotFound if absent.
func (s *Store) GetProxy(ctx context.Context, id string) (*model.Proxy, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, domain_id, context_key, context, dynamic_fields
		FROM proxies
		WHERE id = ?
	`, id)

	p, err := scanProxy(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get proxy %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get proxy: %w", err)
	}
	return p, nil
}

// ProxiesByDomain returns every proxy of (tenantID, domainID), ordered
// by id for deterministic traversal. Returns an empty slice when the
// domain has no proxies.
func (s *Store) ProxiesByDomain(ctx context.Context, tenantID, domainID string) ([]*model.Proxy, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, domain_id, context_key, context, dynamic_fields
		FROM proxies
		WHERE tenant_id = ? AND domain_id = ?
		ORDER BY id COLLATE BINARY ASC
	`, tenantID, domainID)
	if err != nil {
		return nil, fmt.Errorf("query proxies: %w", err)
	}
	defer rows.Close()

	proxies := []*model.Proxy{}
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("scan proxy: %w", err)
		}
		proxies = append(proxies, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate proxies: %w", err)
	}

	return proxies, nil
}

// FieldUpdate sets one dynamic field. A nil Value with Remove=true
// deletes the field's slot entirely; Remove=false stores an explicit
// null.
type FieldUpdate struct {
	FieldID string
	Value   any
	Remove  bool
}

// UpdateProxyFields applies a batch of dynamic-field updates to one
// proxy atomically: the read, merge, and write happen in a single
// transaction so concurrent batches never interleave partial states.
// Returns ErrNotFound if the proxy does not exist.
func (s *Store) UpdateProxyFields(ctx context.Context, id string, updates []FieldUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("update proxy fields: begin tx: %w", err)
	}
	defer tx.Rollback()

	var fieldsJSON string
	err = tx.QueryRowContext(ctx, `
		SELECT dynamic_fields FROM proxies WHERE id = ?
	`, id).Scan(&fieldsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("update proxy fields %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update proxy fields: read: %w", err)
	}

	fields, err := unmarshalMap(fieldsJSON)
	if err != nil {
		return fmt.Errorf("update proxy fields: %w", err)
	}

	for _, u := range updates {
		if u.Remove {
			delete(fields, u.FieldID)
			continue
		}
		fields[u.FieldID] = u.Value
	}

	merged, err := marshalMap(fields)
	if err != nil {
		return fmt.Errorf("update proxy fields: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE proxies SET dynamic_fields = ? WHERE id = ?
	`, merged, id); err != nil {
		return fmt.Errorf("update proxy fields: write: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("update proxy fields: commit: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProxy(row rowScanner) (*model.Proxy, error) {
	var p model.Proxy
	var contextJSON, fieldsJSON string
	if err := row.Scan(&p.ID, &p.TenantID, &p.DomainID, &p.ContextKey, &contextJSON, &fieldsJSON); err != nil {
		return nil, err
	}

	var err error
	if p.Context, err = unmarshalMap(contextJSON); err != nil {
		return nil, fmt.Errorf("decode context: %w", err)
	}
	if p.DynamicFields, err = unmarshalMap(fieldsJSON); err != nil {
		return nil, fmt.Errorf("decode dynamic fields: %w", err)
	}
	return &p, nil
}
