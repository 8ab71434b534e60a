package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lumehq/reflex/internal/model"
)

// ErrNotFound is returned by single-row lookups when no record matches.
var ErrNotFound = errors.New("not found")

// PutDomain upserts a domain configuration. The full domain (trigger,
// fields, permissions) is persisted as one JSON document; event type
// and version are lifted into columns for matching and conflict checks.
func (s *Store) PutDomain(ctx context.Context, d *model.Domain) error {
	config, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("put domain: marshal config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO domains (tenant_id, domain_id, event_type, version, config)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(tenant_id, domain_id) DO UPDATE SET
			event_type = excluded.event_type,
			version    = excluded.version,
			config     = excluded.config
	`, d.TenantID, d.DomainID, d.Trigger.EventType, d.Version, string(config))
	if err != nil {
		return fmt.Errorf("put domain: %w", err)
	}

	return nil
}

// FindDomain returns the domain configuration for (tenantID, domainID).
// Returns ErrNotFound if no such domain exists.
func (s *Store) FindDomain(ctx context.Context, tenantID, domainID string) (*model.Domain, error) {
	var config string
	err := s.db.QueryRowContext(ctx, `
		SELECT config FROM domains
		WHERE tenant_id = ? AND domain_id = ?
	`, tenantID, domainID).Scan(&config)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("find domain %s/%s: %w", tenantID, domainID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find domain: %w", err)
	}

	return decodeDomain(config)
}

// DomainsByEventType returns every domain in the tenant whose trigger
// matches eventType, ordered by domain id for deterministic processing.
// Returns an empty slice when nothing matches.
func (s *Store) DomainsByEventType(ctx context.Context, tenantID, eventType string) ([]*model.Domain, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT config FROM domains
		WHERE tenant_id = ? AND event_type = ?
		ORDER BY domain_id COLLATE BINARY ASC
	`, tenantID, eventType)
	if err != nil {
		return nil, fmt.Errorf("query domains by event type: %w", err)
	}
	defer rows.Close()

	domains := []*model.Domain{}
	for rows.Next() {
		var config string
		if err := rows.Scan(&config); err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		d, err := decodeDomain(config)
		if err != nil {
			return nil, err
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate domains: %w", err)
	}

	return domains, nil
}

func decodeDomain(config string) (*model.Domain, error) {
	var d model.Domain
	if err := json.Unmarshal([]byte(config), &d); err != nil {
		return nil, fmt.Errorf("decode domain config: %w", err)
	}
	return &d, nil
}
