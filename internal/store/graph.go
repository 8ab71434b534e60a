package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lumehq/reflex/internal/merge"
	"github.com/lumehq/reflex/internal/model"
)

// EmitNode asserts a node into the dependency graph. The whole
// read-resolve-write sequence runs in one transaction:
//
//   - If no node exists for (tenant, target), the candidate is inserted
//     as DIRTY.
//   - Otherwise the candidate's merge policies decide. Under OVERWRITE
//     a higher version replaces the stored node (and resets it to
//     DIRTY); an equal or lower version leaves the store untouched, so
//     replayed emissions are no-ops.
//
// Returns applied=true when the store changed.
func (s *Store) EmitNode(ctx context.Context, n *model.Node) (applied bool, err error) {
	if err := n.MergePolicies.Validate(); err != nil {
		return false, fmt.Errorf("emit node %s: %w", n.Target, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("emit node: begin tx: %w", err)
	}
	defer tx.Rollback()

	var existingVersion string
	err = tx.QueryRowContext(ctx, `
		SELECT version FROM graph_nodes
		WHERE tenant_id = ? AND target = ?
	`, n.TenantID, n.Target).Scan(&existingVersion)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := insertNode(ctx, tx, n); err != nil {
			return false, fmt.Errorf("emit node: %w", err)
		}
		applied = true

	case err != nil:
		return false, fmt.Errorf("emit node: read existing: %w", err)

	default:
		useIncoming, err := merge.Resolve(n.MergePolicies, existingVersion, n.Version)
		if err != nil {
			return false, fmt.Errorf("emit node %s: %w", n.Target, err)
		}
		if !useIncoming {
			return false, tx.Commit()
		}
		if err := replaceNode(ctx, tx, n); err != nil {
			return false, fmt.Errorf("emit node: %w", err)
		}
		applied = true
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("emit node: commit: %w", err)
	}
	return applied, nil
}

func insertNode(ctx context.Context, tx *sql.Tx, n *model.Node) error {
	seed, condition, value, deps, err := nodeColumns(n)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO graph_nodes
		(tenant_id, target, seed, condition, value, status, h_policy, v_policy, version, dependencies, dirt_gen)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, n.TenantID, n.Target, seed, condition, value, string(n.Status),
		string(n.MergePolicies.Horizontal), string(n.MergePolicies.Vertical),
		n.Version, deps, n.DirtGen)
	if err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

func replaceNode(ctx context.Context, tx *sql.Tx, n *model.Node) error {
	seed, condition, value, deps, err := nodeColumns(n)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE graph_nodes SET
			seed = ?, condition = ?, value = ?, status = ?,
			h_policy = ?, v_policy = ?, version = ?, dependencies = ?,
			dirt_gen = dirt_gen + 1
		WHERE tenant_id = ? AND target = ?
	`, seed, condition, value, string(n.Status),
		string(n.MergePolicies.Horizontal), string(n.MergePolicies.Vertical),
		n.Version, deps, n.TenantID, n.Target)
	if err != nil {
		return fmt.Errorf("replace: %w", err)
	}
	return nil
}

func nodeColumns(n *model.Node) (seed, condition, value sql.NullString, deps string, err error) {
	if seed, err = marshalExprColumn(n.Seed); err != nil {
		return seed, condition, value, deps, fmt.Errorf("seed: %w", err)
	}
	if condition, err = marshalExprColumn(n.Condition); err != nil {
		return seed, condition, value, deps, fmt.Errorf("condition: %w", err)
	}
	if value, err = marshalValue(n.Value); err != nil {
		return seed, condition, value, deps, fmt.Errorf("value: %w", err)
	}
	if deps, err = marshalStrings(n.Dependencies); err != nil {
		return seed, condition, value, deps, fmt.Errorf("dependencies: %w", err)
	}
	return seed, condition, value, deps, nil
}

// GetNode returns the node for (tenantID, target). Returns ErrNotFound
// if absent.
func (s *Store) GetNode(ctx context.Context, tenantID, target string) (*model.Node, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, target, seed, condition, value, status, h_policy, v_policy, version, dependencies, dirt_gen
		FROM graph_nodes
		WHERE tenant_id = ? AND target = ?
	`, tenantID, target)

	n, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get node %s: %w", target, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get node: %w", err)
	}
	return n, nil
}

// DeleteNode removes the node for (tenantID, target). Deleting an
// absent node is a no-op, so retried field-removal jobs converge.
func (s *Store) DeleteNode(ctx context.Context, tenantID, target string) error {
	if _, err := s.db.ExecContext(ctx, `
		DELETE FROM graph_nodes WHERE tenant_id = ? AND target = ?
	`, tenantID, target); err != nil {
		return fmt.Errorf("delete node: %w", err)
	}
	return nil
}

// DirtyNodes returns all DIRTY nodes of a tenant, ordered by target for
// deterministic evaluation batches.
func (s *Store) DirtyNodes(ctx context.Context, tenantID string) ([]*model.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, target, seed, condition, value, status, h_policy, v_policy, version, dependencies, dirt_gen
		FROM graph_nodes
		WHERE tenant_id = ? AND status = ?
		ORDER BY target COLLATE BINARY ASC
	`, tenantID, string(model.NodeDirty))
	if err != nil {
		return nil, fmt.Errorf("query dirty nodes: %w", err)
	}
	defer rows.Close()

	return collectNodes(rows)
}

// NodesByTenant returns every node of a tenant ordered by target.
func (s *Store) NodesByTenant(ctx context.Context, tenantID string) ([]*model.Node, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT tenant_id, target, seed, condition, value, status, h_policy, v_policy, version, dependencies, dirt_gen
		FROM graph_nodes
		WHERE tenant_id = ?
		ORDER BY target COLLATE BINARY ASC
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	return collectNodes(rows)
}

// MarkNodesDirty flips the given targets to DIRTY in one statement.
// Unknown targets are skipped silently; marking is decoupled from node
// creation and the set may mention targets emitted by another job.
func (s *Store) MarkNodesDirty(ctx context.Context, tenantID string, targets []string) error {
	if len(targets) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("mark nodes dirty: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE graph_nodes SET status = ?, dirt_gen = dirt_gen + 1
		WHERE tenant_id = ? AND target = ?
	`)
	if err != nil {
		return fmt.Errorf("mark nodes dirty: prepare: %w", err)
	}
	defer stmt.Close()

	for _, target := range targets {
		if _, err := stmt.ExecContext(ctx, string(model.NodeDirty), tenantID, target); err != nil {
			return fmt.Errorf("mark node %s dirty: %w", target, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("mark nodes dirty: commit: %w", err)
	}
	return nil
}

// CompleteNode stores an evaluated value and flips the node to
// EVALUATED, but only if the version and dirt generation still match
// the ones the evaluation started from. A concurrent re-emission bumps
// the version; a concurrent dirty mark bumps the generation. Either way
// the stale completion is dropped (applied=false), the node stays DIRTY
// and is picked up again.
func (s *Store) CompleteNode(ctx context.Context, tenantID, target string, value any, version string, dirtGen int64) (applied bool, err error) {
	valueJSON, err := marshalValue(value)
	if err != nil {
		return false, fmt.Errorf("complete node: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE graph_nodes SET value = ?, status = ?
		WHERE tenant_id = ? AND target = ? AND version = ? AND dirt_gen = ?
	`, valueJSON, string(model.NodeEvaluated), tenantID, target, version, dirtGen)
	if err != nil {
		return false, fmt.Errorf("complete node: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("complete node: rows affected: %w", err)
	}
	return affected > 0, nil
}

func collectNodes(rows *sql.Rows) ([]*model.Node, error) {
	nodes := []*model.Node{}
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, fmt.Errorf("scan node: %w", err)
		}
		nodes = append(nodes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nodes: %w", err)
	}
	return nodes, nil
}

func scanNode(row rowScanner) (*model.Node, error) {
	var n model.Node
	var seed, condition, value sql.NullString
	var status, hPolicy, vPolicy, deps string

	if err := row.Scan(&n.TenantID, &n.Target, &seed, &condition, &value,
		&status, &hPolicy, &vPolicy, &n.Version, &deps, &n.DirtGen); err != nil {
		return nil, err
	}

	var err error
	if n.Seed, err = unmarshalExprColumn(seed); err != nil {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	if n.Condition, err = unmarshalExprColumn(condition); err != nil {
		return nil, fmt.Errorf("decode condition: %w", err)
	}
	if n.Value, err = unmarshalValue(value); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	if n.Dependencies, err = unmarshalStrings(deps); err != nil {
		return nil, fmt.Errorf("decode dependencies: %w", err)
	}

	n.Status = model.NodeStatus(status)
	n.MergePolicies = merge.Policies{
		Horizontal: merge.Horizontal(hPolicy),
		Vertical:   merge.Vertical(vPolicy),
	}
	return &n, nil
}
