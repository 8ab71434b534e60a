package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lumehq/reflex/internal/model"
)

// The journal holds durable, content-addressed copies of every inbound
// event and field operation. Workers drain the unprocessed set and mark
// records terminally processed; because IDs are content-addressed,
// redelivered payloads collapse onto the same row.

// InsertEvent journals an imported event. Returns inserted=false when
// the event (by content-addressed id) was journaled before.
func (s *Store) InsertEvent(ctx context.Context, ev *model.ImportedEvent) (inserted bool, err error) {
	prevJSON, err := marshalMap(ev.PreviousValues)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	currJSON, err := marshalMap(ev.CurrentValues)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	metaJSON, err := marshalMap(ev.Metadata)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO imported_events
		(id, source, source_doc_id, previous_values, current_values, tenant_id, metadata, processed)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING
	`, ev.ID, ev.Source, ev.SourceDocID, prevJSON, currJSON, ev.TenantID, metaJSON)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event: rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkEventProcessed terminally marks an event done. Marking is
// monotone: there is no way back to unprocessed.
func (s *Store) MarkEventProcessed(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE imported_events SET processed = 1 WHERE id = ?
	`, id); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

// UnprocessedEvents returns journaled events not yet marked processed,
// in journal order. Used by startup recovery to re-enqueue work that an
// earlier process accepted but never finished.
func (s *Store) UnprocessedEvents(ctx context.Context) ([]*model.ImportedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source, source_doc_id, previous_values, current_values, tenant_id, metadata, processed
		FROM imported_events
		WHERE processed = 0
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed events: %w", err)
	}
	defer rows.Close()

	events := []*model.ImportedEvent{}
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// GetEvent returns one journaled event by id. Returns ErrNotFound if
// absent.
func (s *Store) GetEvent(ctx context.Context, id string) (*model.ImportedEvent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, source_doc_id, previous_values, current_values, tenant_id, metadata, processed
		FROM imported_events
		WHERE id = ?
	`, id)

	ev, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("get event %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// InsertFieldOperation journals a field-definition operation. Returns
// inserted=false for a redelivered operation.
func (s *Store) InsertFieldOperation(ctx context.Context, op *model.FieldOperation) (inserted bool, err error) {
	fieldJSON, err := json.Marshal(op.Field)
	if err != nil {
		return false, fmt.Errorf("insert field operation: marshal field: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO field_operations (id, type, field, domain_id, tenant_id, processed)
		VALUES (?, ?, ?, ?, ?, 0)
		ON CONFLICT(id) DO NOTHING
	`, op.ID, string(op.Type), string(fieldJSON), op.DomainID, op.TenantID)
	if err != nil {
		return false, fmt.Errorf("insert field operation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert field operation: rows affected: %w", err)
	}
	return affected > 0, nil
}

// MarkFieldOperationProcessed terminally marks a field operation done.
func (s *Store) MarkFieldOperationProcessed(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `
		UPDATE field_operations SET processed = 1 WHERE id = ?
	`, id); err != nil {
		return fmt.Errorf("mark field operation processed: %w", err)
	}
	return nil
}

// UnprocessedFieldOperations returns journaled field operations not yet
// marked processed, in journal order.
func (s *Store) UnprocessedFieldOperations(ctx context.Context) ([]*model.FieldOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, field, domain_id, tenant_id, processed
		FROM field_operations
		WHERE processed = 0
		ORDER BY rowid ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query unprocessed field operations: %w", err)
	}
	defer rows.Close()

	ops := []*model.FieldOperation{}
	for rows.Next() {
		op, err := scanFieldOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan field operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate field operations: %w", err)
	}
	return ops, nil
}

func scanEvent(row rowScanner) (*model.ImportedEvent, error) {
	var ev model.ImportedEvent
	var prevJSON, currJSON, metaJSON string
	var processed int

	if err := row.Scan(&ev.ID, &ev.Source, &ev.SourceDocID, &prevJSON, &currJSON,
		&ev.TenantID, &metaJSON, &processed); err != nil {
		return nil, err
	}

	var err error
	if ev.PreviousValues, err = unmarshalMap(prevJSON); err != nil {
		return nil, fmt.Errorf("decode previous values: %w", err)
	}
	if ev.CurrentValues, err = unmarshalMap(currJSON); err != nil {
		return nil, fmt.Errorf("decode current values: %w", err)
	}
	if ev.Metadata, err = unmarshalMap(metaJSON); err != nil {
		return nil, fmt.Errorf("decode metadata: %w", err)
	}
	ev.Processed = processed != 0
	return &ev, nil
}

func scanFieldOperation(row rowScanner) (*model.FieldOperation, error) {
	var op model.FieldOperation
	var opType, fieldJSON string
	var processed int

	if err := row.Scan(&op.ID, &opType, &fieldJSON, &op.DomainID, &op.TenantID, &processed); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(fieldJSON), &op.Field); err != nil {
		return nil, fmt.Errorf("decode field definition: %w", err)
	}
	op.Type = model.FieldOpType(opType)
	op.Processed = processed != 0
	return &op, nil
}
