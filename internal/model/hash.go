package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix
// leaves room for algorithm migration.
const (
	hashDomainEvent   = "reflex/event/v1"
	hashDomainFieldOp = "reflex/fieldop/v1"
)

// hashWithDomain computes SHA-256 with domain separation. The null byte
// separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed id for an imported event. The
// same payload journaled twice gets the same id, which is what makes
// at-least-once ingestion idempotent at the store.
func EventID(ev ImportedEvent) (string, error) {
	canonical, err := MarshalCanonical(map[string]any{
		"source":          ev.Source,
		"source_doc_id":   ev.SourceDocID,
		"previous_values": ev.PreviousValues,
		"current_values":  ev.CurrentValues,
		"tenant_id":       ev.TenantID,
		"metadata":        ev.Metadata,
	})
	if err != nil {
		return "", fmt.Errorf("EventID: marshal: %w", err)
	}
	return hashWithDomain(hashDomainEvent, canonical), nil
}

// FieldOperationID computes the content-addressed id for a field
// operation.
func FieldOperationID(op FieldOperation) (string, error) {
	fieldJSON, err := op.Field.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("FieldOperationID: marshal field: %w", err)
	}
	canonical, err := MarshalCanonical(map[string]any{
		"type":      string(op.Type),
		"field":     string(fieldJSON),
		"domain_id": op.DomainID,
		"tenant_id": op.TenantID,
	})
	if err != nil {
		return "", fmt.Errorf("FieldOperationID: marshal: %w", err)
	}
	return hashWithDomain(hashDomainFieldOp, canonical), nil
}
