package engine

import "github.com/lumehq/reflex/internal/model"

// Jobs are the three queue payloads. Delivery is at-least-once; every
// handler is written so a redelivered job converges on the same state.
// Attempts counts deliveries of this payload, driving retry backoff and
// the give-up threshold.

// EventJob carries one journaled imported event through the trigger
// lifecycle.
type EventJob struct {
	Event    *model.ImportedEvent
	Attempts int
}

// FieldJob carries one field-definition operation through the schema
// lifecycle.
type FieldJob struct {
	Op       *model.FieldOperation
	Attempts int
}

// NodeJob carries a batch of dirty targets to the evaluation worker.
// All targets belong to one tenant; the worker groups them further by
// owning entity.
type NodeJob struct {
	TenantID string
	Targets  []string
	Attempts int
}
