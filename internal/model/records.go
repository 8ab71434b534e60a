package model

import (
	"github.com/lumehq/reflex/internal/expr"
	"github.com/lumehq/reflex/internal/merge"
)

// Proxy is a derived, tenant-scoped entity aggregating computed fields
// from one or more source events. Created once per
// (tenant, domain, contextKey); its dynamic fields are mutated only by
// the node-evaluation worker and the field-definition lifecycle.
type Proxy struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	DomainID string `json:"domain_id"`

	// ContextKey is the proxy's natural key within the domain,
	// computed by the trigger's context-key expression.
	ContextKey string `json:"context_key"`

	// Context is the snapshot captured at creation from the trigger's
	// emit expression.
	Context map[string]any `json:"context"`

	// DynamicFields maps field id to its last computed value. A key is
	// absent until the worker first evaluates it.
	DynamicFields map[string]any `json:"dynamic_fields"`
}

// Document returns the proxy as a navigable value for expression
// evaluation and query projection.
func (p *Proxy) Document() map[string]any {
	fields := make(map[string]any, len(p.DynamicFields))
	for k, v := range p.DynamicFields {
		fields[k] = v
	}
	return map[string]any{
		"id":            p.ID,
		"tenantId":      p.TenantID,
		"domainId":      p.DomainID,
		"contextKey":    p.ContextKey,
		"context":       p.Context,
		"dynamicFields": fields,
	}
}

// ImportedEvent is one journaled business event from an external
// service. Delivery is at-least-once; effects are idempotent and the
// record is marked processed terminally.
type ImportedEvent struct {
	ID             string         `json:"id"`
	Source         string         `json:"source"`
	SourceDocID    string         `json:"source_doc_id"`
	PreviousValues map[string]any `json:"previous_values"`
	CurrentValues  map[string]any `json:"current_values"`
	TenantID       string         `json:"tenant_id"`
	Metadata       map[string]any `json:"metadata"`
	Processed      bool           `json:"processed"`
}

// FieldOpType enumerates field-definition lifecycle operations.
type FieldOpType string

const (
	FieldOpCreate FieldOpType = "CREATE"
	FieldOpUpdate FieldOpType = "UPDATE"
	FieldOpDelete FieldOpType = "DELETE"
)

// Known reports whether t is a supported operation type. Anything else
// is a configuration error that aborts the carrying job.
func (t FieldOpType) Known() bool {
	switch t {
	case FieldOpCreate, FieldOpUpdate, FieldOpDelete:
		return true
	}
	return false
}

// FieldOperation journals one schema change to a domain's field set.
type FieldOperation struct {
	ID        string      `json:"id"`
	Type      FieldOpType `json:"type"`
	Field     Field       `json:"field"`
	DomainID  string      `json:"domain_id"`
	TenantID  string      `json:"tenant_id"`
	Processed bool        `json:"processed"`
}

// NodeStatus is the evaluation state of a graph node.
type NodeStatus string

const (
	// NodeDirty marks a node whose value must be (re)computed.
	NodeDirty NodeStatus = "DIRTY"

	// NodeEvaluated marks a node whose stored value reflects its
	// current version.
	NodeEvaluated NodeStatus = "EVALUATED"
)

// DependencyDefinedBy tags a node dependency that exists because a
// field definition declared it, as opposed to a data dependency on a
// source entity path.
const DependencyDefinedBy = "[DEFINEDBY]"

// Node is one dependency-graph entry: the stored, versioned computation
// result plus its dependency set for one target.
type Node struct {
	TenantID string `json:"tenant_id"`

	// Target is the canonical address this node computes, in its
	// encoded string form.
	Target string `json:"target"`

	// Seed is the expression evaluated to produce the node's value,
	// typically a field's automatic-value expression.
	Seed expr.Expr `json:"-"`

	// Condition, when present and false at evaluation time, excludes
	// the node's value from write-back.
	Condition expr.Expr `json:"-"`

	Value         any            `json:"value"`
	Status        NodeStatus     `json:"status"`
	MergePolicies merge.Policies `json:"merge_policies"`
	Version       string         `json:"version"`

	// Dependencies is the set of targets and tags this node's value
	// derives from. Change propagation marks a node dirty when an
	// event's changed paths intersect this set.
	Dependencies []string `json:"dependencies"`

	// DirtGen counts dirty marks. Completion is conditional on the
	// generation it read, so a dirty mark landing mid-evaluation is
	// never erased by the stale result.
	DirtGen int64 `json:"dirt_gen"`
}
