package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumehq/reflex/internal/model"
	"github.com/lumehq/reflex/internal/store"
	"github.com/lumehq/reflex/internal/target"
)

// ProcessFieldOperation propagates one schema change across every proxy
// of the operation's domain. The domain gate is held for the duration,
// so schema changes never interleave with event-driven proxy creation
// for the same (tenant, domain).
//
// Effects per proxy:
//   - CREATE: add an empty dynamic-field slot and emit its graph node.
//   - UPDATE: re-emit the existing node target with the new expression
//     and version; OVERWRITE resolution applies on the next evaluation.
//   - DELETE: remove the field slot and delete the node.
//
// An unknown operation type is a configuration error terminal to this
// job only.
func (e *Engine) ProcessFieldOperation(ctx context.Context, op *model.FieldOperation) error {
	if !op.Type.Known() {
		return &RuntimeError{
			Code:     ErrCodeConfigInvalid,
			Message:  fmt.Sprintf("unknown field operation type %q", op.Type),
			TenantID: op.TenantID,
			DomainID: op.DomainID,
		}
	}

	lease, err := e.gate.Acquire(ctx, op.TenantID, op.DomainID)
	if err != nil {
		e.metrics.GateBusy.Inc()
		return classify(err, op.TenantID, op.DomainID)
	}
	defer func() {
		if err := lease.Release(ctx); err != nil {
			slog.Warn("gate release failed", "tenant", op.TenantID, "domain", op.DomainID, "error", err)
		}
	}()

	proxies, err := e.store.ProxiesByDomain(ctx, op.TenantID, op.DomainID)
	if err != nil {
		return classify(fmt.Errorf("load proxies: %w", err), op.TenantID, op.DomainID)
	}

	var emitted []string
	for _, p := range proxies {
		targets, err := e.applyFieldOp(ctx, op, p)
		if err != nil {
			return err
		}
		emitted = append(emitted, targets...)
	}

	if err := e.store.MarkFieldOperationProcessed(ctx, op.ID); err != nil {
		return classify(fmt.Errorf("mark field operation processed: %w", err), op.TenantID, op.DomainID)
	}

	slog.Info("field operation applied",
		"tenant", op.TenantID,
		"domain", op.DomainID,
		"type", op.Type,
		"field", op.Field.ID,
		"proxies", len(proxies),
	)

	if len(emitted) > 0 {
		e.enqueueNodeJob(op.TenantID, emitted)
	}
	return nil
}

func (e *Engine) applyFieldOp(ctx context.Context, op *model.FieldOperation, p *model.Proxy) ([]string, error) {
	t := target.ForProxyField(p.ID, op.Field.ID).String()

	switch op.Type {
	case model.FieldOpCreate:
		err := e.store.UpdateProxyFields(ctx, p.ID, []store.FieldUpdate{
			{FieldID: op.Field.ID, Value: nil},
		})
		if err != nil {
			return nil, classify(fmt.Errorf("add field slot on %s: %w", p.ID, err), op.TenantID, op.DomainID)
		}
		if err := e.emitFieldOpNode(ctx, op, t); err != nil {
			return nil, err
		}
		return []string{t}, nil

	case model.FieldOpUpdate:
		// Re-emit the existing target only. The proxy keeps its current
		// value until the worker re-evaluates.
		if err := e.emitFieldOpNode(ctx, op, t); err != nil {
			return nil, err
		}
		return []string{t}, nil

	case model.FieldOpDelete:
		err := e.store.UpdateProxyFields(ctx, p.ID, []store.FieldUpdate{
			{FieldID: op.Field.ID, Remove: true},
		})
		if err != nil {
			return nil, classify(fmt.Errorf("remove field slot on %s: %w", p.ID, err), op.TenantID, op.DomainID)
		}
		if err := e.store.DeleteNode(ctx, op.TenantID, t); err != nil {
			return nil, classify(fmt.Errorf("delete node %s: %w", t, err), op.TenantID, op.DomainID)
		}
		return nil, nil

	default:
		// Known() gated this already.
		return nil, &RuntimeError{
			Code:     ErrCodeConfigInvalid,
			Message:  fmt.Sprintf("unknown field operation type %q", op.Type),
			TenantID: op.TenantID,
			DomainID: op.DomainID,
		}
	}
}

func (e *Engine) emitFieldOpNode(ctx context.Context, op *model.FieldOperation, t string) error {
	node := &model.Node{
		TenantID:      op.TenantID,
		Target:        t,
		Seed:          op.Field.AutomaticValue,
		Condition:     op.Field.Condition,
		Status:        model.NodeDirty,
		MergePolicies: op.Field.MergePolicies,
		Version:       op.Field.Version,
		Dependencies:  []string{model.DependencyDefinedBy},
	}

	applied, err := e.store.EmitNode(ctx, node)
	if err != nil {
		return classify(fmt.Errorf("emit node %s: %w", t, err), op.TenantID, op.DomainID)
	}
	if !applied {
		e.metrics.MergeDrops.Inc()
	}
	return nil
}
