package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lumehq/reflex/internal/expr"
	"github.com/lumehq/reflex/internal/gate"
	"github.com/lumehq/reflex/internal/model"
	"github.com/lumehq/reflex/internal/store"
	"github.com/lumehq/reflex/internal/target"
)

// entityBatch is the unit of write-back: all targets from one job that
// share an owning entity.
type entityBatch struct {
	entity  target.Target
	targets []string
}

// EvaluateNodes drains one node-evaluation job: group the targets by
// owning entity, resolve each entity through its accessor, evaluate the
// nodes against it, and write the applicable results back atomically.
// Proxy batches run under the owning domain's gate, the same one the
// trigger and field-definition lifecycles claim, so a field delete
// never interleaves with the write-back.
//
// Failure isolation: a field whose evaluation fails is recorded and
// excluded from the write, never allowed to abort its siblings. Only
// infrastructure failures (transport exhaustion, storage) fail the job.
func (e *Engine) EvaluateNodes(ctx context.Context, job NodeJob) error {
	for _, batch := range groupTargets(job) {
		if err := e.evaluateBatch(ctx, job.TenantID, batch); err != nil {
			return err
		}
	}
	return nil
}

// groupTargets splits a job's targets by owning entity, preserving
// first-seen order.
func groupTargets(job NodeJob) []*entityBatch {
	byEntity := map[string]*entityBatch{}
	var order []string

	for _, t := range job.Targets {
		decoded := target.Decode(t)
		if !decoded.Valid() {
			// Malformed targets are configuration data; record and skip
			// rather than poison the batch.
			slog.Error("invalid target in node job", "tenant", job.TenantID, "target", t)
			continue
		}

		key := string(decoded.Kind) + "\x00" + decoded.ID
		batch, ok := byEntity[key]
		if !ok {
			batch = &entityBatch{entity: target.Target{Kind: decoded.Kind, ID: decoded.ID}}
			byEntity[key] = batch
			order = append(order, key)
		}
		batch.targets = append(batch.targets, t)
	}

	batches := make([]*entityBatch, len(order))
	for i, key := range order {
		batches[i] = byEntity[key]
	}
	return batches
}

// loadDirtyNodes fetches the batch's nodes. Called under the domain
// gate, so what it reads is what the write-back operates on.
func (e *Engine) loadDirtyNodes(ctx context.Context, tenantID string, targets []string) ([]*model.Node, error) {
	var nodes []*model.Node
	for _, t := range targets {
		node, err := e.store.GetNode(ctx, tenantID, t)
		if errors.Is(err, store.ErrNotFound) {
			// Deleted between enqueue and drain; nothing to do.
			continue
		}
		if err != nil {
			return nil, classify(fmt.Errorf("load node %s: %w", t, err), tenantID, "")
		}
		if node.Status != model.NodeDirty {
			// Already evaluated by an earlier delivery of this job.
			continue
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

func (e *Engine) evaluateBatch(ctx context.Context, tenantID string, batch *entityBatch) error {
	// Proxy nodes belong to a domain; claim its gate so the field
	// lifecycle cannot remove a field while its value is in flight.
	if batch.entity.Kind == target.KindProxy {
		p, err := e.store.GetProxy(ctx, batch.entity.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// Entity resolution below reports the missing proxy.
		case err != nil:
			return classify(fmt.Errorf("resolve proxy %s: %w", batch.entity.ID, err), tenantID, "")
		default:
			lease, err := e.gate.Acquire(ctx, tenantID, p.DomainID)
			if err != nil {
				e.metrics.GateBusy.Inc()
				return classify(err, tenantID, p.DomainID)
			}
			defer e.releaseDomains(ctx, []*gate.Lease{lease})
		}
	}

	nodes, err := e.loadDirtyNodes(ctx, tenantID, batch.targets)
	if err != nil {
		return err
	}
	if len(nodes) == 0 {
		return nil
	}

	entity, err := e.accessors.ForTarget(ctx, batch.entity)
	if errors.Is(err, store.ErrNotFound) {
		// The owning entity vanished. Leave the nodes dirty; a future
		// job retries once the entity reappears or the nodes are
		// deleted.
		slog.Warn("entity not found, leaving nodes dirty",
			"tenant", tenantID,
			"kind", batch.entity.Kind,
			"entity", batch.entity.ID,
			"nodes", len(nodes),
		)
		return nil
	}
	if err != nil {
		return classify(fmt.Errorf("resolve entity %s.{%s}: %w", batch.entity.Kind, batch.entity.ID, err), tenantID, "")
	}

	scope := e.batchScope(entity, nodes)
	eval := e.evaluatorFor(tenantID)
	enumOptions := e.enumOptions(ctx, tenantID, entity)

	type completion struct {
		target  string
		version string
		dirtGen int64
		value   any
	}

	var updates []store.FieldUpdate
	var completions []completion

	for _, node := range nodes {
		nodeScope := scope
		decoded := target.Decode(node.Target)
		fieldID := leafField(decoded)
		if opts, ok := enumOptions[fieldID]; ok {
			nodeScope = nodeScope.With(expr.BindingOptions, opts)
		}

		applicable := true
		if node.Condition != nil {
			applicable, err = eval.EvaluateBool(ctx, node.Condition, nodeScope)
			if err != nil {
				if e.recordNodeFailure(node, "condition", err) {
					continue
				}
				return classify(err, tenantID, "")
			}
		}

		res, err := eval.Evaluate(ctx, node.Seed, nodeScope)
		if err != nil {
			if e.recordNodeFailure(node, "seed", err) {
				continue
			}
			return classify(err, tenantID, "")
		}

		if applicable && len(decoded.Path) > 0 {
			updates = append(updates, store.FieldUpdate{FieldID: fieldID, Value: res.Value})
		}
		completions = append(completions, completion{
			target:  node.Target,
			version: node.Version,
			dirtGen: node.DirtGen,
			value:   res.Value,
		})
	}

	if len(updates) > 0 {
		a, err := e.accessors.Resolve(batch.entity)
		if err != nil {
			return classify(err, tenantID, "")
		}
		if err := a.Update(ctx, batch.entity.ID, updates); err != nil {
			return classify(fmt.Errorf("write back %s.{%s}: %w", batch.entity.Kind, batch.entity.ID, err), tenantID, "")
		}
	}

	for _, c := range completions {
		applied, err := e.store.CompleteNode(ctx, tenantID, c.target, c.value, c.version, c.dirtGen)
		if err != nil {
			return classify(fmt.Errorf("complete node %s: %w", c.target, err), tenantID, "")
		}
		if !applied {
			// A concurrent re-emission or dirty mark landed mid-flight;
			// the node stays dirty and a later job recomputes it.
			e.metrics.NodeEvaluations.WithLabelValues("stale").Inc()
			slog.Info("stale completion dropped", "tenant", tenantID, "target", c.target, "version", c.version)
			continue
		}
		e.metrics.NodeEvaluations.WithLabelValues("ok").Inc()
	}
	return nil
}

// recordNodeFailure handles a per-node evaluation error. Data-shape
// failures are recorded and isolated (returns true); configuration
// errors are terminal to the job (returns false).
func (e *Engine) recordNodeFailure(node *model.Node, stage string, err error) bool {
	if !expr.IsEvalError(err) {
		return false
	}
	e.metrics.NodeEvaluations.WithLabelValues("eval_error").Inc()
	slog.Warn("node evaluation failed",
		"tenant", node.TenantID,
		"target", node.Target,
		"stage", stage,
		"reason", err.Error(),
	)
	return true
}

// batchScope binds the entity under self plus every sibling node's
// stored value under its field name, so a node's expression can refer
// to siblings by logical name instead of raw target strings.
func (e *Engine) batchScope(entity map[string]any, nodes []*model.Node) expr.Scope {
	bindings := map[string]any{
		expr.BindingSelf: entity,
	}
	for _, n := range nodes {
		decoded := target.Decode(n.Target)
		if field := leafField(decoded); field != "" {
			if _, taken := bindings[field]; !taken {
				bindings[field] = n.Value
			}
		}
	}
	return expr.NewScope(bindings)
}

// enumOptions maps field id to its options list for the entity's
// domain, so enum fields evaluate with options bound in scope.
func (e *Engine) enumOptions(ctx context.Context, tenantID string, entity map[string]any) map[string][]any {
	if entity == nil {
		return nil
	}
	domainID, _ := entity["domainId"].(string)
	if domainID == "" {
		return nil
	}

	d, err := e.store.FindDomain(ctx, tenantID, domainID)
	if err != nil {
		return nil
	}

	out := map[string][]any{}
	for _, f := range d.Fields {
		if len(f.Options) > 0 {
			out[f.ID] = f.Options
		}
	}
	return out
}

func leafField(t target.Target) string {
	if len(t.Path) == 0 {
		return ""
	}
	return t.Path[len(t.Path)-1]
}
