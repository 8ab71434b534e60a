package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lumehq/reflex/internal/expr"
	"github.com/lumehq/reflex/internal/model"
	"github.com/lumehq/reflex/internal/target"
)

// DomainFailure records one domain's trigger failure without blocking
// the remaining domains in the batch. Captured as data so operators can
// replay manually.
type DomainFailure struct {
	DomainID string
	Stage    string
	Reason   string
}

// TriggerResult is the outcome of running one event through the trigger
// lifecycle.
type TriggerResult struct {
	// CreatedProxyIDs lists newly created proxies. Replayed events that
	// hit an existing proxy contribute nothing here.
	CreatedProxyIDs []string

	// Failures holds per-domain trigger failures.
	Failures []DomainFailure

	// DirtyTargets lists nodes marked dirty by change propagation.
	DirtyTargets []string
}

// ProcessEvent runs one imported event through the trigger lifecycle:
// match domains by event type, gate each domain, evaluate the trigger,
// create the proxy idempotently, emit per-field nodes, then propagate
// the event's changed paths into the graph.
//
// Per-domain failures are recorded and skipped; only infrastructure
// failures (storage, gate transport) abort the job.
func (e *Engine) ProcessEvent(ctx context.Context, ev *model.ImportedEvent) (*TriggerResult, error) {
	domains, err := e.store.DomainsByEventType(ctx, ev.TenantID, ev.Source)
	if err != nil {
		return nil, classify(fmt.Errorf("match domains: %w", err), ev.TenantID, "")
	}

	// Claim every matching domain before mutating anything. A held gate
	// anywhere fails the whole job fast so a retry sees a consistent
	// world instead of a half-processed event.
	leases, err := e.acquireDomains(ctx, ev.TenantID, domains)
	if err != nil {
		return nil, err
	}
	defer e.releaseDomains(ctx, leases)

	result := &TriggerResult{}
	scope := eventScope(ev)

	for _, d := range domains {
		proxyID, created, failure := e.runTrigger(ctx, d, ev, scope)
		if created {
			// Reported even when field emission failed afterwards; the
			// proxy row exists and replay must see it.
			result.CreatedProxyIDs = append(result.CreatedProxyIDs, proxyID)
		}
		if failure != nil {
			result.Failures = append(result.Failures, *failure)
			slog.Warn("trigger failed",
				"tenant", ev.TenantID,
				"domain", d.DomainID,
				"event", ev.ID,
				"stage", failure.Stage,
				"reason", failure.Reason,
			)
		}
	}

	// Change propagation runs regardless of proxy creation: edits to
	// existing entities reach their dependent nodes through the
	// dependency sets, decoupled from the triggers above.
	dirty, err := e.propagateChanges(ctx, ev)
	if err != nil {
		return nil, err
	}
	result.DirtyTargets = dirty

	if err := e.store.MarkEventProcessed(ctx, ev.ID); err != nil {
		return nil, classify(fmt.Errorf("mark event processed: %w", err), ev.TenantID, "")
	}

	if len(dirty) > 0 {
		e.enqueueNodeJob(ev.TenantID, dirty)
	}

	return result, nil
}

// runTrigger evaluates one domain's trigger against the event. Returns
// the proxy id and whether it was newly created, or a recorded failure.
func (e *Engine) runTrigger(ctx context.Context, d *model.Domain, ev *model.ImportedEvent, scope expr.Scope) (string, bool, *DomainFailure) {
	eval := e.evaluatorFor(ev.TenantID)

	ok, err := eval.EvaluateBool(ctx, d.Trigger.Condition, scope)
	if err != nil {
		return "", false, &DomainFailure{DomainID: d.DomainID, Stage: "condition", Reason: err.Error()}
	}
	if !ok {
		// False condition means zero writes for this domain.
		return "", false, nil
	}

	emitRes, err := eval.Evaluate(ctx, d.Trigger.Emit, scope)
	if err != nil {
		return "", false, &DomainFailure{DomainID: d.DomainID, Stage: "emit", Reason: err.Error()}
	}
	context, ok := emitRes.Value.(map[string]any)
	if !ok || context == nil {
		return "", false, &DomainFailure{
			DomainID: d.DomainID,
			Stage:    "emit",
			Reason:   fmt.Sprintf("emit expression produced %T, want object", emitRes.Value),
		}
	}

	keyRes, err := eval.Evaluate(ctx, d.Trigger.ContextKey, scope)
	if err != nil {
		return "", false, &DomainFailure{DomainID: d.DomainID, Stage: "contextKey", Reason: err.Error()}
	}
	key, ok := keyRes.Value.(string)
	if !ok || key == "" {
		return "", false, &DomainFailure{
			DomainID: d.DomainID,
			Stage:    "contextKey",
			Reason:   fmt.Sprintf("context key expression produced %T, want non-empty string", keyRes.Value),
		}
	}

	proxy := &model.Proxy{
		ID:            e.idGen.Generate(),
		TenantID:      ev.TenantID,
		DomainID:      d.DomainID,
		ContextKey:    key,
		Context:       context,
		DynamicFields: map[string]any{},
	}

	id, inserted, err := e.store.CreateProxy(ctx, proxy)
	if err != nil {
		return "", false, &DomainFailure{DomainID: d.DomainID, Stage: "create", Reason: err.Error()}
	}
	if !inserted {
		// Replay: the proxy exists, field emission already happened.
		slog.Info("proxy already exists, skipping field emission",
			"tenant", ev.TenantID,
			"domain", d.DomainID,
			"context_key", key,
			"proxy", id,
		)
		return id, false, nil
	}

	slog.Info("proxy created",
		"tenant", ev.TenantID,
		"domain", d.DomainID,
		"context_key", key,
		"proxy", id,
	)

	if failure := e.emitFieldNodes(ctx, d, id); failure != nil {
		return id, true, failure
	}
	return id, true, nil
}

// emitFieldNodes asserts one graph node per domain field onto a freshly
// created proxy.
func (e *Engine) emitFieldNodes(ctx context.Context, d *model.Domain, proxyID string) *DomainFailure {
	for _, f := range d.Fields {
		node := &model.Node{
			TenantID:      d.TenantID,
			Target:        target.ForProxyField(proxyID, f.ID).String(),
			Seed:          f.AutomaticValue,
			Condition:     f.Condition,
			Status:        model.NodeDirty,
			MergePolicies: f.MergePolicies,
			Version:       f.Version,
			Dependencies:  []string{model.DependencyDefinedBy},
		}
		if _, err := e.store.EmitNode(ctx, node); err != nil {
			return &DomainFailure{
				DomainID: d.DomainID,
				Stage:    "emit_nodes",
				Reason:   fmt.Sprintf("field %s: %v", f.ID, err),
			}
		}
	}

	// Freshly emitted nodes are dirty; hand them to the worker.
	targets := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		targets[i] = target.ForProxyField(proxyID, f.ID).String()
	}
	e.enqueueNodeJob(d.TenantID, targets)
	return nil
}

// propagateChanges diffs the event's value snapshots into changed data
// paths, finds the nodes whose dependencies intersect them, and marks
// those dirty.
func (e *Engine) propagateChanges(ctx context.Context, ev *model.ImportedEvent) ([]string, error) {
	changed := changedTargets(ev)
	if len(changed) == 0 {
		return nil, nil
	}

	nodes, err := e.store.NodesByTenant(ctx, ev.TenantID)
	if err != nil {
		return nil, classify(fmt.Errorf("load nodes for propagation: %w", err), ev.TenantID, "")
	}

	changedSet := make(map[string]bool, len(changed))
	for _, t := range changed {
		changedSet[t] = true
	}

	var dirty []string
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if changedSet[dep] {
				dirty = append(dirty, n.Target)
				break
			}
		}
	}
	if len(dirty) == 0 {
		return nil, nil
	}

	if err := e.store.MarkNodesDirty(ctx, ev.TenantID, dirty); err != nil {
		return nil, classify(fmt.Errorf("mark affected nodes dirty: %w", err), ev.TenantID, "")
	}
	return dirty, nil
}

// changedTargets computes the set of data targets whose values differ
// between the event's previous and current snapshots. Nested objects
// diff recursively into dotted paths.
func changedTargets(ev *model.ImportedEvent) []string {
	paths := diffPaths(nil, ev.PreviousValues, ev.CurrentValues)
	targets := make([]string, len(paths))
	for i, p := range paths {
		targets[i] = target.Target{Kind: target.KindData, ID: ev.SourceDocID, Path: p}.String()
	}
	return targets
}

func diffPaths(prefix []string, prev, curr map[string]any) [][]string {
	var out [][]string

	keys := make(map[string]bool, len(prev)+len(curr))
	for k := range prev {
		keys[k] = true
	}
	for k := range curr {
		keys[k] = true
	}

	for k := range keys {
		pv, cv := prev[k], curr[k]
		path := append(append([]string{}, prefix...), k)

		pm, pok := pv.(map[string]any)
		cm, cok := cv.(map[string]any)
		if pok && cok {
			out = append(out, diffPaths(path, pm, cm)...)
			continue
		}
		if !expr.Equal(pv, cv) {
			out = append(out, path)
		}
	}
	return out
}

func eventScope(ev *model.ImportedEvent) expr.Scope {
	return expr.NewScope(map[string]any{
		expr.BindingSelf:           map[string]any{},
		expr.BindingCurrentValues:  ev.CurrentValues,
		expr.BindingPreviousValues: ev.PreviousValues,
		expr.BindingMetadata:       ev.Metadata,
	})
}
