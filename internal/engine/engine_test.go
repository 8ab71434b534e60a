package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumehq/reflex/internal/accessor"
	"github.com/lumehq/reflex/internal/expr"
	"github.com/lumehq/reflex/internal/gate"
	"github.com/lumehq/reflex/internal/merge"
	"github.com/lumehq/reflex/internal/metrics"
	"github.com/lumehq/reflex/internal/model"
	"github.com/lumehq/reflex/internal/store"
	"github.com/lumehq/reflex/internal/target"
)

type testRig struct {
	engine *Engine
	store  *store.Store
	gate   *gate.Gate
	cases  *stubCaseClient
}

type stubCaseClient struct {
	docs map[string]map[string]any
	err  error
}

func (c *stubCaseClient) GetCase(ctx context.Context, id string) (map[string]any, error) {
	if c.err != nil {
		return nil, c.err
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return doc, nil
}

func newTestRig(t *testing.T, ids ...string) *testRig {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	g := gate.New(client)

	cases := &stubCaseClient{docs: map[string]map[string]any{}}
	reg := accessor.NewRegistry(s, accessor.NewCaseAccessor(cases, accessor.RetryPolicy{
		Attempts: 2, Timeout: time.Second, Backoff: time.Millisecond,
	}))

	opts := []Option{WithRetryBackoff(func(int) time.Duration { return 0 })}
	if len(ids) > 0 {
		opts = append(opts, WithIDGenerator(NewFixedGenerator(ids...)))
	}

	return &testRig{
		engine: New(s, g, reg, metrics.New(), opts...),
		store:  s,
		gate:   g,
		cases:  cases,
	}
}

func overwrite() merge.Policies {
	return merge.Policies{Horizontal: merge.HorizontalOverwrite, Vertical: merge.VerticalParent}
}

func caseDomain(tenantID, domainID string) *model.Domain {
	return &model.Domain{
		DomainID: domainID,
		TenantID: tenantID,
		Version:  "1",
		Trigger: model.Trigger{
			EventType: "cases-created",
			Condition: &expr.Literal{Value: true},
			Emit: &expr.Object{Fields: map[string]expr.Expr{
				"caseNumber": &expr.Dot{
					Source: &expr.Symbol{Name: expr.BindingCurrentValues},
					Paths:  []string{"caseNumber"},
				},
			}},
			ContextKey: &expr.Dot{
				Source: &expr.Symbol{Name: expr.BindingCurrentValues},
				Paths:  []string{"caseNumber"},
			},
		},
		Fields: []model.Field{
			{
				ID:   "caseNumber",
				Type: model.FieldType{Kind: model.TypeString},
				AutomaticValue: &expr.Dot{
					Source: &expr.Self{},
					Paths:  []string{"context", "caseNumber"},
				},
				MergePolicies: overwrite(),
				Version:       "1",
			},
			{
				ID:             "status",
				Type:           model.FieldType{Kind: model.TypeString},
				AutomaticValue: &expr.Literal{Value: "open"},
				MergePolicies:  overwrite(),
				Version:        "1",
			},
		},
	}
}

func caseEvent(tenantID, caseNumber string) *model.ImportedEvent {
	ev := &model.ImportedEvent{
		Source:         "cases-created",
		SourceDocID:    "doc-" + caseNumber,
		PreviousValues: map[string]any{},
		CurrentValues:  map[string]any{"caseNumber": caseNumber},
		TenantID:       tenantID,
		Metadata:       map[string]any{},
	}
	id, err := model.EventID(*ev)
	if err != nil {
		panic(err)
	}
	ev.ID = id
	return ev
}

func TestProcessEventCreatesProxyAndNodes(t *testing.T) {
	rig := newTestRig(t, "proxy-1")
	ctx := context.Background()

	require.NoError(t, rig.store.PutDomain(ctx, caseDomain("t1", "cases")))

	res, err := rig.engine.ProcessEvent(ctx, caseEvent("t1", "C-100"))
	require.NoError(t, err)
	require.Equal(t, []string{"proxy-1"}, res.CreatedProxyIDs)
	assert.Empty(t, res.Failures)

	p, err := rig.store.GetProxy(ctx, "proxy-1")
	require.NoError(t, err)
	assert.Equal(t, "C-100", p.ContextKey)
	assert.Equal(t, "C-100", p.Context["caseNumber"])

	// One node per domain field at proxy.{id}.dynamicFields.<fieldId>.
	for _, fieldID := range []string{"caseNumber", "status"} {
		n, err := rig.store.GetNode(ctx, "t1", target.ForProxyField("proxy-1", fieldID).String())
		require.NoError(t, err)
		assert.Equal(t, model.NodeDirty, n.Status)
		assert.Equal(t, []string{model.DependencyDefinedBy}, n.Dependencies)
	}
}

func TestProcessEventFalseConditionZeroWrites(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	d := caseDomain("t1", "cases")
	d.Trigger.Condition = &expr.Literal{Value: false}
	require.NoError(t, rig.store.PutDomain(ctx, d))

	res, err := rig.engine.ProcessEvent(ctx, caseEvent("t1", "C-100"))
	require.NoError(t, err)
	assert.Empty(t, res.CreatedProxyIDs)
	assert.Empty(t, res.Failures)

	proxies, err := rig.store.ProxiesByDomain(ctx, "t1", "cases")
	require.NoError(t, err)
	assert.Empty(t, proxies)

	nodes, err := rig.store.NodesByTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, nodes)
}

func TestProcessEventReplayIdempotent(t *testing.T) {
	rig := newTestRig(t, "proxy-1", "proxy-2")
	ctx := context.Background()

	require.NoError(t, rig.store.PutDomain(ctx, caseDomain("t1", "cases")))

	res, err := rig.engine.ProcessEvent(ctx, caseEvent("t1", "C-100"))
	require.NoError(t, err)
	require.Len(t, res.CreatedProxyIDs, 1)

	// Replaying the same creating event is a no-op returning no new id.
	res, err = rig.engine.ProcessEvent(ctx, caseEvent("t1", "C-100"))
	require.NoError(t, err)
	assert.Empty(t, res.CreatedProxyIDs)
	assert.Empty(t, res.Failures)

	proxies, err := rig.store.ProxiesByDomain(ctx, "t1", "cases")
	require.NoError(t, err)
	assert.Len(t, proxies, 1)
}

func TestProcessEventReportsProxyWhenFieldEmissionFails(t *testing.T) {
	rig := newTestRig(t, "proxy-1")
	ctx := context.Background()

	// An unresolvable merge policy makes node emission fail after the
	// proxy row is already written.
	d := caseDomain("t1", "cases")
	d.Fields[0].MergePolicies.Horizontal = merge.Horizontal("MAJORITY")
	require.NoError(t, rig.store.PutDomain(ctx, d))

	res, err := rig.engine.ProcessEvent(ctx, caseEvent("t1", "C-100"))
	require.NoError(t, err)

	require.Len(t, res.Failures, 1)
	assert.Equal(t, "emit_nodes", res.Failures[0].Stage)

	// The proxy exists, so it must be reported alongside the failure.
	assert.Equal(t, []string{"proxy-1"}, res.CreatedProxyIDs)
	_, err = rig.store.GetProxy(ctx, "proxy-1")
	require.NoError(t, err)
}

func TestProcessEventFailureIsolationAcrossDomains(t *testing.T) {
	rig := newTestRig(t, "proxy-1")
	ctx := context.Background()

	bad := caseDomain("t1", "a-bad")
	bad.Trigger.Condition = &expr.Call{Name: "no-such-function"}
	require.NoError(t, rig.store.PutDomain(ctx, bad))
	require.NoError(t, rig.store.PutDomain(ctx, caseDomain("t1", "b-good")))

	res, err := rig.engine.ProcessEvent(ctx, caseEvent("t1", "C-100"))
	require.NoError(t, err)

	// The bad domain records a failure; the good one still creates.
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "a-bad", res.Failures[0].DomainID)
	assert.Equal(t, "condition", res.Failures[0].Stage)
	assert.Equal(t, []string{"proxy-1"}, res.CreatedProxyIDs)
}

func TestProcessEventGateBusy(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.store.PutDomain(ctx, caseDomain("t1", "cases")))

	lease, err := rig.gate.Acquire(ctx, "t1", "cases")
	require.NoError(t, err)
	defer lease.Release(ctx)

	_, err = rig.engine.ProcessEvent(ctx, caseEvent("t1", "C-100"))
	require.Error(t, err)
	assert.True(t, IsBusy(err))
	assert.True(t, IsRetryable(err))

	// Busy means fail fast with zero writes.
	proxies, perr := rig.store.ProxiesByDomain(ctx, "t1", "cases")
	require.NoError(t, perr)
	assert.Empty(t, proxies)
}

func TestChangePropagationMarksIntersectionOnly(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	emit := func(targetStr string, deps []string) {
		_, err := rig.store.EmitNode(ctx, &model.Node{
			TenantID:      "t1",
			Target:        targetStr,
			Seed:          &expr.Literal{Value: "v"},
			Status:        model.NodeDirty,
			MergePolicies: overwrite(),
			Version:       "1",
			Dependencies:  deps,
		})
		require.NoError(t, err)
		_, err = rig.store.CompleteNode(ctx, "t1", targetStr, "v", "1", 0)
		require.NoError(t, err)
	}

	dep := target.Target{Kind: target.KindData, ID: "doc-1", Path: []string{"amount"}}.String()
	other := target.Target{Kind: target.KindData, ID: "doc-1", Path: []string{"untouched"}}.String()
	emit("proxy.{p-1}.dynamicFields.total", []string{dep})
	emit("proxy.{p-1}.dynamicFields.note", []string{other})
	emit("proxy.{p-2}.dynamicFields.total", []string{model.DependencyDefinedBy})

	ev := &model.ImportedEvent{
		Source:         "cases-edited",
		SourceDocID:    "doc-1",
		PreviousValues: map[string]any{"amount": float64(1), "untouched": "same"},
		CurrentValues:  map[string]any{"amount": float64(2), "untouched": "same"},
		TenantID:       "t1",
		Metadata:       map[string]any{},
	}
	id, err := model.EventID(*ev)
	require.NoError(t, err)
	ev.ID = id

	res, err := rig.engine.ProcessEvent(ctx, ev)
	require.NoError(t, err)

	// Exactly the node depending on the changed path goes dirty.
	assert.Equal(t, []string{"proxy.{p-1}.dynamicFields.total"}, res.DirtyTargets)

	dirty, err := rig.store.DirtyNodes(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, dirty, 1)
	assert.Equal(t, "proxy.{p-1}.dynamicFields.total", dirty[0].Target)
}

func TestFieldOperationUpdateReemitsExactlyN(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	d := caseDomain("t1", "cases")
	require.NoError(t, rig.store.PutDomain(ctx, d))

	// Three existing proxies, each already carrying the field's node.
	for _, pid := range []string{"p-1", "p-2", "p-3"} {
		_, _, err := rig.store.CreateProxy(ctx, &model.Proxy{
			ID: pid, TenantID: "t1", DomainID: "cases", ContextKey: "k-" + pid,
			Context: map[string]any{}, DynamicFields: map[string]any{"status": "open"},
		})
		require.NoError(t, err)
		_, err = rig.store.EmitNode(ctx, &model.Node{
			TenantID:      "t1",
			Target:        target.ForProxyField(pid, "status").String(),
			Seed:          &expr.Literal{Value: "open"},
			Status:        model.NodeEvaluated,
			MergePolicies: overwrite(),
			Version:       "1",
			Dependencies:  []string{model.DependencyDefinedBy},
		})
		require.NoError(t, err)
	}

	op := &model.FieldOperation{
		Type: model.FieldOpUpdate,
		Field: model.Field{
			ID:             "status",
			Type:           model.FieldType{Kind: model.TypeString},
			AutomaticValue: &expr.Literal{Value: "reopened"},
			MergePolicies:  overwrite(),
			Version:        "2",
		},
		DomainID: "cases",
		TenantID: "t1",
	}
	id, err := model.FieldOperationID(*op)
	require.NoError(t, err)
	op.ID = id
	_, err = rig.store.InsertFieldOperation(ctx, op)
	require.NoError(t, err)

	require.NoError(t, rig.engine.ProcessFieldOperation(ctx, op))

	nodes, err := rig.store.NodesByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, nodes, 3, "UPDATE re-emits existing targets, never doubles them")
	for _, n := range nodes {
		assert.Equal(t, "2", n.Version)
		assert.Equal(t, model.NodeDirty, n.Status)
	}

	ops, err := rig.store.UnprocessedFieldOperations(ctx)
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestFieldOperationCreateAndDelete(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	require.NoError(t, rig.store.PutDomain(ctx, caseDomain("t1", "cases")))
	_, _, err := rig.store.CreateProxy(ctx, &model.Proxy{
		ID: "p-1", TenantID: "t1", DomainID: "cases", ContextKey: "k",
		Context: map[string]any{}, DynamicFields: map[string]any{},
	})
	require.NoError(t, err)

	field := model.Field{
		ID:             "priority",
		Type:           model.FieldType{Kind: model.TypeString},
		AutomaticValue: &expr.Literal{Value: "normal"},
		MergePolicies:  overwrite(),
		Version:        "1",
	}

	create := &model.FieldOperation{Type: model.FieldOpCreate, Field: field, DomainID: "cases", TenantID: "t1"}
	create.ID, err = model.FieldOperationID(*create)
	require.NoError(t, err)
	require.NoError(t, rig.engine.ProcessFieldOperation(ctx, create))

	p, err := rig.store.GetProxy(ctx, "p-1")
	require.NoError(t, err)
	v, present := p.DynamicFields["priority"]
	assert.True(t, present, "CREATE adds an empty slot")
	assert.Nil(t, v)

	nodeTarget := target.ForProxyField("p-1", "priority").String()
	_, err = rig.store.GetNode(ctx, "t1", nodeTarget)
	require.NoError(t, err)

	field.Version = "2"
	del := &model.FieldOperation{Type: model.FieldOpDelete, Field: field, DomainID: "cases", TenantID: "t1"}
	del.ID, err = model.FieldOperationID(*del)
	require.NoError(t, err)
	require.NoError(t, rig.engine.ProcessFieldOperation(ctx, del))

	p, err = rig.store.GetProxy(ctx, "p-1")
	require.NoError(t, err)
	_, present = p.DynamicFields["priority"]
	assert.False(t, present)

	_, err = rig.store.GetNode(ctx, "t1", nodeTarget)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFieldOperationUnknownTypeConfigError(t *testing.T) {
	rig := newTestRig(t)

	op := &model.FieldOperation{ID: "op-1", Type: "REPLACE", DomainID: "cases", TenantID: "t1"}
	err := rig.engine.ProcessFieldOperation(context.Background(), op)
	require.Error(t, err)

	var re *RuntimeError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, ErrCodeConfigInvalid, re.Code)
	assert.False(t, re.Retryable())
}

func TestEvaluateNodesWritesBack(t *testing.T) {
	rig := newTestRig(t, "proxy-1")
	ctx := context.Background()

	require.NoError(t, rig.store.PutDomain(ctx, caseDomain("t1", "cases")))

	res, err := rig.engine.ProcessEvent(ctx, caseEvent("t1", "C-100"))
	require.NoError(t, err)
	require.Len(t, res.CreatedProxyIDs, 1)

	targets := []string{
		target.ForProxyField("proxy-1", "caseNumber").String(),
		target.ForProxyField("proxy-1", "status").String(),
	}
	require.NoError(t, rig.engine.EvaluateNodes(ctx, NodeJob{TenantID: "t1", Targets: targets}))

	p, err := rig.store.GetProxy(ctx, "proxy-1")
	require.NoError(t, err)
	assert.Equal(t, "C-100", p.DynamicFields["caseNumber"])
	assert.Equal(t, "open", p.DynamicFields["status"])

	for _, tgt := range targets {
		n, err := rig.store.GetNode(ctx, "t1", tgt)
		require.NoError(t, err)
		assert.Equal(t, model.NodeEvaluated, n.Status)
	}
}

func TestEvaluateNodesConditionExcludesWrite(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, _, err := rig.store.CreateProxy(ctx, &model.Proxy{
		ID: "p-1", TenantID: "t1", DomainID: "cases", ContextKey: "k",
		Context: map[string]any{}, DynamicFields: map[string]any{},
	})
	require.NoError(t, err)

	tgt := target.ForProxyField("p-1", "score").String()
	_, err = rig.store.EmitNode(ctx, &model.Node{
		TenantID:      "t1",
		Target:        tgt,
		Seed:          &expr.Literal{Value: float64(10)},
		Condition:     &expr.Literal{Value: false},
		Status:        model.NodeDirty,
		MergePolicies: overwrite(),
		Version:       "1",
		Dependencies:  []string{model.DependencyDefinedBy},
	})
	require.NoError(t, err)

	require.NoError(t, rig.engine.EvaluateNodes(ctx, NodeJob{TenantID: "t1", Targets: []string{tgt}}))

	// The inapplicable field never reaches the proxy, but the node is
	// evaluated.
	p, err := rig.store.GetProxy(ctx, "p-1")
	require.NoError(t, err)
	_, present := p.DynamicFields["score"]
	assert.False(t, present)

	n, err := rig.store.GetNode(ctx, "t1", tgt)
	require.NoError(t, err)
	assert.Equal(t, model.NodeEvaluated, n.Status)
}

func TestEvaluateNodesFieldFailureIsolated(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	_, _, err := rig.store.CreateProxy(ctx, &model.Proxy{
		ID: "p-1", TenantID: "t1", DomainID: "cases", ContextKey: "k",
		Context: map[string]any{"amount": float64(5)}, DynamicFields: map[string]any{},
	})
	require.NoError(t, err)

	goodTgt := target.ForProxyField("p-1", "total").String()
	badTgt := target.ForProxyField("p-1", "broken").String()

	emit := func(tgt string, seed expr.Expr) {
		_, err := rig.store.EmitNode(ctx, &model.Node{
			TenantID:      "t1",
			Target:        tgt,
			Seed:          seed,
			Status:        model.NodeDirty,
			MergePolicies: overwrite(),
			Version:       "1",
			Dependencies:  []string{model.DependencyDefinedBy},
		})
		require.NoError(t, err)
	}
	emit(goodTgt, &expr.Dot{Source: &expr.Self{}, Paths: []string{"context", "amount"}})
	// not over a non-boolean is a data-shape failure.
	emit(badTgt, &expr.Not{Arg: &expr.Literal{Value: "oops"}})

	require.NoError(t, rig.engine.EvaluateNodes(ctx, NodeJob{TenantID: "t1", Targets: []string{badTgt, goodTgt}}))

	p, err := rig.store.GetProxy(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, float64(5), p.DynamicFields["total"])

	// The failed node stays dirty for a future retry.
	n, err := rig.store.GetNode(ctx, "t1", badTgt)
	require.NoError(t, err)
	assert.Equal(t, model.NodeDirty, n.Status)
}

func TestEvaluateNodesEntityMissingLeavesDirty(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	tgt := target.ForProxyField("ghost", "total").String()
	_, err := rig.store.EmitNode(ctx, &model.Node{
		TenantID:      "t1",
		Target:        tgt,
		Seed:          &expr.Literal{Value: float64(1)},
		Status:        model.NodeDirty,
		MergePolicies: overwrite(),
		Version:       "1",
		Dependencies:  []string{model.DependencyDefinedBy},
	})
	require.NoError(t, err)

	require.NoError(t, rig.engine.EvaluateNodes(ctx, NodeJob{TenantID: "t1", Targets: []string{tgt}}))

	n, err := rig.store.GetNode(ctx, "t1", tgt)
	require.NoError(t, err)
	assert.Equal(t, model.NodeDirty, n.Status)
}

func TestEvaluateNodesRespectsDomainGate(t *testing.T) {
	rig := newTestRig(t, "proxy-1")
	ctx := context.Background()

	require.NoError(t, rig.store.PutDomain(ctx, caseDomain("t1", "cases")))
	_, err := rig.engine.ProcessEvent(ctx, caseEvent("t1", "C-100"))
	require.NoError(t, err)

	// A field lifecycle job holds the domain.
	lease, err := rig.gate.Acquire(ctx, "t1", "cases")
	require.NoError(t, err)

	tgt := target.ForProxyField("proxy-1", "status").String()
	err = rig.engine.EvaluateNodes(ctx, NodeJob{TenantID: "t1", Targets: []string{tgt}})
	require.Error(t, err)
	assert.True(t, IsBusy(err))
	assert.True(t, IsRetryable(err))

	p, err := rig.store.GetProxy(ctx, "proxy-1")
	require.NoError(t, err)
	assert.Nil(t, p.DynamicFields["status"])

	require.NoError(t, lease.Release(ctx))
	require.NoError(t, rig.engine.EvaluateNodes(ctx, NodeJob{TenantID: "t1", Targets: []string{tgt}}))

	p, err = rig.store.GetProxy(ctx, "proxy-1")
	require.NoError(t, err)
	assert.Equal(t, "open", p.DynamicFields["status"])
}

func TestEvaluateNodesSkipsRemovedField(t *testing.T) {
	rig := newTestRig(t, "proxy-1")
	ctx := context.Background()

	require.NoError(t, rig.store.PutDomain(ctx, caseDomain("t1", "cases")))
	_, err := rig.engine.ProcessEvent(ctx, caseEvent("t1", "C-100"))
	require.NoError(t, err)

	// The field was deleted after the node job was enqueued. Nodes are
	// loaded under the gate, so the removed field's value must not be
	// resurrected on the proxy.
	tgt := target.ForProxyField("proxy-1", "status").String()
	require.NoError(t, rig.store.DeleteNode(ctx, "t1", tgt))

	require.NoError(t, rig.engine.EvaluateNodes(ctx, NodeJob{TenantID: "t1", Targets: []string{tgt}}))

	p, err := rig.store.GetProxy(ctx, "proxy-1")
	require.NoError(t, err)
	assert.Nil(t, p.DynamicFields["status"])
}

func TestSubmitEventJournalsAndEnqueues(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	ev := caseEvent("t1", "C-9")
	ev.ID = ""
	id, err := rig.engine.SubmitEvent(ctx, ev)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	events, _, _ := rig.engine.QueueLens()
	assert.Equal(t, 1, events)

	pending, err := rig.store.UnprocessedEvents(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, id, pending[0].ID)
}

func TestRecoverEnqueuesUnfinishedWork(t *testing.T) {
	rig := newTestRig(t)
	ctx := context.Background()

	ev := caseEvent("t1", "C-1")
	_, err := rig.store.InsertEvent(ctx, ev)
	require.NoError(t, err)

	op := &model.FieldOperation{
		Type: model.FieldOpCreate,
		Field: model.Field{
			ID: "f", Type: model.FieldType{Kind: model.TypeString},
			MergePolicies: overwrite(), Version: "1",
		},
		DomainID: "cases", TenantID: "t1",
	}
	op.ID, err = model.FieldOperationID(*op)
	require.NoError(t, err)
	_, err = rig.store.InsertFieldOperation(ctx, op)
	require.NoError(t, err)

	require.NoError(t, rig.engine.Recover(ctx))

	events, fieldOps, _ := rig.engine.QueueLens()
	assert.Equal(t, 1, events)
	assert.Equal(t, 1, fieldOps)
}
