package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lumehq/reflex/internal/accessor"
	"github.com/lumehq/reflex/internal/expr"
	"github.com/lumehq/reflex/internal/gate"
	"github.com/lumehq/reflex/internal/metrics"
	"github.com/lumehq/reflex/internal/model"
	"github.com/lumehq/reflex/internal/querysql"
	"github.com/lumehq/reflex/internal/store"
)

// DefaultMaxAttempts bounds deliveries per job before the orchestrator
// gives up and logs the job for manual replay.
const DefaultMaxAttempts = 5

// DefaultRetryBackoff is the base delay before a retryable job is
// redelivered; it doubles per attempt.
const DefaultRetryBackoff = 250 * time.Millisecond

// Engine orchestrates the three job queues over the shared stores:
// trigger/event jobs, field-lifecycle jobs, and node-evaluation jobs.
//
// Delivery is at-least-once. Every handler is idempotent (idempotent
// proxy creation, version-gated node writes, terminal processed marks),
// so redelivery converges instead of duplicating effects. Per-domain
// mutual exclusion comes from the gate, not from in-process locks, so
// multiple engine processes can share the queues.
type Engine struct {
	store     *store.Store
	gate      *gate.Gate
	accessors *accessor.Registry
	metrics   *metrics.Metrics
	idGen     IDGenerator

	events    *queue[EventJob]
	fieldOps  *queue[FieldJob]
	nodeJobs  *queue[NodeJob]
	retryWait func(attempt int) time.Duration

	maxAttempts int
}

// Option configures an Engine.
type Option func(*Engine)

// WithIDGenerator overrides the proxy id generator, used by tests for
// deterministic ids.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.idGen = g }
}

// WithMaxAttempts bounds deliveries per job.
func WithMaxAttempts(n int) Option {
	return func(e *Engine) { e.maxAttempts = n }
}

// WithRetryBackoff replaces the backoff schedule. Tests use a zero
// schedule to retry immediately.
func WithRetryBackoff(fn func(attempt int) time.Duration) Option {
	return func(e *Engine) { e.retryWait = fn }
}

// New wires an Engine over its collaborators.
func New(s *store.Store, g *gate.Gate, reg *accessor.Registry, m *metrics.Metrics, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		gate:        g,
		accessors:   reg,
		metrics:     m,
		idGen:       UUIDv7Generator{},
		events:      newQueue[EventJob](),
		fieldOps:    newQueue[FieldJob](),
		nodeJobs:    newQueue[NodeJob](),
		maxAttempts: DefaultMaxAttempts,
		retryWait: func(attempt int) time.Duration {
			return DefaultRetryBackoff << attempt
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitEvent journals and enqueues one imported event. The event's
// content-addressed id is computed here; redelivered payloads collapse
// onto the journal's existing row and are enqueued anyway, since the
// handler is idempotent.
func (e *Engine) SubmitEvent(ctx context.Context, ev *model.ImportedEvent) (string, error) {
	id, err := model.EventID(*ev)
	if err != nil {
		return "", fmt.Errorf("submit event: %w", err)
	}
	ev.ID = id

	if _, err := e.store.InsertEvent(ctx, ev); err != nil {
		return "", fmt.Errorf("submit event: %w", err)
	}

	e.events.Enqueue(EventJob{Event: ev})
	return id, nil
}

// SubmitFieldOperation journals and enqueues one field operation.
func (e *Engine) SubmitFieldOperation(ctx context.Context, op *model.FieldOperation) (string, error) {
	id, err := model.FieldOperationID(*op)
	if err != nil {
		return "", fmt.Errorf("submit field operation: %w", err)
	}
	op.ID = id

	if _, err := e.store.InsertFieldOperation(ctx, op); err != nil {
		return "", fmt.Errorf("submit field operation: %w", err)
	}

	e.fieldOps.Enqueue(FieldJob{Op: op})
	return id, nil
}

// Recover re-enqueues journaled work an earlier process accepted but
// never finished: unprocessed events, unprocessed field operations, and
// dirty graph nodes. Call once at startup before Run.
func (e *Engine) Recover(ctx context.Context) error {
	events, err := e.store.UnprocessedEvents(ctx)
	if err != nil {
		return fmt.Errorf("recover events: %w", err)
	}
	for _, ev := range events {
		e.events.Enqueue(EventJob{Event: ev})
	}

	ops, err := e.store.UnprocessedFieldOperations(ctx)
	if err != nil {
		return fmt.Errorf("recover field operations: %w", err)
	}
	for _, op := range ops {
		e.fieldOps.Enqueue(FieldJob{Op: op})
	}

	if len(events) > 0 || len(ops) > 0 {
		slog.Info("recovered unfinished jobs", "events", len(events), "field_operations", len(ops))
	}
	return nil
}

// Run starts the three worker loops and blocks until the context is
// cancelled.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("engine starting")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		runLoop(ctx, e.events, e.handleEventJob)
	}()
	go func() {
		defer wg.Done()
		runLoop(ctx, e.fieldOps, e.handleFieldJob)
	}()
	go func() {
		defer wg.Done()
		runLoop(ctx, e.nodeJobs, e.handleNodeJob)
	}()

	<-ctx.Done()
	e.events.Close()
	e.fieldOps.Close()
	e.nodeJobs.Close()
	wg.Wait()

	slog.Info("engine stopped")
	return ctx.Err()
}

// runLoop drains one queue until the context ends.
func runLoop[T any](ctx context.Context, q *queue[T], handle func(context.Context, T)) {
	for {
		job, ok := q.TryDequeue()
		if ok {
			handle(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-q.Wait():
			if ctx.Err() != nil {
				return
			}
		}
	}
}

func (e *Engine) handleEventJob(ctx context.Context, job EventJob) {
	start := time.Now()
	_, err := e.ProcessEvent(ctx, job.Event)
	e.finishJob("events", start, err, job.Attempts, func() {
		job.Attempts++
		e.requeue(job.Attempts, func() { e.events.Enqueue(job) })
	}, slog.String("event", job.Event.ID), slog.String("tenant", job.Event.TenantID))
}

func (e *Engine) handleFieldJob(ctx context.Context, job FieldJob) {
	start := time.Now()
	err := e.ProcessFieldOperation(ctx, job.Op)
	e.finishJob("field_operations", start, err, job.Attempts, func() {
		job.Attempts++
		e.requeue(job.Attempts, func() { e.fieldOps.Enqueue(job) })
	}, slog.String("operation", job.Op.ID), slog.String("tenant", job.Op.TenantID))
}

func (e *Engine) handleNodeJob(ctx context.Context, job NodeJob) {
	start := time.Now()
	err := e.EvaluateNodes(ctx, job)
	e.finishJob("node_evaluations", start, err, job.Attempts, func() {
		job.Attempts++
		e.requeue(job.Attempts, func() { e.nodeJobs.Enqueue(job) })
	}, slog.Int("targets", len(job.Targets)), slog.String("tenant", job.TenantID))
}

// finishJob applies the shared outcome policy: success and terminal
// failure end the job; retryable failure redelivers with backoff until
// the attempt budget runs out.
func (e *Engine) finishJob(queueName string, start time.Time, err error, attempts int, requeue func(), attrs ...slog.Attr) {
	e.metrics.JobDuration.WithLabelValues(queueName).Observe(time.Since(start).Seconds())

	logArgs := make([]any, 0, len(attrs)+2)
	for _, a := range attrs {
		logArgs = append(logArgs, a)
	}

	switch {
	case err == nil:
		e.metrics.JobsProcessed.WithLabelValues(queueName, "ok").Inc()

	case IsRetryable(err) && attempts+1 < e.maxAttempts:
		e.metrics.JobsProcessed.WithLabelValues(queueName, "retried").Inc()
		slog.Info("job requeued", append(logArgs, "error", err, "attempt", attempts+1)...)
		requeue()

	default:
		e.metrics.JobsProcessed.WithLabelValues(queueName, "failed").Inc()
		slog.Error("job failed", append(logArgs, "error", err, "attempts", attempts+1)...)
	}
}

// requeue redelivers after the backoff for this attempt. The delay runs
// off-loop so the worker keeps draining meanwhile.
func (e *Engine) requeue(attempt int, enqueue func()) {
	delay := e.retryWait(attempt)
	if delay <= 0 {
		enqueue()
		return
	}
	time.AfterFunc(delay, enqueue)
}

// evaluatorFor builds an evaluator whose query operator reads the
// tenant's proxies. Evaluators are cheap and stateless; one per job
// keeps tenant scoping explicit.
func (e *Engine) evaluatorFor(tenantID string) *expr.Evaluator {
	return expr.New(expr.WithQuerySource(querysql.NewProxySource(e.store, tenantID)))
}

// acquireDomains claims the gate for every domain, releasing everything
// already claimed if any slot is busy.
func (e *Engine) acquireDomains(ctx context.Context, tenantID string, domains []*model.Domain) ([]*gate.Lease, error) {
	var leases []*gate.Lease
	for _, d := range domains {
		lease, err := e.gate.Acquire(ctx, tenantID, d.DomainID)
		if err != nil {
			e.releaseDomains(ctx, leases)
			e.metrics.GateBusy.Inc()
			return nil, classify(err, tenantID, d.DomainID)
		}
		leases = append(leases, lease)
	}
	return leases, nil
}

func (e *Engine) releaseDomains(ctx context.Context, leases []*gate.Lease) {
	for _, lease := range leases {
		if err := lease.Release(ctx); err != nil {
			slog.Warn("gate release failed", "error", err)
		}
	}
}

// enqueueNodeJob hands dirty targets to the evaluation queue.
func (e *Engine) enqueueNodeJob(tenantID string, targets []string) {
	e.nodeJobs.Enqueue(NodeJob{TenantID: tenantID, Targets: targets})
}

// QueueLens reports pending counts per queue, for monitoring and tests.
func (e *Engine) QueueLens() (events, fieldOps, nodeJobs int) {
	return e.events.Len(), e.fieldOps.Len(), e.nodeJobs.Len()
}
