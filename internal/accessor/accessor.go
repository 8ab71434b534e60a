// Package accessor resolves graph targets to the entities behind them.
// Proxies live in the local store and are read and written directly;
// cases live in an upstream service reached through a client with
// bounded retries. The node-evaluation worker only ever sees the
// Accessor interface and stays ignorant of where an entity lives.
package accessor

import (
	"context"
	"errors"
	"fmt"

	"github.com/lumehq/reflex/internal/store"
	"github.com/lumehq/reflex/internal/target"
)

// ErrUnimplemented marks an operation the current release does not
// support. Jobs hitting it fail terminally rather than retry.
var ErrUnimplemented = errors.New("unimplemented")

// Accessor reads and writes one kind of entity.
type Accessor interface {
	// Get returns the entity as a navigable document. Returns
	// store.ErrNotFound (possibly wrapped) when the entity is absent.
	Get(ctx context.Context, id string) (map[string]any, error)

	// Update applies field updates atomically: either all land or none.
	Update(ctx context.Context, id string, updates []store.FieldUpdate) error
}

// Registry maps target kinds to their accessors.
type Registry struct {
	byKind map[target.Kind]Accessor
}

// NewRegistry wires the standard kinds: proxies against the store,
// cases against the upstream client.
func NewRegistry(s *store.Store, cases *CaseAccessor) *Registry {
	return &Registry{byKind: map[target.Kind]Accessor{
		target.KindProxy: NewProxyAccessor(s),
		target.KindCase:  cases,
	}}
}

// Resolve returns the accessor for a target's kind, or an error for
// kinds no accessor serves.
func (r *Registry) Resolve(t target.Target) (Accessor, error) {
	a, ok := r.byKind[t.Kind]
	if !ok {
		return nil, fmt.Errorf("no accessor for target kind %q", t.Kind)
	}
	return a, nil
}

// ProxyAccessor serves proxy entities from the local store.
type ProxyAccessor struct {
	store *store.Store
}

func NewProxyAccessor(s *store.Store) *ProxyAccessor {
	return &ProxyAccessor{store: s}
}

// Get returns the proxy document.
func (a *ProxyAccessor) Get(ctx context.Context, id string) (map[string]any, error) {
	p, err := a.store.GetProxy(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.Document(), nil
}

// Update applies dynamic-field updates in one transaction.
func (a *ProxyAccessor) Update(ctx context.Context, id string, updates []store.FieldUpdate) error {
	return a.store.UpdateProxyFields(ctx, id, updates)
}

// CaseClient is the transport to the upstream case service. Errors it
// returns are treated as transient and retried.
type CaseClient interface {
	GetCase(ctx context.Context, id string) (map[string]any, error)
}

// CaseAccessor reads cases through the client with bounded retries.
// Case write-back has no supported path yet: Update fails with
// ErrUnimplemented, terminally.
type CaseAccessor struct {
	client CaseClient
	retry  RetryPolicy
}

func NewCaseAccessor(client CaseClient, retry RetryPolicy) *CaseAccessor {
	return &CaseAccessor{client: client, retry: retry}
}

// Get fetches the case document, retrying transient failures up to the
// policy's budget. Exhaustion surfaces as a *RetryableError so callers
// can requeue the carrying job instead of failing it.
func (a *CaseAccessor) Get(ctx context.Context, id string) (map[string]any, error) {
	var doc map[string]any
	err := withRetry(ctx, a.retry, func(attemptCtx context.Context) error {
		var err error
		doc, err = a.client.GetCase(attemptCtx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("get case %s: %w", id, err)
	}
	return doc, nil
}

// Update is not supported for cases.
func (a *CaseAccessor) Update(ctx context.Context, id string, updates []store.FieldUpdate) error {
	return fmt.Errorf("case write-back for %s: %w", id, ErrUnimplemented)
}

// ForTarget resolves the target's entity document. Kinds without a
// backing entity (fields, data, representations) resolve to nil: their
// nodes carry pure values and need no entity context.
func (r *Registry) ForTarget(ctx context.Context, t target.Target) (map[string]any, error) {
	switch t.Kind {
	case target.KindProxy, target.KindCase:
		a, err := r.Resolve(t)
		if err != nil {
			return nil, err
		}
		return a.Get(ctx, t.ID)
	default:
		return nil, nil
	}
}

var _ Accessor = (*ProxyAccessor)(nil)
var _ Accessor = (*CaseAccessor)(nil)
