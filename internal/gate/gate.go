// Package gate serializes job processing per (tenant, domain). At most
// one in-flight job may touch a domain's proxies and nodes at a time;
// everything else fails fast and gets requeued by the orchestrator.
//
// The gate is a Redis lease: SET NX with a TTL claims the slot, a Lua
// script releases it only if the holder token still matches, and the
// TTL bounds how long a crashed holder can block a domain.
package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrBusy reports that another job currently holds the domain. The
// caller must not block; requeue and try again later.
var ErrBusy = errors.New("domain busy")

// releaseScript deletes the lease only when the holder token matches,
// so an expired lease re-acquired by someone else is never released by
// the stale holder.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// Gate hands out per-domain leases.
type Gate struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// Option configures a Gate.
type Option func(*Gate)

// WithTTL overrides the lease TTL. The TTL is the crash-recovery bound:
// a holder that dies without releasing blocks its domain for at most
// this long.
func WithTTL(ttl time.Duration) Option {
	return func(g *Gate) { g.ttl = ttl }
}

// WithPrefix namespaces the lease keys, e.g. per deployment.
func WithPrefix(prefix string) Option {
	return func(g *Gate) { g.prefix = prefix }
}

// New builds a gate over the given Redis client.
func New(client *redis.Client, opts ...Option) *Gate {
	g := &Gate{
		client: client,
		prefix: "reflex:gate:",
		ttl:    30 * time.Second,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Lease is a held gate slot. Release it when the job finishes.
type Lease struct {
	gate  *Gate
	key   string
	token string
}

// Acquire claims the (tenant, domain) slot. It never waits: if the slot
// is held, it returns ErrBusy immediately so the caller can requeue.
func (g *Gate) Acquire(ctx context.Context, tenantID, domainID string) (*Lease, error) {
	key := g.prefix + tenantID + ":" + domainID
	token := uuid.NewString()

	ok, err := g.client.SetNX(ctx, key, token, g.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire gate %s/%s: %w", tenantID, domainID, err)
	}
	if !ok {
		return nil, fmt.Errorf("acquire gate %s/%s: %w", tenantID, domainID, ErrBusy)
	}

	return &Lease{gate: g, key: key, token: token}, nil
}

// Release frees the slot. Releasing an expired or superseded lease is a
// no-op.
func (l *Lease) Release(ctx context.Context) error {
	if err := l.gate.client.Eval(ctx, releaseScript, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("release gate %s: %w", l.key, err)
	}
	return nil
}
