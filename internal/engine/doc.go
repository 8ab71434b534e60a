// Package engine implements the reactive derivation engine.
//
// The engine is the heart of reflex - it ingests imported events,
// materializes proxies for matching domains, marks affected graph
// nodes dirty, and re-evaluates them until the derived record converges.
//
// ARCHITECTURE:
//
// Three Queues, One Store:
// Work flows through three in-process FIFO queues backed by the shared
// journal: event jobs (trigger lifecycle), field jobs (definition
// lifecycle), and node jobs (evaluation). Each queue has one worker
// loop; cross-domain mutual exclusion comes from the Redis gate, not
// from in-process locks, so several engine processes can share a
// database.
//
// Event Processing Flow:
// 1. SubmitEvent journals the content-addressed event and enqueues it
// 2. ProcessEvent claims the gate for every matching domain up front
// 3. Per domain: condition gates the trigger, emit shapes the context,
//    the context key routes to an existing proxy or creates one
// 4. Changed paths are intersected with node dependencies; matches go
//    dirty and a node job is enqueued
// 5. EvaluateNodes recomputes dirty slots and writes results back,
//    version-gated so stale evaluations never clobber fresh state
//
// Delivery is at-least-once. Every handler is idempotent (idempotent
// proxy creation, version-gated completion, terminal processed marks),
// so a redelivered job converges instead of duplicating effects.
// Failures are isolated per domain and per field: one bad expression
// never blocks its siblings.
package engine
