// Package pulse provides a multi-tenant asynchronous job-processing platform
// for Go. A stateless control plane admits job submissions — rate limiting,
// schema validation, idempotency deduplication — and durably enqueues them.
// A data plane of worker processes dequeues jobs, dispatches them to
// registered handlers by job type, and manages retry, backoff, and
// dead-letter escalation.
//
// Pulse is designed as a library, not a service. Import it, configure a
// store, register handlers, and run the worker pool. The cmd/pulse-api and
// cmd/pulse-worker binaries are thin wrappers over the library.
//
// # Quick Start
//
//	reg := job.NewRegistry()
//	err := job.RegisterDefinition(reg, job.NewDefinition("ECHO",
//	    func(ctx context.Context, p EchoPayload) (any, error) { return p, nil }))
//
//	store := redisstore.New(client)
//	eng := engine.New(store, engine.WithDLQ(dlqService))
//	exec := worker.NewExecutor(reg, eng, logger, middleware.Recover(logger))
//	pool := worker.NewPool(eng, exec, logger)
//	err = pool.Start(ctx)
//
// # Architecture
//
// All cross-instance coordination goes through the shared store's atomic
// primitives: claim-on-dequeue for the priority queue, set-if-absent with
// expiry for idempotency records, and increment-with-expiry for rate-limit
// counters. No in-process lock substitutes for store-level atomicity;
// correctness holds across independent processes and hosts.
//
// Delivery is at-least-once. Handlers are assumed idempotent. Admission is
// at-most-once per idempotency key within the retention window.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// URL-safe identifiers.
package pulse
