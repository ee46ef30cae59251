// Package job defines the canonical Job model, its lifecycle state machine,
// the process-local handler registry, and the persistence contract the
// queue engine and worker pool operate against.
//
// The Job payload is opaque: Pulse never inspects or mutates it. Handlers
// are routed by the Type field through a Registry held by each worker
// process.
package job
