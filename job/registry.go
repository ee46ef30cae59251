package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/imsks/pulse"
)

// HandlerFunc is a type-erased job handler that accepts the raw payload
// and returns an optional JSON result. The typed Definition[T] is
// converted to a HandlerFunc at registration time by closing over JSON
// unmarshal + the typed handler.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

// Registry maps job types to type-erased handler functions. Registration
// is process-local: each worker process holds its own registry, consulted
// only at dispatch time. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]registration
}

type registration struct {
	fn   HandlerFunc
	opts Options
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]registration),
	}
}

// Register binds a handler to a job type with default options. Registering
// a type that already has a handler fails with pulse.ErrHandlerExists —
// there is no silent override.
func (r *Registry) Register(jobType string, handler HandlerFunc) error {
	return r.register(jobType, handler, DefaultOptions())
}

func (r *Registry) register(jobType string, handler HandlerFunc, opts Options) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("register %q: %w", jobType, pulse.ErrHandlerExists)
	}
	r.handlers[jobType] = registration{fn: handler, opts: opts}
	return nil
}

// RegisterDefinition registers a typed job definition. The generic handler
// is wrapped in a closure that JSON-unmarshals the payload into T before
// calling the typed handler.
//
// This is a package-level generic function because Go does not allow
// generic methods on non-generic receiver types.
func RegisterDefinition[T any](r *Registry, def *Definition[T]) error {
	handler := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		var t T
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &t); err != nil {
				return nil, fmt.Errorf("unmarshal payload for job type %q: %w", def.Type, err)
			}
		}

		res, err := def.Handler(ctx, t)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, nil
		}

		out, err := json.Marshal(res)
		if err != nil {
			return nil, fmt.Errorf("marshal result for job type %q: %w", def.Type, err)
		}
		return out, nil
	}

	return r.register(def.Type, handler, def.Opts)
}

// Get returns the handler for the given job type.
// Returns false if no handler is registered.
func (r *Registry) Get(jobType string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[jobType]
	return reg.fn, ok
}

// Opts returns the registration options for the given job type.
func (r *Registry) Opts(jobType string) (Options, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.handlers[jobType]
	return reg.opts, ok
}

// Has reports whether a handler is registered for the given job type.
func (r *Registry) Has(jobType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[jobType]
	return ok
}

// Types returns all registered job types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
