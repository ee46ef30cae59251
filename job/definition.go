package job

import "context"

// Definition is a typed job definition with a handler function.
// T is the payload type (must be JSON-serializable).
type Definition[T any] struct {
	// Type is the unique job type string this handler is routed by.
	Type string

	// Handler is the function that processes the job payload. Its
	// result, if non-nil, is JSON-marshaled and stored on the job.
	Handler func(ctx context.Context, payload T) (any, error)

	// Opts configures priority and attempt budget defaults for jobs of
	// this type.
	Opts Options
}

// NewDefinition creates a typed job definition.
func NewDefinition[T any](jobType string, handler func(ctx context.Context, payload T) (any, error), opts ...Option) *Definition[T] {
	def := &Definition[T]{
		Type:    jobType,
		Handler: handler,
		Opts:    DefaultOptions(),
	}
	for _, opt := range opts {
		opt(&def.Opts)
	}
	return def
}
