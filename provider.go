package arbiter

import (
	"context"
)

// Adapter is the capability interface every provider transport implements.
// Adapters are interchangeable variants behind this one interface; the
// engine never depends on a concrete provider type.
type Adapter interface {
	// Name returns the provider identifier (e.g., "openai", "anthropic")
	Name() string

	// Models returns the list of supported model IDs
	Models() []string

	// Complete performs a non-streaming completion
	Complete(ctx context.Context, req *Request) (*Response, error)

	// Stream performs a streaming completion, returning events via channel
	Stream(ctx context.Context, req *Request) (<-chan Event, error)

	// SupportsTools returns whether the provider supports function/tool calling
	SupportsTools() bool

	// CheckHealth probes the provider. A nil return means reachable; the
	// error is classified like any execution error.
	CheckHealth(ctx context.Context) error
}

// Middleware wraps an Adapter with additional functionality
type Middleware interface {
	Wrap(next Adapter) Adapter
}
