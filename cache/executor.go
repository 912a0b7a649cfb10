package cache

import "context"

// Executor runs a tool for real on a total miss.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: implementations should honor cancellation; a call whose
//     context ends is reported as abandoned, not as a tool failure.
//   - Errors: returned errors reach the caller unchanged and are never cached.
//   - Ownership: the returned slice must not be modified after return.
type Executor interface {
	Execute(ctx context.Context, tool string, args map[string]any) ([]byte, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, tool string, args map[string]any) ([]byte, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, tool string, args map[string]any) ([]byte, error) {
	return f(ctx, tool, args)
}
