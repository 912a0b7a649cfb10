package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jonwraymond/toolcache/resilience"
)

// DefaultEmbeddingTimeout bounds a single embedding request.
const DefaultEmbeddingTimeout = 2 * time.Second

// Embedder turns query text into a vector.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Context: implementations should honor cancellation.
//   - Errors: any error degrades the lookup to exact-only; it is never
//     returned to the caller of Resolve.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

// Embed calls f.
func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}

// NormalizeQuery trims text and collapses internal whitespace runs to a
// single space.
func NormalizeQuery(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// queryText extracts and normalizes the semantic query argument.
func queryText(args map[string]any, field string) (string, bool) {
	raw, ok := args[field]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		return "", false
	}
	text := NormalizeQuery(s)
	return text, text != ""
}

// embeddingClient calls the embedder through its guard and memo and
// validates what comes back.
type embeddingClient struct {
	embedder Embedder
	guard    *resilience.Guard
	memo     *EmbeddingMemo
	dim      int
	timeout  time.Duration
}

func (e *embeddingClient) embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := e.memo.Get(text); ok {
		return vec, nil
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	// The guard may run the embedder on its own goroutine, so a panic must
	// be recovered here or it takes the process down.
	vec, err := resilience.Call(ctx, e.guard, func(ctx context.Context) (vec []float32, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("embedder panic: %v", p)
			}
		}()
		return e.embedder.Embed(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}
	if err := ValidateEmbedding(vec, e.dim); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbeddingUnavailable, err)
	}

	e.memo.Set(text, vec)
	return vec, nil
}

func (e *embeddingClient) circuitState() resilience.State {
	return e.guard.CircuitState()
}

func (e *embeddingClient) clearMemo() {
	if e == nil {
		return
	}
	e.memo.Clear()
}
