// Package oracle abstracts the external reasoning backend behind a single
// fixed-shape decide capability. Concrete backends are adapters; the engine
// never depends on a specific provider.
package oracle

import "context"

// Oracle converts a system instruction and user context (plus an optional
// screenshot) into one raw response. The response is expected to contain a
// JSON object, but malformed output is always a recoverable condition for
// the caller, never for the oracle itself.
type Oracle interface {
	Decide(ctx context.Context, system, user string, image []byte) (string, error)
}

// Func adapts a plain function to the Oracle interface.
type Func func(ctx context.Context, system, user string, image []byte) (string, error)

func (f Func) Decide(ctx context.Context, system, user string, image []byte) (string, error) {
	return f(ctx, system, user, image)
}
