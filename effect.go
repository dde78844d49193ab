package fetchz

import (
	"context"
	"time"
)

// Effect creates a Processor that performs a side effect and passes its input
// through unchanged. Any returned error stops the pipeline.
//
// Example:
//
//	audit := fetchz.Effect("audit", func(ctx context.Context, names []string) error {
//	    return auditLog.Record(ctx, "listing", len(names))
//	})
func Effect[T any](name Name, fn func(context.Context, T) error) Processor[T, T] {
	return Processor[T, T]{
		name: name,
		fn: func(ctx context.Context, value T) (result T, err error) {
			defer recoverFromPanic(&result, &err, name, value)
			start := time.Now()
			if err := fn(ctx, value); err != nil {
				var zero T
				return zero, wrapError(name, value, err, start)
			}
			return value, nil
		},
	}
}
