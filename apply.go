package fetchz

import (
	"context"
	"time"
)

// Apply creates a Processor from a function that may fail.
// Apply is the workhorse adapter - parsing, fetching and decoding all go
// through it. On error the failure is wrapped in *Error with the stage name
// and the input value, and returned to the caller unchanged otherwise.
//
// Example:
//
//	parseID := fetchz.Apply("parse_id", func(_ context.Context, s string) (int, error) {
//	    return strconv.Atoi(s)
//	})
func Apply[In, Out any](name Name, fn func(context.Context, In) (Out, error)) Processor[In, Out] {
	return Processor[In, Out]{
		name: name,
		fn: func(ctx context.Context, value In) (result Out, err error) {
			defer recoverFromPanic(&result, &err, name, value)
			start := time.Now()
			result, err = fn(ctx, value)
			if err != nil {
				var zero Out
				return zero, wrapError(name, value, err, start)
			}
			return result, nil
		},
	}
}
