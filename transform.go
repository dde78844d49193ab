package fetchz

import (
	"context"
	"fmt"
	"time"
)

// Transform creates a Processor that applies a pure transformation function.
// Transform is the simplest stage - use it when the operation always succeeds,
// such as reshaping a string or a record.
//
// If the transformation might fail, use Apply instead.
//
// Example:
//
//	upper := fetchz.Transform("upper", func(_ context.Context, s string) string {
//	    return strings.ToUpper(s)
//	})
func Transform[In, Out any](name Name, fn func(context.Context, In) Out) Processor[In, Out] {
	return Processor[In, Out]{
		name: name,
		fn: func(ctx context.Context, value In) (result Out, err error) {
			defer recoverFromPanic(&result, &err, name, value)
			return fn(ctx, value), nil
		},
	}
}

// Lift turns a plain function into a Processor so it can sit on either side
// of Then. The processor is named "func".
func Lift[In, Out any](fn func(In) Out) Processor[In, Out] {
	return Transform("func", func(_ context.Context, in In) Out {
		return fn(in)
	})
}

// LiftErr turns a plain function that may fail into a Processor.
func LiftErr[In, Out any](fn func(In) (Out, error)) Processor[In, Out] {
	return Apply("func", func(_ context.Context, in In) (Out, error) {
		return fn(in)
	})
}

// panicError carries a recovered panic as an error.
type panicError struct {
	value     any
	sanitized string
}

func (e *panicError) Error() string {
	return e.sanitized
}

// recoverFromPanic converts a panic inside a stage into an *Error so a single
// bad record cannot bring down the caller.
func recoverFromPanic[In, Out any](result *Out, err *error, name Name, input In) {
	r := recover()
	if r == nil {
		return
	}
	var zero Out
	*result = zero
	*err = &Error{
		Path:      []Name{name},
		InputData: input,
		Err: &panicError{
			value:     r,
			sanitized: fmt.Sprintf("panic occurred: %v", r),
		},
		Timestamp: time.Now(),
	}
}
