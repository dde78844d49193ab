package fetchz

import "context"

// Maybe wraps a stage so that its failure is reported instead of returned.
// When the wrapped stage fails, Maybe emits a StageFailed report through the
// context reporter and yields the zero value of Out; the pipeline continues.
//
// Maybe is the only way to opt a stage out of fail-fast propagation. Use it
// for best-effort steps, for example an optional enrichment lookup:
//
//	region := fetchz.Maybe(fetchz.Get[fetchz.Record]("address.region"))
func Maybe[In, Out any](stage Chainable[In, Out]) Processor[In, Out] {
	name := "maybe(" + stage.Name() + ")"
	return Transform(name, func(ctx context.Context, in In) Out {
		out, err := stage.Process(ctx, in)
		if err != nil {
			report(ctx, nil, Report{
				Kind:    StageFailed,
				Stage:   stage.Name(),
				Message: "Returning zero value instead of error",
				Err:     err,
			})
			var zero Out
			return zero
		}
		return out
	})
}
