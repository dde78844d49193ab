package fetchz

import "context"

// Map returns a stage that applies fn to every element of a slice.
// The result has the same length and order as the input, and the input
// slice is never modified. The first element error stops the mapping and is
// returned unchanged.
//
// Map accepts any stage, so whole sub-pipelines can run per element:
//
//	perFile := fetchz.Map(fetchz.Then(fetchz.Download(conn), parse.JSONRecords()))
func Map[In, Out any](fn Chainable[In, Out]) Processor[[]In, []Out] {
	return Processor[[]In, []Out]{
		name: "map(" + fn.Name() + ")",
		fn: func(ctx context.Context, in []In) ([]Out, error) {
			out := make([]Out, len(in))
			for i, item := range in {
				result, err := fn.Process(ctx, item)
				if err != nil {
					return nil, err
				}
				out[i] = result
			}
			return out, nil
		},
	}
}

// MapFunc is Map for a plain function.
func MapFunc[In, Out any](fn func(In) Out) Processor[[]In, []Out] {
	return Map[In, Out](Lift(fn))
}
