package fetchz

import "context"

// Predicate reports whether an element should be kept.
type Predicate[T any] func(T) bool

// Filter returns a stage that keeps the elements for which predicate returns
// true. Order and duplicates are preserved and the input slice is never
// modified.
//
// Example:
//
//	evens := fetchz.Filter(func(n int) bool { return n%2 == 0 })
//	out, _ := fetchz.Run(ctx, []int{1, 2, 3, 4, 5}, evens) // [2 4]
func Filter[T any](predicate Predicate[T]) Processor[[]T, []T] {
	return Processor[[]T, []T]{
		name: "filter",
		fn: func(_ context.Context, in []T) (out []T, err error) {
			defer recoverFromPanic(&out, &err, "filter", in)
			out = make([]T, 0, len(in))
			for _, item := range in {
				if predicate(item) {
					out = append(out, item)
				}
			}
			return out, nil
		},
	}
}

// FilterWith is Filter driven by a stage. Errors from the predicate stage stop
// the filtering and are returned unchanged.
func FilterWith[T any](predicate Chainable[T, bool]) Processor[[]T, []T] {
	return Processor[[]T, []T]{
		name: "filter(" + predicate.Name() + ")",
		fn: func(ctx context.Context, in []T) ([]T, error) {
			out := make([]T, 0, len(in))
			for _, item := range in {
				keep, err := predicate.Process(ctx, item)
				if err != nil {
					return nil, err
				}
				if keep {
					out = append(out, item)
				}
			}
			return out, nil
		},
	}
}
