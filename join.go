package fetchz

import (
	"context"
	"fmt"
	"reflect"
)

// Concat returns a stage that flattens exactly one level of nesting,
// concatenating the inner slices in outer order.
//
//	fetchz.Run(ctx, [][]int{{1, 2}, {}, {3}}, fetchz.Concat[int]()) // [1 2 3]
func Concat[T any]() Processor[[][]T, []T] {
	return Transform("concat", func(_ context.Context, in [][]T) []T {
		size := 0
		for _, inner := range in {
			size += len(inner)
		}
		out := make([]T, 0, size)
		for _, inner := range in {
			out = append(out, inner...)
		}
		return out
	})
}

// ConcatWith is Concat where every inner slice after the first is filtered
// against everything accumulated so far: an element is appended only when
// keep(element, accumulated) is true.
//
//	unseen := func(n int, acc []int) bool { return !slices.Contains(acc, n) }
//	fetchz.Run(ctx, [][]int{{1, 2}, {2, 3}}, fetchz.ConcatWith(unseen)) // [1 2 3]
func ConcatWith[T any](keep func(T, []T) bool) Processor[[][]T, []T] {
	return Transform("concat_with", func(_ context.Context, in [][]T) []T {
		if len(in) == 0 {
			return []T{}
		}
		out := append([]T{}, in[0]...)
		for _, inner := range in[1:] {
			out = join(out, inner, keep)
		}
		return out
	})
}

// Join returns a stage that appends the elements of other for which
// keep(element, input) is true to its input. A nil keep appends everything.
func Join[T any](other []T, keep func(T, []T) bool) Processor[[]T, []T] {
	return Transform("join", func(_ context.Context, in []T) []T {
		return join(append([]T{}, in...), other, keep)
	})
}

func join[T any](acc, other []T, keep func(T, []T) bool) []T {
	base := acc
	for _, item := range other {
		if keep == nil || keep(item, base) {
			acc = append(acc, item)
		}
	}
	return acc
}

// JoinIfDifferentIDs returns a stage that merges one collection of records
// per source into a single slice. A record is dropped when its idColumn value
// was already seen in an earlier collection; repeated IDs inside the same
// collection are kept. The first occurrence wins and order is preserved.
//
// idColumn is resolved like Get, so dotted keys work. A record without the
// column fails with a *KeyNotFoundError.
func JoinIfDifferentIDs[T any](idColumn string) Processor[[][]T, []T] {
	return Apply("join_if_different_ids("+idColumn+")", func(_ context.Context, in [][]T) ([]T, error) {
		out := []T{}
		seen := map[any]struct{}{}
		for _, collection := range in {
			added := map[any]struct{}{}
			for _, record := range collection {
				id, err := lookupPath(record, idColumn)
				if err != nil {
					return nil, err
				}
				key := identity(id)
				if _, ok := seen[key]; ok {
					continue
				}
				added[key] = struct{}{}
				out = append(out, record)
			}
			for key := range added {
				seen[key] = struct{}{}
			}
		}
		return out, nil
	})
}

// identity returns a map-safe key for an arbitrary ID value.
func identity(id any) any {
	if id == nil {
		return nil
	}
	if reflect.TypeOf(id).Comparable() {
		return id
	}
	return fmt.Sprintf("%T:%v", id, id)
}

// Reduce returns a stage that folds a slice from the left with fn.
// An empty slice fails with ErrEmptyInput.
func Reduce[T any](fn func(T, T) T) Processor[[]T, T] {
	return Apply("reduce", func(_ context.Context, in []T) (T, error) {
		if len(in) == 0 {
			var zero T
			return zero, ErrEmptyInput
		}
		acc := in[0]
		for _, item := range in[1:] {
			acc = fn(acc, item)
		}
		return acc, nil
	})
}

// Union returns a stage that merges several slices into one without
// duplicates, in order of first appearance.
func Union[T comparable]() Processor[[][]T, []T] {
	return Transform("union", func(_ context.Context, in [][]T) []T {
		out := []T{}
		seen := map[T]struct{}{}
		for _, inner := range in {
			for _, item := range inner {
				if _, ok := seen[item]; !ok {
					seen[item] = struct{}{}
					out = append(out, item)
				}
			}
		}
		return out
	})
}

// Intersect returns a stage that keeps the elements present in every slice,
// without duplicates, in the order of the first slice.
func Intersect[T comparable]() Processor[[][]T, []T] {
	return Transform("intersect", func(_ context.Context, in [][]T) []T {
		out := []T{}
		if len(in) == 0 {
			return out
		}
		counts := map[T]int{}
		for _, inner := range in {
			local := map[T]struct{}{}
			for _, item := range inner {
				if _, ok := local[item]; ok {
					continue
				}
				local[item] = struct{}{}
				counts[item]++
			}
		}
		for _, item := range in[0] {
			if counts[item] == len(in) {
				out = append(out, item)
				counts[item] = 0
			}
		}
		return out
	})
}
