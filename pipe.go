package fetchz

import "context"

// Then connects two stages left to right: the result behaves like
// right(left(x)).
//
// Then is the pipe connective of fetchz. It is pure - neither operand runs
// until the composed stage is processed - and it is transparent to failures:
// an error from either side is returned as is, and right is never invoked
// after left fails. Grouping does not matter,
//
//	fetchz.Then(fetchz.Then(a, b), c)
//	fetchz.Then(a, fetchz.Then(b, c))
//
// both process c(b(a(x))) and both are named "a | b | c".
func Then[A, B, C any](left Chainable[A, B], right Chainable[B, C]) Processor[A, C] {
	return Processor[A, C]{
		name: left.Name() + " | " + right.Name(),
		fn: func(ctx context.Context, a A) (C, error) {
			b, err := left.Process(ctx, a)
			if err != nil {
				var zero C
				return zero, err
			}
			return right.Process(ctx, b)
		},
	}
}

// ThenFunc connects a stage to a plain function on its right.
func ThenFunc[A, B, C any](left Chainable[A, B], fn func(B) C) Processor[A, C] {
	return Then[A, B, C](left, Lift(fn))
}

// Then3 connects three stages left to right.
func Then3[A, B, C, D any](s1 Chainable[A, B], s2 Chainable[B, C], s3 Chainable[C, D]) Processor[A, D] {
	return Then[A, C, D](Then(s1, s2), s3)
}

// Then4 connects four stages left to right.
func Then4[A, B, C, D, E any](s1 Chainable[A, B], s2 Chainable[B, C], s3 Chainable[C, D], s4 Chainable[D, E]) Processor[A, E] {
	return Then[A, D, E](Then3(s1, s2, s3), s4)
}

// Then5 connects five stages left to right.
func Then5[A, B, C, D, E, F any](s1 Chainable[A, B], s2 Chainable[B, C], s3 Chainable[C, D], s4 Chainable[D, E], s5 Chainable[E, F]) Processor[A, F] {
	return Then[A, E, F](Then4(s1, s2, s3, s4), s5)
}

// Run applies a stage to a value now. It is the "value | stage" form of the
// pipe connective:
//
//	names, err := fetchz.Run(ctx, "/exports", fetchz.Contents(conn))
func Run[In, Out any](ctx context.Context, value In, stage Chainable[In, Out]) (Out, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return stage.Process(ctx, value)
}
