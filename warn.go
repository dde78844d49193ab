package fetchz

import "context"

// WarnIfNotFound returns a pass-through stage that reports an EmptyResult when
// its input is empty. The value is returned unchanged in every case and the
// stage never fails; exactly one report is emitted per empty input.
//
// The reporter is taken from the context (see WithReporter).
//
//	listing := fetchz.Then3(fetchz.Contents(conn), onlyCSV, fetchz.WarnIfNotFound[string]())
func WarnIfNotFound[T any]() Processor[[]T, []T] {
	return warnIfNotFound[T](nil)
}

// WarnIfNotFoundTo is WarnIfNotFound with an explicit reporter.
func WarnIfNotFoundTo[T any](reporter Reporter) Processor[[]T, []T] {
	return warnIfNotFound[T](reporter)
}

func warnIfNotFound[T any](reporter Reporter) Processor[[]T, []T] {
	const name = "warn_if_not_found"
	return Transform(name, func(ctx context.Context, in []T) []T {
		if len(in) == 0 {
			report(ctx, reporter, Report{
				Kind:    EmptyResult,
				Stage:   name,
				Message: "No registers were found",
			})
		}
		return in
	})
}
