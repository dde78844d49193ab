package benchmarks

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/zoobzio/fetchz"
	"github.com/zoobzio/fetchz/parse"
	fetchztest "github.com/zoobzio/fetchz/testing"
)

// BenchmarkAdapters measures the cost of the individual adapter types.
func BenchmarkAdapters(b *testing.B) {
	ctx := context.Background()

	b.Run("Transform", func(b *testing.B) {
		stage := fetchz.Transform("double", func(_ context.Context, n int) int { return n * 2 })
		b.ReportAllocs()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			if _, err := stage.Process(ctx, 21); err != nil {
				b.Fatal(err)
			}
		}
	})

	b.Run("Apply_Error", func(b *testing.B) {
		stage := fetchz.Apply("fail", func(_ context.Context, _ int) (int, error) {
			return 0, errors.New("test error")
		})
		b.ReportAllocs()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			_, err := stage.Process(ctx, 21)
			_ = err // Expected error, don't fail benchmark
		}
	})

	b.Run("Get_Dotted", func(b *testing.B) {
		stage := fetchz.Get[fetchz.Record]("address.city")
		record := fetchz.Record{"address": map[string]any{"city": "Lisbon"}}
		b.ReportAllocs()
		b.ResetTimer()

		for i := 0; i < b.N; i++ {
			if _, err := stage.Process(ctx, record); err != nil {
				b.Fatal(err)
			}
		}
	})
}

// BenchmarkComposition measures the overhead of Then chains of growing length.
func BenchmarkComposition(b *testing.B) {
	ctx := context.Background()
	step := fetchz.Lift(func(n int) int { return n + 1 })

	for _, length := range []int{1, 5, 25} {
		chain := step
		for i := 1; i < length; i++ {
			chain = fetchz.Then(chain, step)
		}
		b.Run(fmt.Sprintf("Then_%d", length), func(b *testing.B) {
			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if _, err := chain.Process(ctx, 0); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkListingPipeline measures a realistic fetch, parse and join run
// against an in-memory connection.
func BenchmarkListingPipeline(b *testing.B) {
	ctx := fetchz.WithReporter(context.Background(), fetchztest.NewRecorder())
	conn := fetchztest.NewMemConnection()
	for file := 0; file < 4; file++ {
		var csv strings.Builder
		csv.WriteString("id,city\n")
		for row := 0; row < 250; row++ {
			fmt.Fprintf(&csv, "%d,city-%d\n", file*100+row, row)
		}
		conn.Put(fmt.Sprintf("/exports/%d.csv", file), []byte(csv.String()))
	}

	pipeline := fetchz.Then4(
		fetchz.Contents(conn),
		fetchz.Lift(func(names []string) []string {
			paths := make([]string, len(names))
			for i, name := range names {
				paths[i] = "/exports/" + name
			}
			return paths
		}),
		fetchz.Map(fetchz.Then(fetchz.Download(conn), parse.CSV(parse.Options{Delimiter: ','}))),
		fetchz.JoinIfDifferentIDs[fetchz.Record]("id"),
	)

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		records, err := fetchz.Run(ctx, "/exports", pipeline)
		if err != nil {
			b.Fatal(err)
		}
		if len(records) != 550 {
			b.Fatalf("expected 550 records, got %d", len(records))
		}
	}
}
