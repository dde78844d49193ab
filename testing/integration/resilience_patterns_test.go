package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zoobzio/fetchz"
	"github.com/zoobzio/fetchz/archive"
	"github.com/zoobzio/fetchz/parse"
	fetchztest "github.com/zoobzio/fetchz/testing"
)

func immediately(retries uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, retries)
	}
}

func TestResilience_RetryFlakyServer(t *testing.T) {
	tests := []struct {
		name        string
		failureRate float64
		seed        int64
	}{
		{name: "occasional_failures", failureRate: 0.2, seed: 7},
		{name: "frequent_failures", failureRate: 0.6, seed: 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := fetchztest.NewMemConnection().Put("/feed.json", []byte(`[{"id":"1"}]`))
			flaky := fetchztest.NewChaosConnection(mem, fetchztest.ChaosConfig{
				FailureRate: tt.failureRate,
				Seed:        tt.seed,
			})
			fetch := fetchz.NewRetry(fetchz.Then(fetchz.Download(flaky), parse.JSONRecords()), immediately(100))

			for i := 0; i < 20; i++ {
				records, err := fetchz.Run(context.Background(), "/feed.json", fetch)
				if err != nil {
					t.Fatalf("run %d: unexpected error: %v", i, err)
				}
				if len(records) != 1 {
					t.Fatalf("run %d: expected 1 record, got %v", i, records)
				}
			}

			stats := flaky.Stats()
			if stats.TotalCalls-stats.FailedCalls != 20 {
				t.Errorf("expected 20 successful calls, got %s", stats)
			}
			if mem.FetchCount("/feed.json") != 20 {
				t.Errorf("expected 20 fetches to reach the server, got %d", mem.FetchCount("/feed.json"))
			}
		})
	}
}

func TestResilience_RetryStopsOnDecodeError(t *testing.T) {
	mem := fetchztest.NewMemConnection().Put("/feed.gz", []byte("plain text"))
	fetch := fetchz.NewRetry(fetchz.Then(fetchz.Download(mem), archive.Ungzip()), immediately(5))

	_, err := fetchz.Run(context.Background(), "/feed.gz", fetch)
	if !errors.Is(err, fetchz.ErrDecode) {
		t.Fatalf("expected ErrDecode, got %v", err)
	}
	if mem.FetchCount("/feed.gz") != 1 {
		t.Errorf("decode errors must not be retried, fetched %d times", mem.FetchCount("/feed.gz"))
	}
}

func TestResilience_RetryPerFile(t *testing.T) {
	mem := fetchztest.NewMemConnection().
		Put("/a.json", []byte(`[{"id":"1"}]`)).
		Put("/b.json", []byte(`[{"id":"2"}]`)).
		FailNext(errors.New("connection reset by peer"))

	perFile := fetchz.NewRetry(fetchz.Then(fetchz.Download(mem), parse.JSONRecords()), immediately(2))
	merged := fetchz.Then(fetchz.Map(perFile), fetchz.JoinIfDifferentIDs[fetchz.Record]("id"))

	records, err := fetchz.Run(context.Background(), []string{"/a.json", "/b.json"}, merged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %v", records)
	}
	if mem.FetchCount("/a.json") != 2 || mem.FetchCount("/b.json") != 1 {
		t.Errorf("expected only the failed file to be refetched, got a=%d b=%d",
			mem.FetchCount("/a.json"), mem.FetchCount("/b.json"))
	}
}

func TestResilience_FallbackToMirror(t *testing.T) {
	primary := fetchztest.NewChaosConnection(fetchztest.NewMemConnection(), fetchztest.ChaosConfig{
		FailureRate: 1,
		Seed:        1,
	})
	mirror := fetchztest.NewMemConnection().Put("/feed.json", []byte(`[{"id":"1"},{"id":"2"}]`))
	reports := fetchztest.NewRecorder()
	ctx := fetchz.WithReporter(context.Background(), reports)

	fetch := fetchz.Then(
		fetchz.NewFallback(fetchz.Download(primary), fetchz.Download(mirror)),
		parse.JSONRecords(),
	)
	records, err := fetchz.Run(ctx, "/feed.json", fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("expected 2 records, got %v", records)
	}
	fetchztest.AssertReported(t, reports, fetchz.StageFailed, 1)

	var transferErr *fetchz.TransferError
	if failed := reports.Reports()[0]; !errors.As(failed.Err, &transferErr) || !errors.Is(failed.Err, fetchztest.ErrChaos) {
		t.Errorf("expected the chaos failure in the report, got %v", failed.Err)
	}
}

func TestResilience_MaybeKeepsPipelineAlive(t *testing.T) {
	mem := fetchztest.NewMemConnection().Put("/feed.json", []byte(`{"broken"`))
	reports := fetchztest.NewRecorder()
	ctx := fetchz.WithReporter(context.Background(), reports)

	records, err := fetchz.Run(ctx, "/feed.json",
		fetchz.Maybe(fetchz.Then(fetchz.Download(mem), parse.JSONRecords())))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if records != nil {
		t.Errorf("expected zero value, got %v", records)
	}
	fetchztest.AssertReported(t, reports, fetchz.StageFailed, 1)
	if !errors.Is(reports.Reports()[0].Err, fetchz.ErrParse) {
		t.Errorf("expected ErrParse in report, got %v", reports.Reports()[0].Err)
	}
}

func TestResilience_SlowServerHonoursDeadline(t *testing.T) {
	mem := fetchztest.NewMemConnection().Put("/feed.json", []byte(`[]`))
	slow := fetchztest.NewChaosConnection(mem, fetchztest.ChaosConfig{LatencyMin: time.Minute})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := fetchz.Run(ctx, "/feed.json", fetchz.Download(slow))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	var stageErr *fetchz.Error
	if !errors.As(err, &stageErr) || !stageErr.IsTimeout() {
		t.Errorf("expected a timed out *fetchz.Error, got %v", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("download did not stop at the deadline")
	}
	if mem.FetchCount("/feed.json") != 0 {
		t.Error("slow server should not have been reached")
	}
}
