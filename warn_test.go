package fetchz

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type recorder struct {
	mu      sync.Mutex
	reports []Report
}

func (r *recorder) Report(_ context.Context, report Report) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
}

func (r *recorder) all() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Report(nil), r.reports...)
}

func TestWarnIfNotFound(t *testing.T) {
	t.Run("Empty Input Reports Once", func(t *testing.T) {
		rec := &recorder{}
		ctx := WithRunID(WithReporter(context.Background(), rec), "run-42")

		result, err := WarnIfNotFound[int]().Process(ctx, []int{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result == nil || len(result) != 0 {
			t.Errorf("expected the empty input back, got %v", result)
		}

		reports := rec.all()
		if len(reports) != 1 {
			t.Fatalf("expected exactly one report, got %d", len(reports))
		}
		r := reports[0]
		if r.Kind != EmptyResult || r.Stage != "warn_if_not_found" {
			t.Errorf("unexpected report %+v", r)
		}
		if r.Message != "No registers were found" {
			t.Errorf("unexpected message %q", r.Message)
		}
		if r.RunID != "run-42" {
			t.Errorf("expected run id to be copied, got %q", r.RunID)
		}
		if r.Timestamp.IsZero() {
			t.Error("expected timestamp to be set")
		}
	})

	t.Run("Non Empty Input Is Silent", func(t *testing.T) {
		rec := &recorder{}
		ctx := WithReporter(context.Background(), rec)

		result, err := WarnIfNotFound[int]().Process(ctx, []int{1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result) != 1 || result[0] != 1 {
			t.Errorf("expected [1], got %v", result)
		}
		if n := len(rec.all()); n != 0 {
			t.Errorf("expected no reports, got %d", n)
		}
	})

	t.Run("Explicit Reporter Wins Over Context", func(t *testing.T) {
		fromCtx := &recorder{}
		explicit := &recorder{}
		ctx := WithReporter(context.Background(), fromCtx)

		_, _ = WarnIfNotFoundTo[string](explicit).Process(ctx, nil)

		if len(explicit.all()) != 1 || len(fromCtx.all()) != 0 {
			t.Errorf("expected report only on explicit reporter: explicit=%d ctx=%d",
				len(explicit.all()), len(fromCtx.all()))
		}
	})

	t.Run("Pipeline Continues After Empty Listing", func(t *testing.T) {
		rec := &recorder{}
		ctx := WithReporter(context.Background(), rec)
		onlyCSV := Filter(func(s string) bool { return strings.HasSuffix(s, ".csv") })
		counted := Then3(onlyCSV, WarnIfNotFound[string](), Lift(func(s []string) int { return len(s) }))

		result, err := counted.Process(ctx, []string{"a.txt", "b.json"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result != 0 {
			t.Errorf("expected 0, got %d", result)
		}
		if len(rec.all()) != 1 {
			t.Errorf("expected one report, got %d", len(rec.all()))
		}
	})

	t.Run("Default Reporter Logs Warning", func(t *testing.T) {
		var buf bytes.Buffer
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
			zapcore.AddSync(&buf),
			zapcore.WarnLevel,
		)
		restore := zap.ReplaceGlobals(zap.New(core))
		defer restore()

		_, _ = WarnIfNotFound[int]().Process(context.Background(), nil)

		if !strings.Contains(buf.String(), "No registers were found") {
			t.Errorf("expected warning in log output, got %q", buf.String())
		}
	})
}

func TestHookReporter(t *testing.T) {
	reporter := NewHookReporter()
	defer reporter.Close()

	received := make(chan Report, 1)
	if err := reporter.OnReport(func(_ context.Context, r Report) error {
		received <- r
		return nil
	}); err != nil {
		t.Fatalf("failed to register hook: %v", err)
	}

	ctx := WithReporter(context.Background(), reporter)
	if _, err := WarnIfNotFound[int]().Process(ctx, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	select {
	case r := <-received:
		if r.Kind != EmptyResult {
			t.Errorf("unexpected report kind %q", r.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for report")
	}
}

func TestMultiReporter(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	ctx := WithReporter(context.Background(), MultiReporter(a, b))

	_, _ = WarnIfNotFound[int]().Process(ctx, nil)

	if len(a.all()) != 1 || len(b.all()) != 1 {
		t.Errorf("expected one report on each reporter, got %d and %d", len(a.all()), len(b.all()))
	}
}

func TestMaybe(t *testing.T) {
	t.Run("Success Passes Value", func(t *testing.T) {
		rec := &recorder{}
		ctx := WithReporter(context.Background(), rec)

		result, err := Maybe(Get[Record]("id")).Process(ctx, Record{"id": 5})
		if err != nil || result != 5 {
			t.Errorf("expected 5, got %v (%v)", result, err)
		}
		if len(rec.all()) != 0 {
			t.Error("expected no reports on success")
		}
	})

	t.Run("Failure Is Reported And Swallowed", func(t *testing.T) {
		rec := &recorder{}
		ctx := WithReporter(context.Background(), rec)

		result, err := Maybe(Get[Record]("region")).Process(ctx, Record{"id": 5})
		if err != nil {
			t.Fatalf("expected error to be swallowed, got %v", err)
		}
		if result != nil {
			t.Errorf("expected zero value, got %v", result)
		}

		reports := rec.all()
		if len(reports) != 1 {
			t.Fatalf("expected one report, got %d", len(reports))
		}
		if reports[0].Kind != StageFailed || !errors.Is(reports[0].Err, ErrKeyNotFound) {
			t.Errorf("unexpected report %+v", reports[0])
		}
		if reports[0].Stage != "get(region)" {
			t.Errorf("unexpected stage %q", reports[0].Stage)
		}
	})
}
