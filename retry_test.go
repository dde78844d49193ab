package fetchz

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zoobzio/clockz"
)

func immediate(retries uint64) func() backoff.BackOff {
	return func() backoff.BackOff {
		return backoff.WithMaxRetries(&backoff.ZeroBackOff{}, retries)
	}
}

func TestRetry(t *testing.T) {
	t.Run("Retries Transfer Errors Until Success", func(t *testing.T) {
		var calls int32
		flaky := Apply("flaky", func(_ context.Context, path string) ([]byte, error) {
			if atomic.AddInt32(&calls, 1) < 3 {
				return nil, &TransferError{Op: "download", Path: path, Err: errors.New("connection reset")}
			}
			return []byte("ok"), nil
		})

		result, err := NewRetry(flaky, immediate(5)).Process(context.Background(), "a.csv")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(result) != "ok" {
			t.Errorf("expected ok, got %q", result)
		}
		if atomic.LoadInt32(&calls) != 3 {
			t.Errorf("expected 3 calls, got %d", atomic.LoadInt32(&calls))
		}
	})

	t.Run("Gives Up After Max Retries", func(t *testing.T) {
		var calls int32
		down := Apply("down", func(_ context.Context, path string) ([]byte, error) {
			atomic.AddInt32(&calls, 1)
			return nil, &TransferError{Op: "download", Path: path, Err: errors.New("refused")}
		})

		_, err := NewRetry(down, immediate(2)).Process(context.Background(), "a.csv")
		if !errors.Is(err, ErrTransfer) {
			t.Errorf("expected ErrTransfer, got %v", err)
		}
		if atomic.LoadInt32(&calls) != 3 {
			t.Errorf("expected 1 call plus 2 retries, got %d", atomic.LoadInt32(&calls))
		}
	})

	t.Run("Other Errors Are Not Retried", func(t *testing.T) {
		var calls int32
		broken := Apply("broken", func(_ context.Context, _ string) ([]byte, error) {
			atomic.AddInt32(&calls, 1)
			return nil, &DecodeError{Format: "gzip", Err: errors.New("invalid header")}
		})

		_, err := NewRetry(broken, immediate(5)).Process(context.Background(), "a.gz")
		if !errors.Is(err, ErrDecode) {
			t.Errorf("expected ErrDecode, got %v", err)
		}
		if atomic.LoadInt32(&calls) != 1 {
			t.Errorf("expected a single call, got %d", atomic.LoadInt32(&calls))
		}
	})

	t.Run("Waits On Clock", func(t *testing.T) {
		var calls int32
		flaky := Apply("flaky", func(_ context.Context, _ string) (int, error) {
			if atomic.AddInt32(&calls, 1) < 2 {
				return 0, &TransferError{Op: "contents", Err: errors.New("timeout")}
			}
			return 1, nil
		})

		clock := clockz.NewFakeClock()
		retry := NewRetry(flaky, func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 3)
		}).WithClock(clock)

		done := make(chan struct{})
		var err error
		go func() {
			_, err = retry.Process(context.Background(), "/")
			close(done)
		}()

		time.Sleep(10 * time.Millisecond)
		if atomic.LoadInt32(&calls) != 1 {
			t.Fatalf("expected retry to wait on clock, got %d calls", atomic.LoadInt32(&calls))
		}

		clock.Advance(50 * time.Millisecond)
		clock.BlockUntilReady()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("test timed out")
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if atomic.LoadInt32(&calls) != 2 {
			t.Errorf("expected 2 calls, got %d", atomic.LoadInt32(&calls))
		}
	})

	t.Run("Context Cancellation Stops Retrying", func(t *testing.T) {
		down := Apply("down", func(_ context.Context, _ string) (int, error) {
			return 0, &TransferError{Op: "download", Err: errors.New("refused")}
		})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		retry := NewRetry(down, func() backoff.BackOff { return backoff.NewConstantBackOff(time.Hour) })
		_, err := retry.Process(ctx, "a")
		if err == nil {
			t.Fatal("expected error after cancellation")
		}
	})

	t.Run("Name", func(t *testing.T) {
		retry := NewRetry(Download(nil), nil)
		if retry.Name() != "retry(download)" {
			t.Errorf("unexpected name %q", retry.Name())
		}
	})
}
