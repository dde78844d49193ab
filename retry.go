package fetchz

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/zoobzio/clockz"
	"go.uber.org/zap"
)

// Retry re-runs a stage that failed with a transfer error.
// Stages never retry on their own; wrapping a connector adapter in Retry is
// how a caller opts in to a retry policy. Only errors matching ErrTransfer
// are retried - decode, parse and lookup failures are returned at once.
//
// Example:
//
//	fetch := fetchz.NewRetry(fetchz.Download(conn), func() backoff.BackOff {
//	    return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
//	})
type Retry[In, Out any] struct {
	stage  Chainable[In, Out]
	policy func() backoff.BackOff
	clock  clockz.Clock
	logger *zap.Logger
	mu     sync.RWMutex
}

// NewRetry creates a Retry around stage. policy is called once per Process
// to build a fresh backoff; a nil policy uses an exponential backoff capped
// at three retries.
func NewRetry[In, Out any](stage Chainable[In, Out], policy func() backoff.BackOff) *Retry[In, Out] {
	if policy == nil {
		policy = func() backoff.BackOff {
			return backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
		}
	}
	return &Retry[In, Out]{
		stage:  stage,
		policy: policy,
		logger: zap.NewNop(),
	}
}

// Process implements the Chainable interface.
func (r *Retry[In, Out]) Process(ctx context.Context, in In) (Out, error) {
	r.mu.RLock()
	stage := r.stage
	policy := r.policy()
	clock := r.getClock()
	logger := r.logger
	r.mu.RUnlock()

	operation := func() (Out, error) {
		out, err := stage.Process(ctx, in)
		if err != nil && !errors.Is(err, ErrTransfer) {
			return out, backoff.Permanent(err)
		}
		return out, err
	}
	notify := func(err error, wait time.Duration) {
		logger.Info("retrying stage",
			zap.String("stage", stage.Name()),
			zap.Duration("wait", wait),
			zap.Error(err))
	}
	return backoff.RetryNotifyWithTimerAndData(operation, backoff.WithContext(policy, ctx), notify, &clockTimer{clock: clock})
}

// Name returns the name of this stage.
func (r *Retry[In, Out]) Name() Name {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return "retry(" + r.stage.Name() + ")"
}

// WithClock sets a custom clock for testing.
func (r *Retry[In, Out]) WithClock(clock clockz.Clock) *Retry[In, Out] {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
	return r
}

// WithLogger sets the logger used to record retries.
func (r *Retry[In, Out]) WithLogger(logger *zap.Logger) *Retry[In, Out] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if logger != nil {
		r.logger = logger
	}
	return r
}

func (r *Retry[In, Out]) getClock() clockz.Clock {
	if r.clock == nil {
		return clockz.RealClock
	}
	return r.clock
}

// clockTimer drives backoff waits from a clockz clock.
type clockTimer struct {
	clock clockz.Clock
	c     <-chan time.Time
}

func (t *clockTimer) Start(d time.Duration) {
	t.c = t.clock.After(d)
}

func (*clockTimer) Stop() {}

func (t *clockTimer) C() <-chan time.Time {
	return t.c
}
