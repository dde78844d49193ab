package testing

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	mathrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zoobzio/fetchz"
)

// ErrChaos is returned by ChaosConnection for every injected failure.
var ErrChaos = errors.New("chaos connection induced failure")

// ChaosConnection wraps another connection and randomly introduces transfer
// failures and latency, the way a flaky SFTP or FTP server behaves.
type ChaosConnection struct { //nolint:govet // fieldalignment: Test helper struct optimized for functionality over memory efficiency
	wrapped     fetchz.Connection
	failureRate float64
	latencyMin  time.Duration
	latencyMax  time.Duration
	rng         *mathrand.Rand
	mu          sync.Mutex
	totalCalls  int64
	failedCalls int64
}

// ChaosConfig holds configuration for chaos testing.
type ChaosConfig struct {
	FailureRate float64       // Probability of failing a call (0.0 to 1.0)
	LatencyMin  time.Duration // Minimum additional latency to inject
	LatencyMax  time.Duration // Maximum additional latency to inject
	Seed        int64         // Random seed for reproducible chaos (0 for random seed)
}

// NewChaosConnection creates a chaos connection around wrapped.
func NewChaosConnection(wrapped fetchz.Connection, config ChaosConfig) *ChaosConnection {
	seed := config.Seed
	if seed == 0 {
		var seedBytes [8]byte
		if _, err := rand.Read(seedBytes[:]); err != nil {
			seed = time.Now().UnixNano()
		} else {
			for _, b := range seedBytes {
				seed = seed<<8 | int64(b)
			}
		}
	}

	return &ChaosConnection{
		wrapped:     wrapped,
		failureRate: config.FailureRate,
		latencyMin:  config.LatencyMin,
		latencyMax:  config.LatencyMax,
		rng:         mathrand.New(mathrand.NewSource(seed)), //nolint:gosec // G404: Test utility uses weak RNG for deterministic chaos scenarios
	}
}

// Fetch implements fetchz.Fetcher with chaos injection.
func (c *ChaosConnection) Fetch(ctx context.Context, path string) ([]byte, error) {
	if err := c.disturb(ctx, "fetch", path); err != nil {
		return nil, err
	}
	return c.wrapped.Fetch(ctx, path)
}

// List implements fetchz.Lister with chaos injection.
func (c *ChaosConnection) List(ctx context.Context, dir string) ([]string, error) {
	if err := c.disturb(ctx, "list", dir); err != nil {
		return nil, err
	}
	return c.wrapped.List(ctx, dir)
}

// Close closes the wrapped connection.
func (c *ChaosConnection) Close() error {
	return c.wrapped.Close()
}

func (c *ChaosConnection) disturb(ctx context.Context, op, path string) error {
	atomic.AddInt64(&c.totalCalls, 1)

	c.mu.Lock()
	var latency time.Duration
	if c.latencyMax > c.latencyMin {
		latency = c.latencyMin + time.Duration(c.rng.Int63n(int64(c.latencyMax-c.latencyMin)))
	} else if c.latencyMin > 0 {
		latency = c.latencyMin
	}
	fail := c.rng.Float64() < c.failureRate
	c.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if fail {
		atomic.AddInt64(&c.failedCalls, 1)
		return &fetchz.TransferError{Op: op, Path: path, Err: ErrChaos}
	}
	return nil
}

// Stats returns statistics about chaos injection.
func (c *ChaosConnection) Stats() ChaosStats {
	return ChaosStats{
		TotalCalls:  atomic.LoadInt64(&c.totalCalls),
		FailedCalls: atomic.LoadInt64(&c.failedCalls),
	}
}

// ChaosStats holds statistics about chaos injection.
type ChaosStats struct {
	TotalCalls  int64
	FailedCalls int64
}

// FailureRate returns the observed failure rate.
func (s ChaosStats) FailureRate() float64 {
	if s.TotalCalls == 0 {
		return 0
	}
	return float64(s.FailedCalls) / float64(s.TotalCalls)
}

// String returns a human-readable summary.
func (s ChaosStats) String() string {
	return fmt.Sprintf("calls=%d failed=%d (%.1f%%)", s.TotalCalls, s.FailedCalls, s.FailureRate()*100)
}
