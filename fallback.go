package fetchz

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// Fallback tries alternative stages in order, moving to the next one only
// when the current one fails with a transfer error. It is meant for mirrors:
// the same export published on an SSH host and on an HTTP server, say.
//
// Unlike Retry, which repeats one stage, Fallback switches to a different
// source. Decode, parse and lookup errors are returned at once because a
// mirror holding the same data would fail the same way.
//
// Example:
//
//	fetch := fetchz.NewFallback(
//	    fetchz.Download(primary),
//	    fetchz.Download(mirror),
//	)
type Fallback[In, Out any] struct {
	stages []Chainable[In, Out]
	mu     sync.RWMutex
}

// NewFallback creates a Fallback. At least one stage must be provided.
func NewFallback[In, Out any](stages ...Chainable[In, Out]) *Fallback[In, Out] {
	if len(stages) == 0 {
		panic("NewFallback requires at least one stage")
	}
	return &Fallback[In, Out]{stages: stages}
}

// Process implements the Chainable interface.
func (f *Fallback[In, Out]) Process(ctx context.Context, in In) (Out, error) {
	f.mu.RLock()
	stages := make([]Chainable[In, Out], len(f.stages))
	copy(stages, f.stages)
	f.mu.RUnlock()

	start := time.Now()
	var lastErr error
	for i, stage := range stages {
		out, err := stage.Process(ctx, in)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !errors.Is(err, ErrTransfer) {
			break
		}
		if i < len(stages)-1 {
			report(ctx, nil, Report{
				Kind:    StageFailed,
				Stage:   stage.Name(),
				Message: "Trying next source",
				Err:     err,
			})
		}
	}

	var zero Out
	return zero, wrapError(f.Name(), in, lastErr, start)
}

// Name implements the Chainable interface.
func (f *Fallback[In, Out]) Name() Name {
	f.mu.RLock()
	defer f.mu.RUnlock()
	names := make([]string, len(f.stages))
	for i, s := range f.stages {
		names[i] = s.Name()
	}
	return "fallback(" + strings.Join(names, ", ") + ")"
}

// Add appends a stage to try after the existing ones.
func (f *Fallback[In, Out]) Add(stage Chainable[In, Out]) *Fallback[In, Out] {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stages = append(f.stages, stage)
	return f
}

// Len returns the number of alternatives.
func (f *Fallback[In, Out]) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.stages)
}
