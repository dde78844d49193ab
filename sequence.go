package fetchz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"
)

// Observability constants for Sequence.
const (
	// Metrics.
	SequenceProcessedTotal  = metricz.Key("sequence.processed.total")
	SequenceSuccessesTotal  = metricz.Key("sequence.successes.total")
	SequenceFailuresTotal   = metricz.Key("sequence.failures.total")
	SequenceStagesCompleted = metricz.Key("sequence.stages.completed")
	SequenceStagesTotal     = metricz.Key("sequence.stages.total")
	SequenceDurationMs      = metricz.Key("sequence.duration.ms")

	// Spans.
	SequenceProcessSpan = tracez.Key("sequence.process")
	SequenceStageSpan   = tracez.Key("sequence.stage")

	// Tags.
	SequenceTagStageCount  = tracez.Tag("sequence.stage_count")
	SequenceTagStageNumber = tracez.Tag("sequence.stage_number")
	SequenceTagStageName   = tracez.Tag("sequence.stage_name")
	SequenceTagSuccess     = tracez.Tag("sequence.success")
	SequenceTagError       = tracez.Tag("sequence.error")

	// Hook event keys.
	SequenceEventStageComplete = hookz.Key("sequence.stage_complete")
	SequenceEventAllComplete   = hookz.Key("sequence.all_complete")
)

// SequenceEvent is emitted via hookz when a stage completes and when the
// whole sequence finishes.
type SequenceEvent struct {
	Timestamp       time.Time
	Error           error
	Name            Name
	StageName       Name
	RunID           string
	StageNumber     int
	TotalStages     int
	CompletedStages int
	Duration        time.Duration
	TotalDuration   time.Duration
	Success         bool
}

// Sequence is a named, mutable chain of stages that share one value type.
// It is what Then builds for heterogeneous stages, plus per-stage events,
// metrics and spans, and the ability to change the chain at runtime.
//
// The configuration-driven registry builds every pipeline as a
// Sequence[any], so each configured stage shows up in events and errors.
//
// Example:
//
//	seq := fetchz.NewSequence("listings", download, decode, parseRows)
//	seq.OnStageComplete(func(ctx context.Context, e fetchz.SequenceEvent) error {
//	    log.Printf("stage %d/%d %s took %v", e.StageNumber, e.TotalStages, e.StageName, e.Duration)
//	    return nil
//	})
type Sequence[T any] struct {
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[SequenceEvent]
	name    Name
	stages  []Chainable[T, T]
	mu      sync.RWMutex
}

// NewSequence creates a Sequence with optional initial stages.
func NewSequence[T any](name Name, stages ...Chainable[T, T]) *Sequence[T] {
	metrics := metricz.New()
	metrics.Counter(SequenceProcessedTotal)
	metrics.Counter(SequenceSuccessesTotal)
	metrics.Counter(SequenceFailuresTotal)
	metrics.Gauge(SequenceStagesCompleted)
	metrics.Gauge(SequenceStagesTotal)
	metrics.Gauge(SequenceDurationMs)

	return &Sequence[T]{
		name:    name,
		stages:  slices.Clone(stages),
		metrics: metrics,
		tracer:  tracez.New(),
		hooks:   hookz.New[SequenceEvent](),
	}
}

// Register appends stages to the Sequence.
func (c *Sequence[T]) Register(stages ...Chainable[T, T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = append(c.stages, stages...)
}

// Process runs every stage in order, each receiving the previous output.
// The context is checked before each stage. A failing stage stops the
// sequence; its error is returned with this sequence's name prepended to
// the path.
func (c *Sequence[T]) Process(ctx context.Context, value T) (result T, err error) {
	defer recoverFromPanic(&result, &err, c.name, value)

	c.mu.RLock()
	stages := slices.Clone(c.stages)
	c.mu.RUnlock()

	if ctx == nil {
		ctx = context.Background()
	}

	c.metrics.Counter(SequenceProcessedTotal).Inc()
	c.metrics.Gauge(SequenceStagesTotal).Set(float64(len(stages)))
	start := time.Now()

	ctx, span := c.tracer.StartSpan(ctx, SequenceProcessSpan)
	span.SetTag(SequenceTagStageCount, fmt.Sprintf("%d", len(stages)))
	defer func() {
		c.metrics.Gauge(SequenceDurationMs).Set(float64(time.Since(start).Milliseconds()))
		if err == nil {
			span.SetTag(SequenceTagSuccess, "true")
			c.metrics.Counter(SequenceSuccessesTotal).Inc()
		} else {
			span.SetTag(SequenceTagSuccess, "false")
			span.SetTag(SequenceTagError, err.Error())
			c.metrics.Counter(SequenceFailuresTotal).Inc()
		}
		span.Finish()
	}()

	result = value
	completed := 0
	for i, stage := range stages {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return result, &Error{
				Err:       ctxErr,
				InputData: value,
				Path:      []Name{c.name},
				Timeout:   errors.Is(ctxErr, context.DeadlineExceeded),
				Canceled:  errors.Is(ctxErr, context.Canceled),
				Timestamp: time.Now(),
				Duration:  time.Since(start),
			}
		}

		stageCtx, stageSpan := c.tracer.StartSpan(ctx, SequenceStageSpan)
		stageSpan.SetTag(SequenceTagStageNumber, fmt.Sprintf("%d", i+1))
		stageSpan.SetTag(SequenceTagStageName, stage.Name())

		stageStart := time.Now()
		next, stageErr := stage.Process(stageCtx, result)
		stageDuration := time.Since(stageStart)
		stageSpan.Finish()

		_ = c.hooks.Emit(ctx, SequenceEventStageComplete, SequenceEvent{ //nolint:errcheck
			Name:        c.name,
			StageName:   stage.Name(),
			RunID:       RunID(ctx),
			StageNumber: i + 1,
			TotalStages: len(stages),
			Success:     stageErr == nil,
			Error:       stageErr,
			Duration:    stageDuration,
			Timestamp:   time.Now(),
		})

		if stageErr != nil {
			return result, wrapError(c.name, value, stageErr, start)
		}
		result = next
		completed++
		c.metrics.Gauge(SequenceStagesCompleted).Set(float64(completed))
	}

	_ = c.hooks.Emit(ctx, SequenceEventAllComplete, SequenceEvent{ //nolint:errcheck
		Name:            c.name,
		RunID:           RunID(ctx),
		TotalStages:     len(stages),
		CompletedStages: completed,
		TotalDuration:   time.Since(start),
		Success:         true,
		Timestamp:       time.Now(),
	})

	return result, nil
}

// Len returns the number of stages in the Sequence.
func (c *Sequence[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.stages)
}

// Unshift adds stages to the front of the Sequence.
func (c *Sequence[T]) Unshift(stages ...Chainable[T, T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = slices.Insert(c.stages, 0, stages...)
}

// Push adds stages to the back of the Sequence.
func (c *Sequence[T]) Push(stages ...Chainable[T, T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stages = append(c.stages, stages...)
}

// Names returns the names of all stages in order.
func (c *Sequence[T]) Names() []Name {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]Name, len(c.stages))
	for i, stage := range c.stages {
		names[i] = stage.Name()
	}
	return names
}

// Remove removes the first stage with the given name.
func (c *Sequence[T]) Remove(name Name) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, stage := range c.stages {
		if stage.Name() == name {
			c.stages = slices.Delete(c.stages, i, i+1)
			return nil
		}
	}
	return fmt.Errorf("stage %q not found", name)
}

// Replace replaces the first stage with the given name.
func (c *Sequence[T]) Replace(name Name, stage Chainable[T, T]) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.stages {
		if existing.Name() == name {
			c.stages[i] = stage
			return nil
		}
	}
	return fmt.Errorf("stage %q not found", name)
}

// Name returns the name of this sequence.
func (c *Sequence[T]) Name() Name {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// Metrics returns the metrics registry for this sequence.
func (c *Sequence[T]) Metrics() *metricz.Registry {
	return c.metrics
}

// Tracer returns the tracer for this sequence.
func (c *Sequence[T]) Tracer() *tracez.Tracer {
	return c.tracer
}

// Close shuts down the tracer and hook workers.
func (c *Sequence[T]) Close() error {
	if c.tracer != nil {
		c.tracer.Close()
	}
	c.hooks.Close()
	return nil
}

// OnStageComplete registers a handler called asynchronously after every
// stage, whether it succeeded or failed.
func (c *Sequence[T]) OnStageComplete(handler func(context.Context, SequenceEvent) error) error {
	_, err := c.hooks.Hook(SequenceEventStageComplete, handler)
	return err
}

// OnAllComplete registers a handler called asynchronously after every stage
// succeeded.
func (c *Sequence[T]) OnAllComplete(handler func(context.Context, SequenceEvent) error) error {
	_, err := c.hooks.Hook(SequenceEventAllComplete, handler)
	return err
}
