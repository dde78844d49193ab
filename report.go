package fetchz

import (
	"context"
	"time"

	"github.com/zoobzio/hookz"
	"go.uber.org/zap"
)

// ReportKind classifies a non-fatal pipeline condition.
type ReportKind string

// Report kinds.
const (
	// EmptyResult is reported when a stage sees an empty sequence.
	EmptyResult ReportKind = "empty_result"
	// StageFailed is reported when Maybe swallows a stage error.
	StageFailed ReportKind = "stage_failed"
)

// Report is a side-channel event emitted by observability stages. Reports
// never change the value flowing through the pipeline.
type Report struct {
	Timestamp time.Time
	Err       error
	Kind      ReportKind
	Stage     Name
	Message   string
	RunID     string
}

// Reporter receives reports. Implementations must not panic and must be safe
// for concurrent use when pipelines share them.
type Reporter interface {
	Report(context.Context, Report)
}

// ReporterFunc adapts a function to the Reporter interface.
type ReporterFunc func(context.Context, Report)

// Report implements Reporter.
func (f ReporterFunc) Report(ctx context.Context, r Report) {
	f(ctx, r)
}

// MultiReporter forwards every report to each reporter in order.
func MultiReporter(reporters ...Reporter) Reporter {
	return ReporterFunc(func(ctx context.Context, r Report) {
		for _, reporter := range reporters {
			reporter.Report(ctx, r)
		}
	})
}

// LogReporter returns a Reporter that writes reports to logger at warn level.
func LogReporter(logger *zap.Logger) Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return ReporterFunc(func(_ context.Context, r Report) {
		fields := []zap.Field{
			zap.String("kind", string(r.Kind)),
			zap.String("stage", r.Stage),
		}
		if r.RunID != "" {
			fields = append(fields, zap.String("run_id", r.RunID))
		}
		if r.Err != nil {
			fields = append(fields, zap.Error(r.Err))
		}
		logger.Warn(r.Message, fields...)
	})
}

// ReportEvent is the hook key under which HookReporter emits reports.
const ReportEvent = hookz.Key("fetchz.report")

// HookReporter fans reports out to hook handlers.
// Handlers run asynchronously, so a slow handler never blocks a pipeline.
//
// Example:
//
//	reporter := fetchz.NewHookReporter()
//	defer reporter.Close()
//	reporter.OnReport(func(ctx context.Context, r fetchz.Report) error {
//	    alerts.Warn(r.Stage, r.Message)
//	    return nil
//	})
//	ctx = fetchz.WithReporter(ctx, reporter)
type HookReporter struct {
	hooks *hookz.Hooks[Report]
}

// NewHookReporter creates a HookReporter with no handlers.
func NewHookReporter() *HookReporter {
	return &HookReporter{hooks: hookz.New[Report]()}
}

// Report implements Reporter.
func (h *HookReporter) Report(ctx context.Context, r Report) {
	_ = h.hooks.Emit(ctx, ReportEvent, r) //nolint:errcheck
}

// OnReport registers a handler called for every report.
func (h *HookReporter) OnReport(handler func(context.Context, Report) error) error {
	_, err := h.hooks.Hook(ReportEvent, handler)
	return err
}

// Close stops the hook workers.
func (h *HookReporter) Close() error {
	h.hooks.Close()
	return nil
}

type contextKey int

const (
	reporterKey contextKey = iota
	runIDKey
)

// WithReporter returns a context carrying r. Stages that report, such as
// WarnIfNotFound and Maybe, use it unless they were given a reporter.
func WithReporter(ctx context.Context, r Reporter) context.Context {
	return context.WithValue(ctx, reporterKey, r)
}

// ReporterFrom returns the reporter carried by ctx, or a LogReporter on the
// global zap logger.
func ReporterFrom(ctx context.Context) Reporter {
	if r, ok := ctx.Value(reporterKey).(Reporter); ok && r != nil {
		return r
	}
	return LogReporter(zap.L())
}

// WithRunID returns a context carrying the identifier of one pipeline run.
// The identifier is copied into every report emitted during the run.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunID returns the run identifier carried by ctx.
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey).(string)
	return id
}

func report(ctx context.Context, explicit Reporter, r Report) {
	r.Timestamp = time.Now()
	r.RunID = RunID(ctx)
	if explicit == nil {
		explicit = ReporterFrom(ctx)
	}
	explicit.Report(ctx, r)
}
