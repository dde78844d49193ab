package fetchz

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

const maxLoggedValue = 9999

// Log returns a pass-through stage that writes the value it sees to logger at
// debug level. Long values are truncated.
func Log[T any](logger *zap.Logger, msg string) Processor[T, T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return Effect("log", func(ctx context.Context, value T) error {
		rendered := fmt.Sprint(value)
		if len(rendered) > maxLoggedValue {
			rendered = rendered[:maxLoggedValue]
		}
		fields := []zap.Field{zap.String("value", rendered)}
		if id := RunID(ctx); id != "" {
			fields = append(fields, zap.String("run_id", id))
		}
		logger.Debug(msg, fields...)
		return nil
	})
}
