package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/infra-api/internal/progress"
)

// LogSink emits one structured log line per task event.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("task_id", evt.TaskID),
			zap.String("stage", string(evt.Stage)),
			zap.String("resource_type", evt.ResourceType),
			zap.Int64("resource_id", evt.ResourceID),
			zap.String("provider", evt.Provider),
			zap.String("method", evt.Method),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageTaskError {
			s.logger.Warn("task event", fields...)
			continue
		}
		s.logger.Info("task event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
