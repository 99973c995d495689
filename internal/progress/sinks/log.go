package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/linkaudit/internal/audit"
	"github.com/JakeFAU/linkaudit/internal/progress"
)

// LogSink emits structured logs for progress streams. Lifecycle events and
// unverified items log at info; stats and successful items at debug.
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
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Int("total", evt.Stats.Total),
			zap.Int("processed", evt.Stats.Processed),
			zap.Int("progress_percent", evt.Stats.ProgressPercent),
		}
		level := zapcore.InfoLevel
		switch evt.Stage {
		case progress.StageStats:
			level = zapcore.DebugLevel
		case progress.StageItemDone:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("outcome", string(evt.Outcome)),
				zap.String("reason", evt.Reason),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Duration("dur", evt.Dur),
			)
			if evt.Outcome != audit.OutcomeUnverified {
				level = zapcore.DebugLevel
			}
		case progress.StageRunError:
			level = zapcore.WarnLevel
			fields = append(fields, zap.String("note", evt.Note))
		default:
			if evt.Dur > 0 {
				fields = append(fields, zap.Duration("dur", evt.Dur))
			}
		}
		if ce := s.logger.Check(level, "progress event"); ce != nil {
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
