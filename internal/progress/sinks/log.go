package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/famotime/siyuan-scripts/internal/progress"
)

// LogSink writes each event as a log line. Run-ending events log at info,
// the rest at debug.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wraps logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs every event in batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
			zap.String("url", evt.URL),
			zap.Duration("dur", evt.Dur),
		}
		if evt.Stage == progress.StageFetched {
			fields = append(fields,
				zap.String("site", evt.Site),
				zap.Int64("bytes", evt.Bytes),
				zap.String("status_class", string(evt.StatusClass)),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Terminal() {
			s.logger.Info("clip stage", fields...)
			continue
		}
		s.logger.Debug("clip stage", fields...)
	}
	return nil
}

// Close implements progress.Sink.
func (s *LogSink) Close(context.Context) error {
	return nil
}
