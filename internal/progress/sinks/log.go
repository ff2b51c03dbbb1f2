// Package sinks provides progress.Sink implementations.
package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/renderbot/crawlserve/internal/progress"
)

// LogSink emits structured logs for crawl progress streams. It is the default
// sink for interactive site crawls.
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
			zap.String("run_id", evt.RunID),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StagePageDone:
			fields = append(fields,
				zap.String("url", evt.URL),
				zap.String("outcome", evt.Outcome),
				zap.Int64("bytes", evt.Bytes),
				zap.Duration("dur", evt.Dur),
			)
		case progress.StageRunDone:
			fields = append(fields,
				zap.String("outcome", evt.Outcome),
				zap.Int("pages", evt.Pages),
				zap.Duration("dur", evt.Dur),
			)
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Info("crawl progress", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
