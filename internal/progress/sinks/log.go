package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/pagespeed-auditor/internal/progress"
)

// LogSink emits one structured log entry per progress event.
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
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL), zap.Int("index", evt.Index))
		}
		if evt.Total > 0 {
			fields = append(fields, zap.Int("total", evt.Total))
		}
		if evt.Report != "" {
			fields = append(fields, zap.String("report", evt.Report))
		}
		if evt.Archive != "" {
			fields = append(fields, zap.String("archive", evt.Archive))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if rec := evt.Record; rec != nil {
			fields = append(fields,
				zap.String("outcome", string(rec.Outcome.Kind)),
				zap.Duration("elapsed", rec.Elapsed),
			)
			if rec.Outcome.OK() {
				fields = append(fields, zap.Any("metrics", rec.Outcome.Metrics))
			} else if rec.Outcome.Err != nil {
				fields = append(fields, zap.Error(rec.Outcome.Err))
			}
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Record != nil && !evt.Record.Outcome.OK() {
			s.logger.Warn("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
