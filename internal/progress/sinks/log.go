package sinks

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/newsletter-archiver/internal/progress"
)

// LogSink emits structured logs for each progress event.
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

// Consume logs each event in the batch. Fetch starts are logged at debug level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		level := zapcore.InfoLevel
		switch {
		case evt.Stage == progress.StageFetchStart:
			level = zapcore.DebugLevel
		case evt.Failed, evt.Stage == progress.StageRunError, evt.Stage == progress.StageRewriteFail:
			level = zapcore.WarnLevel
		}
		ce := s.logger.Check(level, "progress event")
		if ce == nil {
			continue
		}
		fields := []zap.Field{
			zap.Stringer("run_id", uuid.UUID(evt.RunID)),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Host != "" {
			fields = append(fields, zap.String("host", evt.Host))
		}
		if evt.URL != "" {
			fields = append(fields, zap.String("url", evt.URL))
		}
		if evt.Record != "" {
			fields = append(fields, zap.String("record", evt.Record))
		}
		if evt.Stage == progress.StageFetchDone {
			fields = append(fields,
				zap.Int64("bytes", evt.Bytes),
				zap.String("status_class", string(evt.StatusClass)),
			)
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		ce.Write(fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
