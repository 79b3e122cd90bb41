package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/igo-publications-crawler/internal/progress"
)

// LogSink writes one structured log line per milestone. PHASE_ADVANCE events
// are logged at debug level since downloads emit one per batch.
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
		if evt.Organization != "" {
			fields = append(fields, zap.String("organization", evt.Organization))
		}
		if evt.Phase != "" {
			fields = append(fields, zap.String("phase", string(evt.Phase)))
		}
		switch evt.Stage {
		case progress.StagePhaseStart:
			fields = append(fields, zap.Int("total", evt.Total))
		case progress.StagePhaseAdvance, progress.StagePhaseDone:
			fields = append(fields, zap.Int("done", evt.Done))
		case progress.StageOrgDone:
			fields = append(fields, zap.Int("found", evt.Found), zap.Int("downloaded", evt.Downloaded))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StagePhaseAdvance:
			s.logger.Debug("progress event", fields...)
		case progress.StageOrgError:
			s.logger.Warn("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
