package telemetry

import (
	"context"
	"log/slog"

	"github.com/ashwalker/pairbot/internal/domain"
)

// MultiSink fans one event out to several sinks. A failing sink is logged and
// skipped; the remaining sinks still receive the event. Record never returns
// an error, keeping sink failures out of the trading path.
type MultiSink struct {
	sinks  []domain.TelemetrySink
	logger *slog.Logger
}

// NewMultiSink creates a fan-out sink. Nil entries are dropped.
func NewMultiSink(logger *slog.Logger, sinks ...domain.TelemetrySink) *MultiSink {
	kept := make([]domain.TelemetrySink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			kept = append(kept, s)
		}
	}
	return &MultiSink{
		sinks:  kept,
		logger: logger.With(slog.String("component", "telemetry_multi")),
	}
}

// Record implements domain.TelemetrySink.
func (m *MultiSink) Record(ctx context.Context, ev domain.TelemetryEvent) error {
	for _, s := range m.sinks {
		if err := s.Record(ctx, ev); err != nil {
			m.logger.Warn("telemetry sink failed",
				slog.String("kind", string(ev.Kind)),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}
