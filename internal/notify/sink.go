package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashwalker/pairbot/internal/domain"
)

const (
	queueSize   = 64
	sendTimeout = 10 * time.Second
)

// Sink adapts the Notifier to the telemetry sink interface. Delivery is
// asynchronous: Record enqueues and returns immediately, and a worker drains
// the queue with a per-message timeout. A full queue drops the alert rather
// than stall the event path.
type Sink struct {
	notifier *Notifier
	queue    chan domain.TelemetryEvent
	logger   *slog.Logger
}

var _ domain.TelemetrySink = (*Sink)(nil)

// NewSink wraps a Notifier for use as a telemetry sink. Run must be started
// for alerts to flow.
func NewSink(notifier *Notifier, logger *slog.Logger) *Sink {
	return &Sink{
		notifier: notifier,
		queue:    make(chan domain.TelemetryEvent, queueSize),
		logger:   logger.With(slog.String("component", "notify_sink")),
	}
}

// Record implements domain.TelemetrySink. It never blocks.
func (s *Sink) Record(ctx context.Context, ev domain.TelemetryEvent) error {
	if !s.notifier.Wants(ev.Kind) {
		return nil
	}
	select {
	case s.queue <- ev:
	default:
		s.logger.Warn("alert queue full, dropping alert",
			slog.String("kind", string(ev.Kind)),
		)
	}
	return nil
}

// Run drains the alert queue until ctx is cancelled.
func (s *Sink) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.queue:
			sendCtx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			_ = s.notifier.Notify(sendCtx, ev)
			cancel()
		}
	}
}
