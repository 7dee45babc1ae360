package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ashwalker/pairbot/internal/domain"
)

// busEvent is the JSON shape published to the signal bus. Only opportunity
// and terminal-order rows are published; per-quote rows stay in the CSV log.
type busEvent struct {
	Timestamp  time.Time `json:"timestamp"`
	Kind       string    `json:"kind"`
	GroupID    string    `json:"group_id,omitempty"`
	Instrument string    `json:"instrument,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Side       string    `json:"side,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Size       float64   `json:"size,omitempty"`
	Edge       float64   `json:"edge,omitempty"`
	State      string    `json:"state,omitempty"`
	Detail     string    `json:"detail,omitempty"`
}

// BusSink publishes selected telemetry events to a signal bus for live
// monitors, both as pub/sub fan-out and as a bounded replay stream.
type BusSink struct {
	bus     domain.SignalBus
	channel string
	stream  string
}

// NewBusSink creates a sink publishing to the given channel and stream.
func NewBusSink(bus domain.SignalBus, channel, stream string) *BusSink {
	return &BusSink{bus: bus, channel: channel, stream: stream}
}

// Record implements domain.TelemetrySink.
func (b *BusSink) Record(ctx context.Context, ev domain.TelemetryEvent) error {
	switch ev.Kind {
	case domain.TelemetryOpportunity, domain.TelemetryOrderTerminal, domain.TelemetryRiskRejected:
	default:
		return nil
	}

	payload, err := json.Marshal(busEvent{
		Timestamp:  ev.Timestamp,
		Kind:       string(ev.Kind),
		GroupID:    ev.GroupID,
		Instrument: string(ev.Instrument),
		OrderID:    ev.OrderID,
		Side:       string(ev.Side),
		Price:      ev.Price,
		Size:       ev.Size,
		Edge:       ev.Edge,
		State:      ev.State,
		Detail:     ev.Detail,
	})
	if err != nil {
		return err
	}
	if err := b.bus.Publish(ctx, b.channel, payload); err != nil {
		return err
	}
	return b.bus.StreamAppend(ctx, b.stream, payload)
}
