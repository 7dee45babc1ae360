package domain

import (
	"context"
	"time"
)

// TelemetryKind classifies a telemetry row.
type TelemetryKind string

const (
	TelemetryOpportunity     TelemetryKind = "opportunity"
	TelemetryOppDiscarded    TelemetryKind = "opportunity_discarded"
	TelemetryOrderTerminal   TelemetryKind = "order_terminal"
	TelemetryRiskRejected    TelemetryKind = "risk_rejected"
	TelemetryStaleUpdate     TelemetryKind = "stale_update"
	TelemetryModelDegraded   TelemetryKind = "model_degraded"
	TelemetryQuote           TelemetryKind = "quote"
	TelemetryArchiveUploaded TelemetryKind = "archive_uploaded"
)

// TelemetryEvent is one row in the fixed-schema tabular event log. The core
// emits a row for every opportunity generated, every terminal order state,
// and every notable discard/rejection; it never reads this data back.
type TelemetryEvent struct {
	Timestamp  time.Time
	Kind       TelemetryKind
	GroupID    string
	Instrument InstrumentID
	OrderID    string
	Side       OrderSide
	Price      float64
	Size       float64
	Edge       float64
	State      string
	Detail     string
}

// TelemetrySink consumes telemetry rows. Sinks must tolerate high event
// rates; a failing sink must not unwind into the trading path.
type TelemetrySink interface {
	Record(ctx context.Context, ev TelemetryEvent) error
}

// TelemetrySinkFunc adapts a function to the TelemetrySink interface.
type TelemetrySinkFunc func(ctx context.Context, ev TelemetryEvent) error

// Record implements TelemetrySink.
func (f TelemetrySinkFunc) Record(ctx context.Context, ev TelemetryEvent) error {
	return f(ctx, ev)
}
