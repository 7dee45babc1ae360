package domain

import (
	"context"
	"time"
)

// OrderStore persists orders that reached a terminal state.
type OrderStore interface {
	Insert(ctx context.Context, order Order) error
	ListRecent(ctx context.Context, limit int) ([]Order, error)
	ListBefore(ctx context.Context, before time.Time) ([]Order, error)
}

// OpportunityStore persists generated opportunities for offline analysis.
type OpportunityStore interface {
	Insert(ctx context.Context, opp Opportunity) error
	MarkActedOn(ctx context.Context, id string) error
	ListRecent(ctx context.Context, limit int) ([]Opportunity, error)
	ListBefore(ctx context.Context, before time.Time) ([]Opportunity, error)
}

// SignalBus publishes live engine events for external monitors. The core
// only writes; it never consumes its own events.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// BlobWriter uploads immutable artifacts (rotated telemetry files) to object
// storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}
