package domain

import "context"

// VenueAck is the venue's synchronous response to an order submission.
type VenueAck struct {
	ClientOrderID string
	VenueOrderID  string
	Accepted      bool
	Reason        string
}

// VenueAdapter is the contract between the core and the external
// connectivity layer of one venue. Implementations own transport,
// authentication, and rate limiting; the core only sees normalized quotes
// and order events.
type VenueAdapter interface {
	// Name identifies the venue, e.g. "binance" or "sim".
	Name() string

	// Subscribe starts streaming quotes for the given instruments. The
	// returned channel is closed when ctx is cancelled or the stream ends.
	Subscribe(ctx context.Context, instruments []InstrumentID) (<-chan VenueQuote, error)

	// OrderEvents streams asynchronous ack/fill/cancel/reject callbacks.
	OrderEvents(ctx context.Context) (<-chan OrderEvent, error)

	// SubmitOrder hands an order to the venue. A transport error leaves the
	// venue-side outcome unknown; callers must reconcile via QueryOrder
	// before retrying the same client order id.
	SubmitOrder(ctx context.Context, order Order) (VenueAck, error)

	// CancelOrder requests cancellation by client order id.
	CancelOrder(ctx context.Context, clientOrderID string) error

	// QueryOrder returns the venue's view of an order, keyed by client order
	// id. Status.Known is false when the venue never received the order.
	QueryOrder(ctx context.Context, clientOrderID string) (OrderStatus, error)
}
