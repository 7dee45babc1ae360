package domain

import "time"

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderState is the closed set of order lifecycle states. Created is
// transient: an order moves to Submitted in the same loop iteration it is
// created in, with no observable state between.
type OrderState string

const (
	OrderStateCreated         OrderState = "created"
	OrderStateSubmitted       OrderState = "submitted"
	OrderStateAcknowledged    OrderState = "acknowledged"
	OrderStatePartiallyFilled OrderState = "partially_filled"
	OrderStateFilled          OrderState = "filled"
	OrderStateCancelled       OrderState = "cancelled"
	OrderStateRejected        OrderState = "rejected"
)

// Terminal reports whether no further transitions are accepted from this
// state.
func (s OrderState) Terminal() bool {
	switch s {
	case OrderStateFilled, OrderStateCancelled, OrderStateRejected:
		return true
	default:
		return false
	}
}

// orderTransitions is the explicit transition table. A transition absent from
// the table is invalid and must fail loudly.
var orderTransitions = map[OrderState]map[OrderState]bool{
	OrderStateCreated: {
		OrderStateSubmitted: true,
		OrderStateRejected:  true,
		OrderStateCancelled: true,
	},
	OrderStateSubmitted: {
		OrderStateAcknowledged:    true,
		OrderStatePartiallyFilled: true, // fill delivered before its ack
		OrderStateFilled:          true, // fill delivered before its ack
		OrderStateCancelled:       true,
		OrderStateRejected:        true,
	},
	OrderStateAcknowledged: {
		OrderStatePartiallyFilled: true,
		OrderStateFilled:          true,
		OrderStateCancelled:       true,
		OrderStateRejected:        true,
	},
	OrderStatePartiallyFilled: {
		OrderStateAcknowledged:    true, // venue restated an ack after partial fill
		OrderStatePartiallyFilled: true,
		OrderStateFilled:          true,
		OrderStateCancelled:       true,
		OrderStateRejected:        true,
	},
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to OrderState) bool {
	return orderTransitions[from][to]
}

// Order is a single venue order, owned exclusively by the execution engine
// for its full lifecycle. ClientOrderID is assigned before any network call
// so a resubmission after a client-observed failure is idempotent.
type Order struct {
	ClientOrderID string
	VenueOrderID  string
	Instrument    InstrumentID
	GroupID       string
	OpportunityID string
	Side          OrderSide
	Price         float64
	Size          float64
	FilledSize    float64
	AvgFillPrice  float64
	State         OrderState
	// ReconcileNeeded marks orders whose venue-side state could not be
	// confirmed before the retry budget ran out.
	ReconcileNeeded bool
	CreatedAt       time.Time
	SubmittedAt     time.Time
	LastUpdateAt    time.Time
}

// Remaining returns the unfilled portion of the order.
func (o Order) Remaining() float64 {
	r := o.Size - o.FilledSize
	if r < 0 {
		return 0
	}
	return r
}

// OrderEventKind classifies asynchronous order callbacks from a venue.
type OrderEventKind string

const (
	OrderEventAck       OrderEventKind = "ack"
	OrderEventFill      OrderEventKind = "fill"
	OrderEventCancelled OrderEventKind = "cancelled"
	OrderEventRejected  OrderEventKind = "rejected"
)

// OrderEvent is an asynchronous ack/fill/cancel/reject notification keyed by
// client order id. Order events are never conflated or dropped.
type OrderEvent struct {
	ClientOrderID string
	VenueOrderID  string
	Kind          OrderEventKind
	FillPrice     float64
	FillSize      float64
	Reason        string
	Timestamp     time.Time
}

// OrderStatus is the venue's answer to a query_order reconciliation call.
type OrderStatus struct {
	ClientOrderID string
	VenueOrderID  string
	Known         bool // false: the venue never saw this client order id
	State         OrderState
	FilledSize    float64
	AvgFillPrice  float64
}
