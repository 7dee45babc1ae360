// Package sim provides a deterministic in-process venue used by the paper
// runner and by tests. It implements the full VenueAdapter contract,
// including scripted transport failures and out-of-order callback delivery.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashwalker/pairbot/internal/domain"
)

// Config configures the simulated venue.
type Config struct {
	// AutoFill immediately acks and fully fills every accepted order.
	AutoFill bool
	// EventBuffer sizes the order event channel.
	EventBuffer int
	Logger      *slog.Logger
}

// Venue is an in-memory venue. Unlike the core it may be driven from test
// goroutines, so it carries its own lock.
type Venue struct {
	cfg Config

	mu         sync.Mutex
	orders     map[string]domain.Order
	submits    map[string]int // client order id -> submission count
	nextID     int
	failSubmit error
	dropAcks   bool

	events chan domain.OrderEvent
	quotes chan domain.VenueQuote

	logger *slog.Logger
}

// New creates a simulated venue.
func New(cfg Config) *Venue {
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Venue{
		cfg:     cfg,
		orders:  make(map[string]domain.Order),
		submits: make(map[string]int),
		events:  make(chan domain.OrderEvent, cfg.EventBuffer),
		quotes:  make(chan domain.VenueQuote, cfg.EventBuffer),
		logger:  logger.With(slog.String("component", "sim_venue")),
	}
}

// Name implements domain.VenueAdapter.
func (v *Venue) Name() string { return "sim" }

// Subscribe implements domain.VenueAdapter. All instruments share one quote
// channel; the generator decides what flows through it.
func (v *Venue) Subscribe(ctx context.Context, _ []domain.InstrumentID) (<-chan domain.VenueQuote, error) {
	return v.quotes, nil
}

// OrderEvents implements domain.VenueAdapter.
func (v *Venue) OrderEvents(ctx context.Context) (<-chan domain.OrderEvent, error) {
	return v.events, nil
}

// SubmitOrder implements domain.VenueAdapter. When a transport failure is
// scripted via FailNextSubmit the order may still have landed, mirroring a
// real venue's behavior under a client-side timeout.
func (v *Venue) SubmitOrder(ctx context.Context, order domain.Order) (domain.VenueAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if err := v.failSubmit; err != nil {
		v.failSubmit = nil
		return domain.VenueAck{}, &domain.TransportError{Op: "submit_order", Err: err}
	}

	v.submits[order.ClientOrderID]++
	if _, exists := v.orders[order.ClientOrderID]; exists {
		// Idempotent resubmission: same client order id never creates a
		// second venue order.
		stored := v.orders[order.ClientOrderID]
		return domain.VenueAck{
			ClientOrderID: order.ClientOrderID,
			VenueOrderID:  stored.VenueOrderID,
			Accepted:      true,
		}, nil
	}

	v.nextID++
	order.VenueOrderID = fmt.Sprintf("sim-%d", v.nextID)
	order.State = domain.OrderStateAcknowledged
	v.orders[order.ClientOrderID] = order

	ack := domain.VenueAck{
		ClientOrderID: order.ClientOrderID,
		VenueOrderID:  order.VenueOrderID,
		Accepted:      true,
	}

	if !v.dropAcks {
		v.push(domain.OrderEvent{
			ClientOrderID: order.ClientOrderID,
			VenueOrderID:  order.VenueOrderID,
			Kind:          domain.OrderEventAck,
			Timestamp:     time.Now(),
		})
	}
	if v.cfg.AutoFill {
		stored := v.orders[order.ClientOrderID]
		stored.State = domain.OrderStateFilled
		stored.FilledSize = stored.Size
		stored.AvgFillPrice = stored.Price
		v.orders[order.ClientOrderID] = stored
		v.push(domain.OrderEvent{
			ClientOrderID: order.ClientOrderID,
			VenueOrderID:  order.VenueOrderID,
			Kind:          domain.OrderEventFill,
			FillPrice:     order.Price,
			FillSize:      order.Size,
			Timestamp:     time.Now(),
		})
	}
	return ack, nil
}

// CancelOrder implements domain.VenueAdapter.
func (v *Venue) CancelOrder(ctx context.Context, clientOrderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	order, ok := v.orders[clientOrderID]
	if !ok {
		return fmt.Errorf("sim: %w: %s", domain.ErrUnknownOrder, clientOrderID)
	}
	if order.State.Terminal() {
		return nil
	}
	order.State = domain.OrderStateCancelled
	v.orders[clientOrderID] = order
	v.push(domain.OrderEvent{
		ClientOrderID: clientOrderID,
		VenueOrderID:  order.VenueOrderID,
		Kind:          domain.OrderEventCancelled,
		Timestamp:     time.Now(),
	})
	return nil
}

// QueryOrder implements domain.VenueAdapter.
func (v *Venue) QueryOrder(ctx context.Context, clientOrderID string) (domain.OrderStatus, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	order, ok := v.orders[clientOrderID]
	if !ok {
		return domain.OrderStatus{ClientOrderID: clientOrderID, Known: false}, nil
	}
	return domain.OrderStatus{
		ClientOrderID: clientOrderID,
		VenueOrderID:  order.VenueOrderID,
		Known:         true,
		State:         order.State,
		FilledSize:    order.FilledSize,
		AvgFillPrice:  order.AvgFillPrice,
	}, nil
}

// ---------------------------------------------------------------------------
// Test and generator hooks.
// ---------------------------------------------------------------------------

// EmitQuote pushes a quote into the subscription stream.
func (v *Venue) EmitQuote(q domain.VenueQuote) {
	v.quotes <- q
}

// EmitEvent pushes a raw order event, allowing tests to script out-of-order
// or duplicate callbacks.
func (v *Venue) EmitEvent(ev domain.OrderEvent) {
	v.push(ev)
}

// FailNextSubmit makes the next SubmitOrder return a TransportError. When
// landed is true the order is recorded server-side anyway, modeling a
// submission that succeeded despite the client-observed failure.
func (v *Venue) FailNextSubmit(cause error, landed bool, order *domain.Order) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.failSubmit = cause
	if landed && order != nil {
		v.nextID++
		stored := *order
		stored.VenueOrderID = fmt.Sprintf("sim-%d", v.nextID)
		stored.State = domain.OrderStateAcknowledged
		v.orders[stored.ClientOrderID] = stored
	}
}

// DropAcks suppresses ack events so tests can deliver fills first.
func (v *Venue) DropAcks(drop bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.dropAcks = drop
}

// Submissions returns how many times a client order id was submitted.
func (v *Venue) Submissions(clientOrderID string) int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.submits[clientOrderID]
}

// Close shuts the outbound channels.
func (v *Venue) Close() {
	close(v.quotes)
	close(v.events)
}

func (v *Venue) push(ev domain.OrderEvent) {
	select {
	case v.events <- ev:
	default:
		// Order events are never safe to drop; block rather than lose one.
		v.events <- ev
	}
}
