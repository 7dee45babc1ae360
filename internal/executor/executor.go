// Package executor owns the order lifecycle state machine: it sizes and
// routes orders for accepted opportunities, enforces exposure limits, and
// reconciles order state with the venue after transport failures.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ashwalker/pairbot/internal/domain"
	"github.com/ashwalker/pairbot/internal/marketdata"
)

// Config configures the executor.
type Config struct {
	// RetryBudget bounds query-then-act reconciliation attempts per order.
	RetryBudget int
	Instruments map[domain.InstrumentID]domain.Instrument
	// OnTerminal, when set, receives a copy of every order reaching a
	// terminal state. It runs on the core loop and must not block.
	OnTerminal func(domain.Order)
	Logger     *slog.Logger
}

// Executor turns ranked opportunities into venue orders and applies
// asynchronous order callbacks. All methods run on the single-threaded core
// loop; the executor holds no locks.
type Executor struct {
	venue domain.VenueAdapter
	store *marketdata.Store
	risk  *RiskManager
	book  *PositionBook
	sink  domain.TelemetrySink

	orders      map[string]*domain.Order // by client order id
	oppExpiry   map[string]time.Time     // client order id -> opportunity expiry
	instruments map[domain.InstrumentID]domain.Instrument
	retryBudget int
	onTerminal  func(domain.Order)

	logger *slog.Logger
	now    func() time.Time
}

// New creates an Executor. The sink receives a row for every generated
// discard, risk rejection, and terminal order state.
func New(cfg Config, venue domain.VenueAdapter, store *marketdata.Store, risk *RiskManager, book *PositionBook, sink domain.TelemetrySink) *Executor {
	return &Executor{
		venue:       venue,
		store:       store,
		risk:        risk,
		book:        book,
		sink:        sink,
		orders:      make(map[string]*domain.Order),
		oppExpiry:   make(map[string]time.Time),
		instruments: cfg.Instruments,
		retryBudget: cfg.RetryBudget,
		onTerminal:  cfg.OnTerminal,
		logger:      cfg.Logger.With(slog.String("component", "executor")),
		now:         time.Now,
	}
}

// Positions returns the executor's position book.
func (e *Executor) Positions() *PositionBook { return e.book }

// Order returns the executor's view of an order by client order id.
func (e *Executor) Order(clientOrderID string) (domain.Order, bool) {
	o, ok := e.orders[clientOrderID]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// OpenOrders returns all non-terminal orders.
func (e *Executor) OpenOrders() []domain.Order {
	var out []domain.Order
	for _, o := range e.orders {
		if !o.State.Terminal() {
			out = append(out, *o)
		}
	}
	return out
}

/// ExecuteOpportunity acts on one opportunity: expiry is re-checked lazily
// here, sizing is clamped to min(required size, remaining risk budget, book
// depth at the target price), and both legs are submitted with client order
// ids minted before any network call.
func (e *Executor) ExecuteOpportunity(ctx context.Context, opp domain.Opportunity) error {
	now := e.now()
	log := e.logger.With(slog.String("opp_id", opp.ID), slog.String("group", opp.GroupID))

	if opp.Expired(now) {
		log.Warn("opportunity expired before execution",
			slog.Time("expires_at", opp.ExpiresAt),
		)
		e.record(ctx, domain.TelemetryEvent{
			Timestamp: now,
			Kind:      domain.TelemetryOppDiscarded,
			GroupID:   opp.GroupID,
			OrderID:   opp.ID,
			Edge:      opp.ExpectedEdge,
			Detail:    "expired",
		})
		return domain.ErrExpiredOpportunity
	}

	// One open order per instrument: a repeat emission while a leg is still
	// working would stack exposure on the same signal.
	for _, instr := range []domain.InstrumentID{opp.Dependent, opp.Reference} {
		if cid, ok := e.openOrderOn(instr); ok {
			log.Info("opportunity discarded, instrument has a working order",
				slog.String("instrument", string(instr)),
				slog.String("client_order_id", cid),
			)
			e.record(ctx, domain.TelemetryEvent{
				Timestamp:  now,
				Kind:       domain.TelemetryOppDiscarded,
				GroupID:    opp.GroupID,
				Instrument: instr,
				OrderID:    opp.ID,
				Edge:       opp.ExpectedEdge,
				Detail:     "open order on instrument",
			})
			return fmt.Errorf("executor: %s has working order %s: %w",
				instr, cid, domain.ErrDuplicateOrder)
		}
	}

	legs, err := e.sizeLegs(opp)
	if err != nil {
		log.Warn("opportunity discarded at sizing", slog.String("error", err.Error()))
		e.record(ctx, domain.TelemetryEvent{
			Timestamp: now,
			Kind:      domain.TelemetryOppDiscarded,
			GroupID:   opp.GroupID,
			OrderID:   opp.ID,
			Edge:      opp.ExpectedEdge,
			Detail:    err.Error(),
		})
		return err
	}

	if err := e.risk.PreTradeCheck(legs); err != nil {
		log.Warn("pre-trade risk check failed", slog.String("error", err.Error()))
		e.record(ctx, domain.TelemetryEvent{
			Timestamp: now,
			Kind:      domain.TelemetryRiskRejected,
			GroupID:   opp.GroupID,
			OrderID:   opp.ID,
			Edge:      opp.ExpectedEdge,
			Detail:    err.Error(),
		})
		return err
	}

	for i := range legs {
		leg := legs[i]
		o := &leg
		e.orders[o.ClientOrderID] = o
		e.oppExpiry[o.ClientOrderID] = opp.ExpiresAt
		if err := e.submit(ctx, o); err != nil {
			log.Error("leg submission failed",
				slog.String("client_order_id", o.ClientOrderID),
				slog.String("error", err.Error()),
			)
			// The remaining legs are still submitted; an unhedged remainder
			// is handled by the expiry sweep and position reconciliation.
		}
	}
	return nil
}

// openOrderOn returns the client order id of a non-terminal order resting on
// the given instrument, if any.
func (e *Executor) openOrderOn(id domain.InstrumentID) (string, bool) {
	for cid, o := range e.orders {
		if o.Instrument == id && !o.State.Terminal() {
			return cid, true
		}
	}
	return "", false
}

// sizeLegs builds both orders for an opportunity. The dependent leg trades
// `size` units; the reference hedge trades size * |hedge ratio| units.
func (e *Executor) sizeLegs(opp domain.Opportunity) ([]domain.Order, error) {
	depSnap, ok := e.store.Latest(opp.Dependent)
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s", opp.Dependent)
	}
	refSnap, ok := e.store.Latest(opp.Reference)
	if !ok {
		return nil, fmt.Errorf("no snapshot for %s", opp.Reference)
	}

	hedge := abs(opp.HedgeRatio)
	if hedge <= 0 {
		return nil, fmt.Errorf("degenerate hedge ratio %.6f", opp.HedgeRatio)
	}

	depSide := domain.OrderSideSell
	refSide := domain.OrderSideBuy
	if opp.BuyInstrument == opp.Dependent {
		depSide = domain.OrderSideBuy
		refSide = domain.OrderSideSell
	}

	depBudget, err := e.risk.BudgetUnits(opp.Dependent, depSide)
	if err != nil {
		return nil, err
	}
	refBudget, err := e.risk.BudgetUnits(opp.Reference, refSide)
	if err != nil {
		return nil, err
	}

	// All clamps expressed in dependent units.
	size := opp.RequiredSize
	size = min(size, depBudget)
	size = min(size, refBudget/hedge)
	size = min(size, depthAt(depSnap, depSide))
	size = min(size, depthAt(refSnap, refSide)/hedge)

	depInstr := e.instruments[opp.Dependent]
	refInstr := e.instruments[opp.Reference]
	if size <= 0 || size < depInstr.MinOrderSize || size*hedge < refInstr.MinOrderSize {
		return nil, fmt.Errorf("sized down to %.8f dependent units, below minimum", size)
	}

	now := e.now()
	depOrder := domain.Order{
		ClientOrderID: uuid.NewString(),
		Instrument:    opp.Dependent,
		GroupID:       opp.GroupID,
		OpportunityID: opp.ID,
		Side:          depSide,
		Price:         depInstr.RoundToTick(crossPrice(depSnap, depSide)),
		Size:          size,
		State:         domain.OrderStateCreated,
		CreatedAt:     now,
		LastUpdateAt:  now,
	}
	refOrder := domain.Order{
		ClientOrderID: uuid.NewString(),
		Instrument:    opp.Reference,
		GroupID:       opp.GroupID,
		OpportunityID: opp.ID,
		Side:          refSide,
		Price:         refInstr.RoundToTick(crossPrice(refSnap, refSide)),
		Size:          size * hedge,
		State:         domain.OrderStateCreated,
		CreatedAt:     now,
		LastUpdateAt:  now,
	}
	// Sell leg first: collecting the rich side before paying for the hedge
	// keeps the worst case an unhedged short premium rather than a long.
	if depSide == domain.OrderSideSell {
		return []domain.Order{depOrder, refOrder}, nil
	}
	return []domain.Order{refOrder, depOrder}, nil
}

// submit hands an order to the venue, moving Created -> Submitted. A
// transport failure triggers the idempotent query-then-act protocol: the
// original call may have succeeded server-side, so the engine queries by
// client order id before resubmitting, bounded by the retry budget.
func (e *Executor) submit(ctx context.Context, o *domain.Order) error {
	if err := e.transition(o, domain.OrderStateSubmitted); err != nil {
		return err
	}
	o.SubmittedAt = e.now()

	attempts := 0
	for {
		ack, err := e.venue.SubmitOrder(ctx, *o)
		if err == nil {
			if !ack.Accepted {
				e.reject(ctx, o, ack.Reason, false)
				return &domain.VenueRejection{ClientOrderID: o.ClientOrderID, Reason: ack.Reason}
			}
			if ack.VenueOrderID != "" {
				o.VenueOrderID = ack.VenueOrderID
			}
			return nil
		}
		if !domain.IsTransport(err) {
			e.reject(ctx, o, err.Error(), false)
			return err
		}

		// Transport failure: outcome unknown. Query before acting.
		for attempts < e.retryBudget {
			attempts++
			status, qerr := e.venue.QueryOrder(ctx, o.ClientOrderID)
			if qerr != nil {
				continue
			}
			if status.Known {
				// The original submission landed; adopt the venue's view.
				e.adoptStatus(ctx, o, status)
				return nil
			}
			break // venue never saw the order: safe to resubmit
		}
		if attempts >= e.retryBudget {
			e.logger.Error("retry budget exhausted, order needs reconciliation",
				slog.String("client_order_id", o.ClientOrderID),
				slog.Int("attempts", attempts),
			)
			e.reject(ctx, o, "retry budget exhausted", true)
			return fmt.Errorf("executor: submit %s: retry budget exhausted: %w", o.ClientOrderID, err)
		}
	}
}

// adoptStatus folds a query_order response into the local order, advancing
// the state machine monotonically.
func (e *Executor) adoptStatus(ctx context.Context, o *domain.Order, status domain.OrderStatus) {
	if status.VenueOrderID != "" {
		o.VenueOrderID = status.VenueOrderID
	}
	if status.FilledSize > o.FilledSize {
		delta := status.FilledSize - o.FilledSize
		price := status.AvgFillPrice
		if price <= 0 {
			price = o.Price
		}
		e.book.ApplyFill(o.Instrument, o.Side, price, delta)
		o.FilledSize = status.FilledSize
		o.AvgFillPrice = status.AvgFillPrice
	}
	if status.State != "" && status.State != o.State {
		if err := e.transition(o, status.State); err != nil {
			e.logger.Warn("reconciled state not adoptable",
				slog.String("client_order_id", o.ClientOrderID),
				slog.String("from", string(o.State)),
				slog.String("to", string(status.State)),
			)
			return
		}
		if o.State.Terminal() {
			e.recordTerminal(ctx, o)
		}
	}
}

// HandleOrderEvent applies one asynchronous venue callback. Events for
// terminal orders are no-ops; out-of-order delivery is normalized by the
// transition table (a fill observed before its ack advances straight to the
// fill state).
func (e *Executor) HandleOrderEvent(ctx context.Context, ev domain.OrderEvent) {
	o, ok := e.orders[ev.ClientOrderID]
	if !ok {
		e.logger.Warn("order event for unknown order",
			slog.String("client_order_id", ev.ClientOrderID),
			slog.String("kind", string(ev.Kind)),
		)
		return
	}
	if o.State.Terminal() {
		// Monotonicity: once terminal, subsequent callbacks are no-ops.
		return
	}
	if ev.VenueOrderID != "" {
		o.VenueOrderID = ev.VenueOrderID
	}

	switch ev.Kind {
	case domain.OrderEventAck:
		if err := e.transition(o, domain.OrderStateAcknowledged); err != nil {
			e.logger.Warn("dropping stale ack",
				slog.String("client_order_id", o.ClientOrderID),
				slog.String("state", string(o.State)),
			)
		}

	case domain.OrderEventFill:
		if ev.FillSize <= 0 {
			return
		}
		filled := o.FilledSize + ev.FillSize
		if filled > o.Size {
			filled = o.Size
		}
		delta := filled - o.FilledSize
		if delta <= 0 {
			// Duplicate or regressed fill report; size filled never goes
			// backwards.
			return
		}
		price := ev.FillPrice
		if price <= 0 {
			price = o.Price
		}
		o.AvgFillPrice = (o.AvgFillPrice*o.FilledSize + price*delta) / filled
		o.FilledSize = filled
		e.book.ApplyFill(o.Instrument, o.Side, price, delta)

		next := domain.OrderStatePartiallyFilled
		if o.FilledSize >= o.Size {
			next = domain.OrderStateFilled
		}
		if err := e.transition(o, next); err != nil {
			e.logger.Error("fill transition rejected",
				slog.String("client_order_id", o.ClientOrderID),
				slog.String("error", err.Error()),
			)
			return
		}
		if o.State.Terminal() {
			e.recordTerminal(ctx, o)
		}

	case domain.OrderEventCancelled:
		if err := e.transition(o, domain.OrderStateCancelled); err == nil {
			e.recordTerminal(ctx, o)
		}

	case domain.OrderEventRejected:
		e.reject(ctx, o, ev.Reason, false)
	}
}

// SweepExpired cancels resting unfilled orders whose opportunity expiry has
// passed. Expiry is advisory and checked lazily; there is no timer per
// order.
func (e *Executor) SweepExpired(ctx context.Context) {
	now := e.now()
	for id, o := range e.orders {
		if o.State.Terminal() {
			continue
		}
		expiry, ok := e.oppExpiry[id]
		if !ok || expiry.IsZero() || now.Before(expiry) {
			continue
		}
		if o.FilledSize > 0 {
			// Partially filled legs are left to complete; cancelling half a
			// hedge is worse than finishing it.
			continue
		}
		if err := e.venue.CancelOrder(ctx, id); err != nil {
			e.logger.Warn("expiry cancel failed",
				slog.String("client_order_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		e.logger.Info("cancelled expired unfilled order",
			slog.String("client_order_id", id),
			slog.String("group", o.GroupID),
		)
	}
}

// transition advances the order state machine, failing loudly on any step
// not present in the transition table.
func (e *Executor) transition(o *domain.Order, to domain.OrderState) error {
	if !domain.CanTransition(o.State, to) {
		return fmt.Errorf("%w: %s -> %s (order %s)",
			domain.ErrInvalidTransition, o.State, to, o.ClientOrderID)
	}
	o.State = to
	o.LastUpdateAt = e.now()
	return nil
}

// reject forces an order into the Rejected state from any non-terminal
// state and records it.
func (e *Executor) reject(ctx context.Context, o *domain.Order, reason string, needsReconcile bool) {
	if o.State.Terminal() {
		return
	}
	o.ReconcileNeeded = needsReconcile
	if err := e.transition(o, domain.OrderStateRejected); err != nil {
		e.logger.Error("reject transition failed", slog.String("error", err.Error()))
		return
	}
	e.logger.Warn("order rejected",
		slog.String("client_order_id", o.ClientOrderID),
		slog.String("reason", reason),
		slog.Bool("needs_reconcile", needsReconcile),
	)
	e.recordTerminal(ctx, o)
}

// recordTerminal emits the telemetry row for a terminal order state and
// hands a copy to the terminal hook for persistence.
func (e *Executor) recordTerminal(ctx context.Context, o *domain.Order) {
	if e.onTerminal != nil {
		e.onTerminal(*o)
	}
	detail := ""
	if o.ReconcileNeeded {
		detail = "needs_reconcile"
	}
	e.record(ctx, domain.TelemetryEvent{
		Timestamp:  e.now(),
		Kind:       domain.TelemetryOrderTerminal,
		GroupID:    o.GroupID,
		Instrument: o.Instrument,
		OrderID:    o.ClientOrderID,
		Side:       o.Side,
		Price:      o.AvgFillPrice,
		Size:       o.FilledSize,
		State:      string(o.State),
		Detail:     detail,
	})
}

func (e *Executor) record(ctx context.Context, ev domain.TelemetryEvent) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Record(ctx, ev); err != nil && !errors.Is(err, context.Canceled) {
		e.logger.Warn("telemetry record failed", slog.String("error", err.Error()))
	}
}

func crossPrice(snap domain.MarketSnapshot, side domain.OrderSide) float64 {
	if side == domain.OrderSideBuy {
		return snap.BestAsk
	}
	return snap.BestBid
}

func depthAt(snap domain.MarketSnapshot, side domain.OrderSide) float64 {
	if side == domain.OrderSideBuy {
		return snap.AskSize
	}
	return snap.BidSize
}
