package executor

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwalker/pairbot/internal/domain"
	"github.com/ashwalker/pairbot/internal/marketdata"
	"github.com/ashwalker/pairbot/internal/venue/sim"
)

var (
	refID = domain.MakeInstrumentID("sim", "REF")
	depID = domain.MakeInstrumentID("sim", "DEP")
)

type captureSink struct {
	events []domain.TelemetryEvent
}

func (c *captureSink) Record(_ context.Context, ev domain.TelemetryEvent) error {
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) kinds() []domain.TelemetryKind {
	out := make([]domain.TelemetryKind, 0, len(c.events))
	for _, ev := range c.events {
		out = append(out, ev.Kind)
	}
	return out
}

func testInstruments() map[domain.InstrumentID]domain.Instrument {
	return map[domain.InstrumentID]domain.Instrument{
		refID: domain.NewInstrument("sim", "REF", 0.01, 0.1),
		depID: domain.NewInstrument("sim", "DEP", 0.01, 0.1),
	}
}

func applySnapshots(t *testing.T, store *marketdata.Store, ts time.Time, depth float64) {
	t.Helper()
	require.NoError(t, store.Apply(domain.VenueQuote{
		Instrument: refID, Bid: 99.99, Ask: 100.01,
		BidSize: depth, AskSize: depth, Sequence: 1, Timestamp: ts,
	}))
	require.NoError(t, store.Apply(domain.VenueQuote{
		Instrument: depID, Bid: 205.99, Ask: 206.01,
		BidSize: depth, AskSize: depth, Sequence: 1, Timestamp: ts,
	}))
}

// richDepOpportunity asks for 5 dependent units: sell the dependent, buy 10
// reference units as the hedge (slope 2).
func richDepOpportunity(ts time.Time) domain.Opportunity {
	return domain.Opportunity{
		ID:             "opp-1",
		GroupID:        "g1",
		Generation:     1,
		Reference:      refID,
		Dependent:      depID,
		BuyInstrument:  refID,
		SellInstrument: depID,
		ZScore:         3,
		ExpectedEdge:   2.9,
		RequiredSize:   5,
		RefPrice:       100,
		DepPrice:       206,
		HedgeRatio:     2,
		CreatedAt:      ts,
		ExpiresAt:      ts.Add(time.Minute),
	}
}

func newTestExecutor(t *testing.T, venue domain.VenueAdapter, riskCfg RiskConfig) (*Executor, *marketdata.Store, *captureSink) {
	t.Helper()
	logger := slog.Default()
	store := marketdata.NewStore(logger)
	book := NewPositionBook()
	if riskCfg.MaxInstrumentNotional == 0 {
		riskCfg.MaxInstrumentNotional = 1e9
	}
	if riskCfg.MaxAggregateNotional == 0 {
		riskCfg.MaxAggregateNotional = 1e9
	}
	if riskCfg.MaxSnapshotAge == 0 {
		riskCfg.MaxSnapshotAge = time.Minute
	}
	risk := NewRiskManager(riskCfg, book, store, logger)
	sink := &captureSink{}
	exec := New(Config{
		RetryBudget: 3,
		Instruments: testInstruments(),
		Logger:      logger,
	}, venue, store, risk, book, sink)
	return exec, store, sink
}

// drainEvents applies every pending venue callback to the executor.
func drainEvents(t *testing.T, exec *Executor, events <-chan domain.OrderEvent) {
	t.Helper()
	for {
		select {
		case ev := <-events:
			exec.HandleOrderEvent(context.Background(), ev)
		default:
			return
		}
	}
}

// orderFor scans all tracked orders, terminal ones included.
func orderFor(exec *Executor, id domain.InstrumentID) (domain.Order, bool) {
	for _, o := range exec.orders {
		if o.Instrument == id {
			return *o, true
		}
	}
	return domain.Order{}, false
}

func openOrderByInstrument(t *testing.T, exec *Executor, id domain.InstrumentID) domain.Order {
	t.Helper()
	for _, o := range exec.OpenOrders() {
		if o.Instrument == id {
			return o
		}
	}
	t.Fatalf("no open order for %s", id)
	return domain.Order{}
}

func TestExecuteOpportunitySubmitsBothLegs(t *testing.T) {
	venue := sim.New(sim.Config{Logger: slog.Default()})
	exec, store, _ := newTestExecutor(t, venue, RiskConfig{})
	base := time.Now()
	applySnapshots(t, store, base, 100)

	require.NoError(t, exec.ExecuteOpportunity(context.Background(), richDepOpportunity(base)))

	open := exec.OpenOrders()
	require.Len(t, open, 2)

	depLeg := openOrderByInstrument(t, exec, depID)
	assert.Equal(t, domain.OrderSideSell, depLeg.Side)
	assert.InDelta(t, 5.0, depLeg.Size, 1e-9)
	assert.InDelta(t, 205.99, depLeg.Price, 1e-9, "sell crosses to the bid")

	refLeg := openOrderByInstrument(t, exec, refID)
	assert.Equal(t, domain.OrderSideBuy, refLeg.Side)
	assert.InDelta(t, 10.0, refLeg.Size, 1e-9, "hedge trades slope times the dependent size")
	assert.InDelta(t, 100.01, refLeg.Price, 1e-9, "buy crosses to the ask")

	events, err := venue.OrderEvents(context.Background())
	require.NoError(t, err)
	drainEvents(t, exec, events)

	depLeg, ok := exec.Order(depLeg.ClientOrderID)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStateAcknowledged, depLeg.State)
}

func TestAutoFillReachesTerminalAndUpdatesPositions(t *testing.T) {
	venue := sim.New(sim.Config{AutoFill: true, Logger: slog.Default()})
	exec, store, sink := newTestExecutor(t, venue, RiskConfig{})
	base := time.Now()
	applySnapshots(t, store, base, 100)

	var terminal []domain.Order
	exec.onTerminal = func(o domain.Order) { terminal = append(terminal, o) }

	require.NoError(t, exec.ExecuteOpportunity(context.Background(), richDepOpportunity(base)))

	events, err := venue.OrderEvents(context.Background())
	require.NoError(t, err)
	drainEvents(t, exec, events)

	assert.Empty(t, exec.OpenOrders())
	require.Len(t, terminal, 2)
	for _, o := range terminal {
		assert.Equal(t, domain.OrderStateFilled, o.State)
	}

	dep := exec.Positions().Get(depID)
	assert.InDelta(t, -5.0, dep.Size, 1e-9)
	ref := exec.Positions().Get(refID)
	assert.InDelta(t, 10.0, ref.Size, 1e-9)

	assert.Contains(t, sink.kinds(), domain.TelemetryOrderTerminal)
}

func TestFillBeforeAckAdvancesStateMachine(t *testing.T) {
	venue := sim.New(sim.Config{Logger: slog.Default()})
	venue.DropAcks(true)
	exec, store, _ := newTestExecutor(t, venue, RiskConfig{})
	base := time.Now()
	applySnapshots(t, store, base, 100)

	require.NoError(t, exec.ExecuteOpportunity(context.Background(), richDepOpportunity(base)))
	depLeg := openOrderByInstrument(t, exec, depID)

	// The fill arrives before any ack was observed.
	exec.HandleOrderEvent(context.Background(), domain.OrderEvent{
		ClientOrderID: depLeg.ClientOrderID,
		Kind:          domain.OrderEventFill,
		FillPrice:     205.99,
		FillSize:      5,
		Timestamp:     time.Now(),
	})

	o, ok := exec.Order(depLeg.ClientOrderID)
	require.True(t, ok)
	assert.Equal(t, domain.OrderStateFilled, o.State)

	// A late ack after the terminal state is a no-op.
	exec.HandleOrderEvent(context.Background(), domain.OrderEvent{
		ClientOrderID: depLeg.ClientOrderID,
		Kind:          domain.OrderEventAck,
		Timestamp:     time.Now(),
	})
	o, _ = exec.Order(depLeg.ClientOrderID)
	assert.Equal(t, domain.OrderStateFilled, o.State)
}

func TestPartialFillsAccumulate(t *testing.T) {
	venue := sim.New(sim.Config{Logger: slog.Default()})
	exec, store, _ := newTestExecutor(t, venue, RiskConfig{})
	base := time.Now()
	applySnapshots(t, store, base, 100)

	require.NoError(t, exec.ExecuteOpportunity(context.Background(), richDepOpportunity(base)))
	events, err := venue.OrderEvents(context.Background())
	require.NoError(t, err)
	drainEvents(t, exec, events)

	depLeg := openOrderByInstrument(t, exec, depID)
	fill := func(price, size float64) {
		exec.HandleOrderEvent(context.Background(), domain.OrderEvent{
			ClientOrderID: depLeg.ClientOrderID,
			Kind:          domain.OrderEventFill,
			FillPrice:     price,
			FillSize:      size,
			Timestamp:     time.Now(),
		})
	}

	fill(206, 2)
	o, _ := exec.Order(depLeg.ClientOrderID)
	assert.Equal(t, domain.OrderStatePartiallyFilled, o.State)
	assert.InDelta(t, 2.0, o.FilledSize, 1e-9)

	fill(205, 3)
	o, _ = exec.Order(depLeg.ClientOrderID)
	assert.Equal(t, domain.OrderStateFilled, o.State)
	assert.InDelta(t, 5.0, o.FilledSize, 1e-9)
	assert.InDelta(t, (206.0*2+205.0*3)/5, o.AvgFillPrice, 1e-9)

	// A duplicate fill report never regresses the filled size.
	fill(205, 3)
	o, _ = exec.Order(depLeg.ClientOrderID)
	assert.InDelta(t, 5.0, o.FilledSize, 1e-9)
	assert.InDelta(t, -5.0, exec.Positions().Get(depID).Size, 1e-9)
}

func TestTransportFailureResubmitsSameClientOrderID(t *testing.T) {
	venue := sim.New(sim.Config{Logger: slog.Default()})
	exec, store, _ := newTestExecutor(t, venue, RiskConfig{})
	base := time.Now()
	applySnapshots(t, store, base, 100)

	// The venue never saw the first attempt, so a resubmission is safe.
	venue.FailNextSubmit(errors.New("connection reset"), false, nil)

	require.NoError(t, exec.ExecuteOpportunity(context.Background(), richDepOpportunity(base)))

	depLeg := openOrderByInstrument(t, exec, depID)
	assert.Equal(t, 1, venue.Submissions(depLeg.ClientOrderID),
		"the venue must see exactly one submission for the client order id")
}

// flakyVenue reports a transport failure on the first submission even though
// the order landed server-side, mirroring a client-observed timeout.
type flakyVenue struct {
	*sim.Venue
	failed bool
}

func (f *flakyVenue) SubmitOrder(ctx context.Context, order domain.Order) (domain.VenueAck, error) {
	if !f.failed {
		f.failed = true
		_, _ = f.Venue.SubmitOrder(ctx, order)
		return domain.VenueAck{}, &domain.TransportError{Op: "submit_order", Err: errors.New("timeout")}
	}
	return f.Venue.SubmitOrder(ctx, order)
}

func TestTransportFailureLandedAdoptsVenueState(t *testing.T) {
	inner := sim.New(sim.Config{AutoFill: true, Logger: slog.Default()})
	venue := &flakyVenue{Venue: inner}
	exec, store, _ := newTestExecutor(t, venue, RiskConfig{})
	base := time.Now()
	applySnapshots(t, store, base, 100)

	require.NoError(t, exec.ExecuteOpportunity(context.Background(), richDepOpportunity(base)))

	// The first leg's submission landed despite the failure; the query
	// adopted the venue's filled state without a second submission.
	depLeg, found := orderFor(exec, depID)
	require.True(t, found)
	assert.Equal(t, domain.OrderStateFilled, depLeg.State)
	assert.InDelta(t, 5.0, depLeg.FilledSize, 1e-9)
	assert.Equal(t, 1, inner.Submissions(depLeg.ClientOrderID))
	assert.InDelta(t, -5.0, exec.Positions().Get(depID).Size, 1e-9)
}

func TestSizingClampsToDepth(t *testing.T) {
	venue := sim.New(sim.Config{Logger: slog.Default()})
	exec, store, _ := newTestExecutor(t, venue, RiskConfig{})
	base := time.Now()
	applySnapshots(t, store, base, 2) // only 2 units of book depth per side

	require.NoError(t, exec.ExecuteOpportunity(context.Background(), richDepOpportunity(base)))

	depLeg := openOrderByInstrument(t, exec, depID)
	assert.InDelta(t, 1.0, depLeg.Size, 1e-9, "hedge depth of 2 at slope 2 caps the dependent at 1 unit")
	refLeg := openOrderByInstrument(t, exec, refID)
	assert.InDelta(t, 2.0, refLeg.Size, 1e-9)
}

func TestSizingBelowMinimumDiscards(t *testing.T) {
	venue := sim.New(sim.Config{Logger: slog.Default()})
	exec, store, sink := newTestExecutor(t, venue, RiskConfig{})
	base := time.Now()
	applySnapshots(t, store, base, 0.05) // below the 0.1 minimum order size

	err := exec.ExecuteOpportunity(context.Background(), richDepOpportunity(base))
	require.Error(t, err)
	assert.Empty(t, exec.OpenOrders())
	assert.Contains(t, sink.kinds(), domain.TelemetryOppDiscarded)
}

func TestAggregateRiskLimitRejects(t *testing.T) {
	venue := sim.New(sim.Config{Logger: slog.Default()})
	exec, store, sink := newTestExecutor(t, venue, RiskConfig{
		MaxInstrumentNotional: 1_100,
		MaxAggregateNotional:  1_500,
		MaxSnapshotAge:        time.Minute,
	})
	base := time.Now()
	applySnapshots(t, store, base, 100)

	// Per-leg budgets pass, but both legs together breach the aggregate cap.
	err := exec.ExecuteOpportunity(context.Background(), richDepOpportunity(base))
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRiskLimit)
	assert.Empty(t, exec.OpenOrders())
	assert.Contains(t, sink.kinds(), domain.TelemetryRiskRejected)
}

func TestExpiredOpportunityDiscarded(t *testing.T) {
	venue := sim.New(sim.Config{Logger: slog.Default()})
	exec, store, sink := newTestExecutor(t, venue, RiskConfig{})
	base := time.Now()
	applySnapshots(t, store, base, 100)

	opp := richDepOpportunity(base)
	opp.ExpiresAt = base.Add(-time.Millisecond)

	err := exec.ExecuteOpportunity(context.Background(), opp)
	assert.ErrorIs(t, err, domain.ErrExpiredOpportunity)
	assert.Empty(t, exec.OpenOrders())
	assert.Contains(t, sink.kinds(), domain.TelemetryOppDiscarded)
}

func TestSweepExpiredCancelsOnlyUnfilledLegs(t *testing.T) {
	venue := sim.New(sim.Config{Logger: slog.Default()})
	exec, store, _ := newTestExecutor(t, venue, RiskConfig{})
	base := time.Now()
	applySnapshots(t, store, base, 100)

	opp := richDepOpportunity(base)
	opp.ExpiresAt = base.Add(50 * time.Millisecond)
	require.NoError(t, exec.ExecuteOpportunity(context.Background(), opp))

	events, err := venue.OrderEvents(context.Background())
	require.NoError(t, err)
	drainEvents(t, exec, events)

	// Partially fill the dependent leg; the reference hedge stays unfilled.
	depLeg := openOrderByInstrument(t, exec, depID)
	exec.HandleOrderEvent(context.Background(), domain.OrderEvent{
		ClientOrderID: depLeg.ClientOrderID,
		Kind:          domain.OrderEventFill,
		FillPrice:     205.99,
		FillSize:      1,
		Timestamp:     time.Now(),
	})

	// Move the executor clock past the expiry and sweep.
	exec.now = func() time.Time { return base.Add(time.Second) }
	exec.SweepExpired(context.Background())
	drainEvents(t, exec, events)

	depOrder, _ := exec.Order(depLeg.ClientOrderID)
	assert.Equal(t, domain.OrderStatePartiallyFilled, depOrder.State,
		"a partially filled leg is left to complete")

	refLeg, found := orderFor(exec, refID)
	require.True(t, found)
	assert.Equal(t, domain.OrderStateCancelled, refLeg.State)
}

func TestUnknownOrderEventIgnored(t *testing.T) {
	venue := sim.New(sim.Config{Logger: slog.Default()})
	exec, store, _ := newTestExecutor(t, venue, RiskConfig{})
	applySnapshots(t, store, time.Now(), 100)

	// Must not panic or create state.
	exec.HandleOrderEvent(context.Background(), domain.OrderEvent{
		ClientOrderID: "never-seen",
		Kind:          domain.OrderEventFill,
		FillSize:      1,
	})
	assert.Empty(t, exec.OpenOrders())
}

func TestRepeatOpportunityBlockedByWorkingOrders(t *testing.T) {
	venue := sim.New(sim.Config{Logger: slog.Default()})
	exec, store, sink := newTestExecutor(t, venue, RiskConfig{})
	now := time.Now()
	applySnapshots(t, store, now, 50)

	require.NoError(t, exec.ExecuteOpportunity(context.Background(), richDepOpportunity(now)))
	require.Len(t, exec.OpenOrders(), 2)

	// The same signal fires again before either leg finishes working.
	repeat := richDepOpportunity(now)
	repeat.ID = "opp-2"
	err := exec.ExecuteOpportunity(context.Background(), repeat)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDuplicateOrder)
	assert.Len(t, exec.OpenOrders(), 2, "no new legs while the first pair is working")
	assert.Contains(t, sink.kinds(), domain.TelemetryOppDiscarded)
	assert.Equal(t, 1, venue.Submissions(exec.OpenOrders()[0].ClientOrderID))
}
