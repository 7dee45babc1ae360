// Package engine runs the single-threaded core loop: venue quotes flow
// through the snapshot store, the relationship models, the opportunity
// detector, and finally the executor, as plain function calls on one
// goroutine. No core state is shared with other goroutines.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashwalker/pairbot/internal/detector"
	"github.com/ashwalker/pairbot/internal/domain"
	"github.com/ashwalker/pairbot/internal/executor"
	"github.com/ashwalker/pairbot/internal/marketdata"
	"github.com/ashwalker/pairbot/internal/model"
)

// Config configures the core loop.
type Config struct {
	// ExecuteOrders gates the executor: monitor mode detects, records, and
	// publishes but never places orders.
	ExecuteOrders bool
	// ExpirySweep is the interval of the lazy expiry check over resting
	// orders.
	ExpirySweep time.Duration
	// RecordQuotes emits one telemetry row per accepted quote.
	RecordQuotes bool
	Logger       *slog.Logger
}

// Engine wires the core components together and drives them from inbound
// venue events.
type Engine struct {
	cfg     Config
	store   *marketdata.Store
	tracker *model.Tracker
	det     *detector.Detector
	exec    *executor.Executor
	queue   *marketdata.ConflatingQueue
	sink    domain.TelemetrySink
	opps    domain.OpportunityStore // optional persistence, may be nil

	// cycleOpps collects the opportunities produced while applying a single
	// quote, so simultaneous emissions can be ranked before execution.
	cycleOpps []domain.Opportunity

	// degraded holds the groups currently known to be degraded, so the
	// telemetry row fires once per transition instead of once per quote.
	degraded map[string]bool

	logger *slog.Logger
	now    func() time.Time
}

// New creates an Engine. The executor may be nil when cfg.ExecuteOrders is
// false.
func New(
	cfg Config,
	store *marketdata.Store,
	tracker *model.Tracker,
	det *detector.Detector,
	exec *executor.Executor,
	queue *marketdata.ConflatingQueue,
	sink domain.TelemetrySink,
	opps domain.OpportunityStore,
) *Engine {
	e := &Engine{
		cfg:      cfg,
		store:    store,
		tracker:  tracker,
		det:      det,
		exec:     exec,
		queue:    queue,
		sink:     sink,
		opps:     opps,
		degraded: make(map[string]bool),
		logger:   cfg.Logger.With(slog.String("component", "engine")),
		now:      time.Now,
	}
	// Snapshot acceptance notifies the models synchronously (before Apply
	// returns); the resulting updates run through the detector in the same
	// call chain.
	store.Register(marketdata.ListenerFunc(e.onSnapshot))
	return e
}

// onSnapshot is invoked synchronously by the snapshot store for every
// accepted quote. It advances the affected models and collects any
// opportunities for ranking at the end of the cycle.
func (e *Engine) onSnapshot(snap domain.MarketSnapshot) {
	for _, upd := range e.tracker.OnSnapshot(snap) {
		g, ok := e.tracker.Group(upd.GroupID)
		if !ok {
			continue
		}
		opp, ok := e.det.OnModelUpdate(upd, g.Reference(), g.Dependent())
		if !ok {
			continue
		}
		e.cycleOpps = append(e.cycleOpps, opp)
	}
}

// Run drives the loop until ctx is cancelled. Order events always take
// priority over quotes: quotes conflate under backpressure, order callbacks
// never do.
func (e *Engine) Run(ctx context.Context, orderEvents <-chan domain.OrderEvent) error {
	e.logger.Info("engine started",
		slog.Bool("execute_orders", e.cfg.ExecuteOrders),
		slog.Int("groups", e.tracker.Count()),
	)
	defer e.logger.Info("engine stopped")

	sweep := e.cfg.ExpirySweep
	if sweep <= 0 {
		sweep = 250 * time.Millisecond
	}
	sweepTicker := time.NewTicker(sweep)
	defer sweepTicker.Stop()

	for {
		// Drain pending order callbacks before touching market data.
		if !e.drainOrderEvents(ctx, orderEvents) {
			return ctx.Err()
		}

		for {
			quote, ok := e.queue.Pop()
			if !ok {
				break
			}
			e.applyQuote(ctx, quote)
			// Interleave: never let a quote burst starve order callbacks.
			if !e.drainOrderEvents(ctx, orderEvents) {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-orderEvents:
			if !ok {
				return nil
			}
			e.handleOrderEvent(ctx, ev)
		case <-e.queue.Wait():
		case <-sweepTicker.C:
			if e.exec != nil {
				e.exec.SweepExpired(ctx)
			}
		}
	}
}

// drainOrderEvents applies every queued order callback without blocking. It
// returns false when the context is done.
func (e *Engine) drainOrderEvents(ctx context.Context, orderEvents <-chan domain.OrderEvent) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case ev, ok := <-orderEvents:
			if !ok {
				return true
			}
			e.handleOrderEvent(ctx, ev)
		default:
			return true
		}
	}
}

func (e *Engine) handleOrderEvent(ctx context.Context, ev domain.OrderEvent) {
	if e.exec == nil {
		return
	}
	e.exec.HandleOrderEvent(ctx, ev)
}

// applyQuote runs the full chain for one quote: snapshot store, models,
// detector, ranking, executor.
func (e *Engine) applyQuote(ctx context.Context, quote domain.VenueQuote) {
	now := e.now()
	e.cycleOpps = e.cycleOpps[:0]

	if err := e.store.Apply(quote); err != nil {
		if marketdata.IsStale(err) {
			e.logger.Debug("stale quote dropped",
				slog.String("instrument", string(quote.Instrument)),
				slog.Uint64("sequence", quote.Sequence),
			)
			e.record(ctx, domain.TelemetryEvent{
				Timestamp:  now,
				Kind:       domain.TelemetryStaleUpdate,
				Instrument: quote.Instrument,
				Detail:     err.Error(),
			})
		}
		return
	}

	e.det.ObserveLatency(now.Sub(quote.Timestamp))

	// Surface degrade and heal transitions for the groups this quote
	// touched. The groups themselves only suppress emission.
	for _, g := range e.tracker.Touching(quote.Instrument) {
		err := g.Healthy()
		switch {
		case err != nil && !e.degraded[g.ID()]:
			e.degraded[g.ID()] = true
			e.logger.Warn("model degraded", slog.String("group", g.ID()))
			e.record(ctx, domain.TelemetryEvent{
				Timestamp:  now,
				Kind:       domain.TelemetryModelDegraded,
				GroupID:    g.ID(),
				Instrument: quote.Instrument,
				Detail:     err.Error(),
			})
		case err == nil && e.degraded[g.ID()]:
			delete(e.degraded, g.ID())
			e.logger.Info("model healed", slog.String("group", g.ID()))
		}
	}

	if e.cfg.RecordQuotes {
		e.record(ctx, domain.TelemetryEvent{
			Timestamp:  quote.Timestamp,
			Kind:       domain.TelemetryQuote,
			Instrument: quote.Instrument,
			Price:      quote.Mid(),
			Size:       quote.BidSize + quote.AskSize,
		})
	}

	if len(e.cycleOpps) == 0 {
		return
	}

	// Simultaneous emissions are ranked by expected edge; the executor may
	// reject the tail once risk budgets run out.
	detector.Rank(e.cycleOpps)
	for _, opp := range e.cycleOpps {
		e.dispatch(ctx, opp)
	}
	e.cycleOpps = e.cycleOpps[:0]
}

// dispatch records one opportunity and hands it to the executor unless the
// engine is running detection-only, the opportunity is generation-fenced, or
// it already expired.
func (e *Engine) dispatch(ctx context.Context, opp domain.Opportunity) {
	e.record(ctx, domain.TelemetryEvent{
		Timestamp:  opp.CreatedAt,
		Kind:       domain.TelemetryOpportunity,
		GroupID:    opp.GroupID,
		Instrument: opp.Dependent,
		OrderID:    opp.ID,
		Edge:       opp.ExpectedEdge,
		Detail:     string(opp.SellInstrument) + "->" + string(opp.BuyInstrument),
	})
	if e.opps != nil {
		if err := e.opps.Insert(ctx, opp); err != nil {
			e.logger.Warn("opportunity persist failed", slog.String("error", err.Error()))
		}
	}

	if !e.cfg.ExecuteOrders || e.exec == nil {
		return
	}

	// Generation fence: a window reset between detection and execution
	// invalidates the opportunity.
	if g, ok := e.tracker.Group(opp.GroupID); !ok || g.Generation() != opp.Generation {
		e.logger.Info("opportunity fenced by generation",
			slog.String("opp_id", opp.ID),
			slog.Uint64("generation", opp.Generation),
		)
		return
	}

	if err := e.exec.ExecuteOpportunity(ctx, opp); err != nil {
		e.logger.Debug("opportunity not executed",
			slog.String("opp_id", opp.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	if e.opps != nil {
		if err := e.opps.MarkActedOn(ctx, opp.ID); err != nil {
			e.logger.Warn("opportunity mark failed", slog.String("error", err.Error()))
		}
	}
}

// FeedQuotes moves quotes from a venue subscription into the conflating
// queue. It is intended to run on its own goroutine and returns when the
// channel closes or ctx is done.
func (e *Engine) FeedQuotes(ctx context.Context, quotes <-chan domain.VenueQuote) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case q, ok := <-quotes:
			if !ok {
				return nil
			}
			e.queue.Push(q)
		}
	}
}

func (e *Engine) record(ctx context.Context, ev domain.TelemetryEvent) {
	if e.sink == nil {
		return
	}
	if err := e.sink.Record(ctx, ev); err != nil {
		e.logger.Warn("telemetry record failed", slog.String("error", err.Error()))
	}
}
