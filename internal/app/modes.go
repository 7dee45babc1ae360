package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ashwalker/pairbot/internal/cache/redis"
	"github.com/ashwalker/pairbot/internal/config"
	"github.com/ashwalker/pairbot/internal/detector"
	"github.com/ashwalker/pairbot/internal/domain"
	"github.com/ashwalker/pairbot/internal/engine"
	"github.com/ashwalker/pairbot/internal/executor"
	"github.com/ashwalker/pairbot/internal/marketdata"
	"github.com/ashwalker/pairbot/internal/model"
	"github.com/ashwalker/pairbot/internal/telemetry"
	"github.com/ashwalker/pairbot/internal/venue/binance"
	"github.com/ashwalker/pairbot/internal/venue/sim"
)

// core bundles the single-threaded loop components for one run.
type core struct {
	store   *marketdata.Store
	tracker *model.Tracker
	queue   *marketdata.ConflatingQueue
	engine  *engine.Engine
	venue   domain.VenueAdapter
	journal *orderJournal
}

// TradeMode runs full detection and execution against the configured venue.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	venue, err := a.buildVenue()
	if err != nil {
		return err
	}
	c, err := a.buildCore(deps, venue, true)
	if err != nil {
		return err
	}
	return a.runCore(ctx, deps, c, true)
}

// MonitorMode runs detection only: opportunities are recorded and published
// but no orders are ever placed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	venue, err := a.buildVenue()
	if err != nil {
		return err
	}
	c, err := a.buildCore(deps, venue, false)
	if err != nil {
		return err
	}
	return a.runCore(ctx, deps, c, false)
}

// PaperMode runs the full trading stack against the in-process simulated
// venue, with a synthetic correlated feed per group.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	simVenue := sim.New(sim.Config{AutoFill: true, Logger: a.logger})
	c, err := a.buildCore(deps, simVenue, true)
	if err != nil {
		return err
	}

	g, runCtx := errgroup.WithContext(ctx)
	for i, group := range a.cfg.Groups {
		gen := sim.NewGenerator(sim.GeneratorConfig{
			Reference:  instrumentID(group.Reference),
			Dependent:  instrumentID(group.Dependent),
			RefStart:   100,
			Slope:      2,
			Intercept:  3,
			WalkStd:    0.05,
			NoiseStd:   0.02,
			ShockProb:  0.002,
			ShockSize:  0.5,
			HalfSpread: 0.01,
			Depth:      50,
			Seed:       int64(i + 1),
			Logger:     a.logger,
		}, simVenue)
		g.Go(func() error { return gen.Run(runCtx) })
	}
	g.Go(func() error { return a.runCore(runCtx, deps, c, true) })
	return g.Wait()
}

// buildVenue creates the venue adapter named in configuration.
func (a *App) buildVenue() (domain.VenueAdapter, error) {
	switch a.cfg.Engine.Venue {
	case "binance":
		return binance.New(binance.Config{
			WsHost:    a.cfg.Binance.WsHost,
			RestHost:  a.cfg.Binance.RestHost,
			ApiKey:    a.cfg.Binance.ApiKey,
			ApiSecret: a.cfg.Binance.ApiSecret,
			Logger:    a.logger,
		}), nil
	case "sim":
		return sim.New(sim.Config{AutoFill: true, Logger: a.logger}), nil
	default:
		return nil, fmt.Errorf("app: unsupported venue %q", a.cfg.Engine.Venue)
	}
}

// buildCore assembles the snapshot store, models, detector, executor, and
// engine for the given venue.
func (a *App) buildCore(deps *Dependencies, venue domain.VenueAdapter, execute bool) (*core, error) {
	store := marketdata.NewStore(a.logger)
	tracker := model.NewTracker(a.logger)

	detParams := make(map[string]detector.GroupParams, len(a.cfg.Groups))
	instruments := make(map[domain.InstrumentID]domain.Instrument, 2*len(a.cfg.Groups))
	for _, gc := range a.cfg.Groups {
		ref := instrument(gc.Reference)
		dep := instrument(gc.Dependent)
		instruments[ref.ID] = ref
		instruments[dep.ID] = dep

		if _, err := tracker.Register(model.GroupConfig{
			ID:              gc.ID,
			Reference:       ref.ID,
			Dependent:       dep.ID,
			Window:          gc.Window,
			MinObservations: gc.MinObservations,
			MaxStaleness:    gc.MaxStaleness.Duration,
		}); err != nil {
			return nil, fmt.Errorf("app: register group: %w", err)
		}

		detParams[gc.ID] = detector.GroupParams{
			ZScoreThreshold: gc.ZScoreThreshold,
			FeeBps:          gc.FeeBps,
			TradeSize:       gc.TradeSize,
			MinTTL:          gc.MinTTL.Duration,
		}
	}

	det := detector.New(detector.Config{
		Groups: detParams,
		Logger: a.logger,
	}, store)

	var exec *executor.Executor
	var journal *orderJournal
	if execute {
		book := executor.NewPositionBook()
		risk := executor.NewRiskManager(executor.RiskConfig{
			MaxInstrumentNotional: a.cfg.Risk.MaxInstrumentNotional,
			MaxAggregateNotional:  a.cfg.Risk.MaxAggregateNotional,
			MaxSnapshotAge:        a.cfg.Risk.MaxSnapshotAge.Duration,
		}, book, store, a.logger)
		var onTerminal func(domain.Order)
		if deps.OrderStore != nil {
			journal = newOrderJournal(deps.OrderStore, a.logger)
			onTerminal = journal.Enqueue
		}
		exec = executor.New(executor.Config{
			RetryBudget: a.cfg.Risk.RetryBudget,
			Instruments: instruments,
			OnTerminal:  onTerminal,
			Logger:      a.logger,
		}, venue, store, risk, book, deps.Sink)
	}

	queue := marketdata.NewConflatingQueue(a.cfg.Engine.QuoteQueueSize)

	var opps domain.OpportunityStore
	if deps.OpportunityStore != nil {
		opps = deps.OpportunityStore
	}
	eng := engine.New(engine.Config{
		ExecuteOrders: execute,
		ExpirySweep:   a.cfg.Engine.ExpirySweep.Duration,
		RecordQuotes:  a.cfg.Telemetry.RecordQuotes,
		Logger:        a.logger,
	}, store, tracker, det, exec, queue, deps.Sink, opps)

	return &core{
		store:   store,
		tracker: tracker,
		queue:   queue,
		engine:  eng,
		venue:   venue,
		journal: journal,
	}, nil
}

// runCore subscribes to market data, starts the side goroutines, and drives
// the engine until ctx is cancelled.
func (a *App) runCore(ctx context.Context, deps *Dependencies, c *core, execute bool) error {
	var orderHist domain.OrderStore
	if deps.OrderStore != nil {
		orderHist = deps.OrderStore
	}
	var oppHist domain.OpportunityStore
	if deps.OpportunityStore != nil {
		oppHist = deps.OpportunityStore
	}
	a.logStoredHistory(ctx, orderHist, oppHist)

	instruments := c.tracker.Instruments()
	quotes, err := c.venue.Subscribe(ctx, instruments)
	if err != nil {
		return fmt.Errorf("app: subscribe: %w", err)
	}

	var orderEvents <-chan domain.OrderEvent
	if execute {
		orderEvents, err = c.venue.OrderEvents(ctx)
		if err != nil {
			return fmt.Errorf("app: order events: %w", err)
		}
	}

	g, runCtx := errgroup.WithContext(ctx)

	feed := quotes
	if deps.QuoteCache != nil {
		feed = teeQuotes(runCtx, g, deps.QuoteCache, quotes, a.cfg.Engine.QuoteQueueSize)
	}
	g.Go(func() error { return c.engine.FeedQuotes(runCtx, feed) })

	if deps.Archiver != nil {
		g.Go(func() error { return deps.Archiver.Run(runCtx) })
	}
	if deps.Notify != nil {
		g.Go(func() error { return deps.Notify.Run(runCtx) })
	}
	if c.journal != nil {
		g.Go(func() error { return c.journal.Run(runCtx) })
	}
	if rotate := a.cfg.Telemetry.RotateEvery.Duration; rotate > 0 && deps.CSV != nil {
		g.Go(func() error { return rotateLoop(runCtx, deps.CSV, rotate) })
	}

	g.Go(func() error { return c.engine.Run(runCtx, orderEvents) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// logStoredHistory summarizes what earlier runs left in the stores before new
// flow starts. Failures here are reported but never block startup.
func (a *App) logStoredHistory(ctx context.Context, orders domain.OrderStore, opps domain.OpportunityStore) {
	const historyLimit = 20

	if orders != nil {
		recent, err := orders.ListRecent(ctx, historyLimit)
		switch {
		case err != nil:
			a.logger.Warn("order history unavailable", slog.String("error", err.Error()))
		case len(recent) > 0:
			a.logger.Info("stored order history",
				slog.Int("recent_orders", len(recent)),
				slog.Time("last_update", recent[0].LastUpdateAt),
			)
		}
	}
	if opps != nil {
		recent, err := opps.ListRecent(ctx, historyLimit)
		switch {
		case err != nil:
			a.logger.Warn("opportunity history unavailable", slog.String("error", err.Error()))
		case len(recent) > 0:
			a.logger.Info("stored opportunity history",
				slog.Int("recent_opportunities", len(recent)),
			)
		}
	}
}

// teeQuotes forwards quotes to the engine while mirroring them into the
// shared quote cache. Cache writes are best-effort and never block the feed.
func teeQuotes(ctx context.Context, g *errgroup.Group, cache *redis.QuoteCache, in <-chan domain.VenueQuote, buffer int) <-chan domain.VenueQuote {
	if buffer <= 0 {
		buffer = 256
	}
	out := make(chan domain.VenueQuote, buffer)
	mirror := make(chan domain.VenueQuote, buffer)

	g.Go(func() error {
		defer close(out)
		defer close(mirror)
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case q, ok := <-in:
				if !ok {
					return nil
				}
				select {
				case out <- q:
				case <-ctx.Done():
					return ctx.Err()
				}
				select {
				case mirror <- q:
				default: // cache lags, drop the mirror copy
				}
			}
		}
	})
	g.Go(func() error {
		for q := range mirror {
			cacheCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = cache.SetQuote(cacheCtx, q)
			cancel()
		}
		return nil
	})
	return out
}

// rotateLoop rotates the telemetry file on a fixed schedule so archives keep
// flowing even at low event rates.
func rotateLoop(ctx context.Context, csv *telemetry.CSVWriter, every time.Duration) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := csv.Rotate(); err != nil {
				return fmt.Errorf("app: rotate telemetry: %w", err)
			}
		}
	}
}

func instrument(ic config.InstrumentConfig) domain.Instrument {
	return domain.NewInstrument(ic.Venue, ic.Symbol, ic.TickSize, ic.MinOrderSize)
}

func instrumentID(ic config.InstrumentConfig) domain.InstrumentID {
	return domain.MakeInstrumentID(ic.Venue, ic.Symbol)
}
