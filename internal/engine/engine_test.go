package engine

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwalker/pairbot/internal/detector"
	"github.com/ashwalker/pairbot/internal/domain"
	"github.com/ashwalker/pairbot/internal/executor"
	"github.com/ashwalker/pairbot/internal/marketdata"
	"github.com/ashwalker/pairbot/internal/model"
	"github.com/ashwalker/pairbot/internal/venue/sim"
)

var (
	refID = domain.MakeInstrumentID("sim", "REF")
	depID = domain.MakeInstrumentID("sim", "DEP")
)

type captureSink struct {
	mu     sync.Mutex
	events []domain.TelemetryEvent
}

func (c *captureSink) Record(_ context.Context, ev domain.TelemetryEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) has(kind domain.TelemetryKind) bool {
	return c.count(kind) > 0
}

func (c *captureSink) count(kind domain.TelemetryKind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ev := range c.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

type testRig struct {
	store   *marketdata.Store
	tracker *model.Tracker
	queue   *marketdata.ConflatingQueue
	engine  *Engine
	exec    *executor.Executor
	sink    *captureSink
}

func newTestRig(t *testing.T, venue domain.VenueAdapter, execute bool) *testRig {
	t.Helper()
	logger := slog.Default()
	store := marketdata.NewStore(logger)
	tracker := model.NewTracker(logger)
	_, err := tracker.Register(model.GroupConfig{
		ID:              "g1",
		Reference:       refID,
		Dependent:       depID,
		Window:          100,
		MinObservations: 10,
		MaxStaleness:    5 * time.Second,
	})
	require.NoError(t, err)

	det := detector.New(detector.Config{
		Groups: map[string]detector.GroupParams{"g1": {
			ZScoreThreshold: 2.5,
			FeeBps:          1,
			TradeSize:       1,
			MinTTL:          time.Second,
		}},
		Logger: logger,
	}, store)

	sink := &captureSink{}
	var exec *executor.Executor
	if execute {
		book := executor.NewPositionBook()
		risk := executor.NewRiskManager(executor.RiskConfig{
			MaxInstrumentNotional: 1e9,
			MaxAggregateNotional:  1e9,
			MaxSnapshotAge:        time.Minute,
		}, book, store, logger)
		exec = executor.New(executor.Config{
			RetryBudget: 3,
			Instruments: map[domain.InstrumentID]domain.Instrument{
				refID: domain.NewInstrument("sim", "REF", 0.01, 0.01),
				depID: domain.NewInstrument("sim", "DEP", 0.01, 0.01),
			},
			Logger: logger,
		}, venue, store, risk, book, sink)
	}

	queue := marketdata.NewConflatingQueue(64)
	eng := New(Config{
		ExecuteOrders: execute,
		ExpirySweep:   50 * time.Millisecond,
		Logger:        logger,
	}, store, tracker, det, exec, queue, sink, nil)

	return &testRig{store: store, tracker: tracker, queue: queue, engine: eng, exec: exec, sink: sink}
}

func quote(id domain.InstrumentID, seq uint64, mid float64) domain.VenueQuote {
	return domain.VenueQuote{
		Instrument: id,
		Bid:        mid - 0.01,
		Ask:        mid + 0.01,
		BidSize:    50,
		AskSize:    50,
		Sequence:   seq,
		Timestamp:  time.Now(),
	}
}

func runFor(t *testing.T, rig *testRig, orderEvents <-chan domain.OrderEvent, d time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	err := rig.engine.Run(ctx, orderEvents)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunAppliesQueuedQuotes(t *testing.T) {
	rig := newTestRig(t, nil, false)

	rig.queue.Push(quote(refID, 1, 100))
	rig.queue.Push(quote(depID, 1, 203))
	runFor(t, rig, nil, 100*time.Millisecond)

	snap, ok := rig.store.Latest(refID)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.Sequence)
	_, ok = rig.store.Latest(depID)
	assert.True(t, ok)
}

func TestQuoteBurstConflatesBeforeApply(t *testing.T) {
	rig := newTestRig(t, nil, false)

	// Three quotes queued before the loop starts collapse to the newest; the
	// superseded ones never reach the store, so no stale rejections occur.
	rig.queue.Push(quote(refID, 1, 100))
	rig.queue.Push(quote(refID, 2, 100.5))
	rig.queue.Push(quote(refID, 3, 101))
	runFor(t, rig, nil, 100*time.Millisecond)

	snap, ok := rig.store.Latest(refID)
	require.True(t, ok)
	assert.Equal(t, uint64(3), snap.Sequence)
	assert.False(t, rig.sink.has(domain.TelemetryStaleUpdate))
}

func TestStaleQuoteRecorded(t *testing.T) {
	rig := newTestRig(t, nil, false)

	rig.queue.Push(quote(refID, 5, 100))
	runFor(t, rig, nil, 80*time.Millisecond)

	rig.queue.Push(quote(refID, 4, 99))
	runFor(t, rig, nil, 80*time.Millisecond)

	assert.True(t, rig.sink.has(domain.TelemetryStaleUpdate))
	snap, _ := rig.store.Latest(refID)
	assert.Equal(t, uint64(5), snap.Sequence)
}

func TestFeedQuotesPushesIntoQueue(t *testing.T) {
	rig := newTestRig(t, nil, false)

	ch := make(chan domain.VenueQuote, 2)
	ch <- quote(refID, 1, 100)
	close(ch)

	err := rig.engine.FeedQuotes(context.Background(), ch)
	require.NoError(t, err, "a closed feed is a clean stop")
	assert.Equal(t, 1, rig.queue.Len())
}

func TestModelDegradationRecordedOncePerTransition(t *testing.T) {
	rig := newTestRig(t, nil, false)
	base := time.Now()

	at := func(id domain.InstrumentID, seq uint64, mid float64, ts time.Time) domain.VenueQuote {
		q := quote(id, seq, mid)
		q.Timestamp = ts
		return q
	}

	rig.queue.Push(at(refID, 1, 100, base))
	rig.queue.Push(at(depID, 1, 203, base.Add(time.Millisecond)))
	runFor(t, rig, nil, 80*time.Millisecond)
	require.Equal(t, 0, rig.sink.count(domain.TelemetryModelDegraded))

	// The dependent keeps quoting while the reference goes silent well past
	// the staleness bound. Only the first stale cycle records the transition.
	rig.queue.Push(at(depID, 2, 215, base.Add(20*time.Second)))
	runFor(t, rig, nil, 80*time.Millisecond)
	assert.Equal(t, 1, rig.sink.count(domain.TelemetryModelDegraded))

	rig.queue.Push(at(depID, 3, 216, base.Add(21*time.Second)))
	runFor(t, rig, nil, 80*time.Millisecond)
	assert.Equal(t, 1, rig.sink.count(domain.TelemetryModelDegraded))

	// A fresh reference heals the group; a later relapse records a new row.
	rig.queue.Push(at(refID, 2, 106, base.Add(22*time.Second)))
	rig.queue.Push(at(depID, 4, 215, base.Add(22*time.Second).Add(time.Millisecond)))
	runFor(t, rig, nil, 80*time.Millisecond)
	assert.Equal(t, 1, rig.sink.count(domain.TelemetryModelDegraded))

	rig.queue.Push(at(depID, 5, 217, base.Add(40*time.Second)))
	runFor(t, rig, nil, 80*time.Millisecond)
	assert.Equal(t, 2, rig.sink.count(domain.TelemetryModelDegraded))
}

// TestDetectionToExecution drives the whole loop: a synthetic correlated
// pair primes the model, a residual shock on the dependent leg produces an
// opportunity, and the executor trades it against the auto-filling venue.
func TestDetectionToExecution(t *testing.T) {
	venue := sim.New(sim.Config{AutoFill: true, Logger: slog.Default()})
	rig := newTestRig(t, venue, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quotes, err := venue.Subscribe(ctx, nil)
	require.NoError(t, err)
	orderEvents, err := venue.OrderEvents(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = rig.engine.FeedQuotes(ctx, quotes)
	}()
	runDone := make(chan struct{})
	go func() {
		defer close(runDone)
		_ = rig.engine.Run(ctx, orderEvents)
	}()

	// Prime the model: dependent = 2*ref + 3 with small alternating noise.
	seq := uint64(0)
	for i := 0; i < 40; i++ {
		seq++
		x := 100 + float64(i)*0.5
		noise := 0.1
		if i%2 == 1 {
			noise = -0.1
		}
		venue.EmitQuote(quote(refID, seq, x))
		venue.EmitQuote(quote(depID, seq, 2*x+3+noise))
		time.Sleep(2 * time.Millisecond)
	}

	// Shock: the dependent dislocates a full unit above the modelled price.
	seq++
	x := 100 + 40*0.5
	venue.EmitQuote(quote(refID, seq, x))
	venue.EmitQuote(quote(depID, seq, 2*x+3+1.0))

	require.Eventually(t, func() bool {
		return rig.sink.has(domain.TelemetryOpportunity)
	}, 2*time.Second, 10*time.Millisecond, "the shock must surface as an opportunity")

	require.Eventually(t, func() bool {
		return rig.sink.has(domain.TelemetryOrderTerminal)
	}, 2*time.Second, 10*time.Millisecond, "both legs should fill on the auto-fill venue")

	cancel()
	<-done
	<-runDone

	// Rich dependent: the engine sold the dependent and bought the hedge.
	dep := rig.exec.Positions().Get(depID)
	assert.Negative(t, dep.Size)
	ref := rig.exec.Positions().Get(refID)
	assert.Positive(t, ref.Size)
}
