package model

import (
	"log/slog"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwalker/pairbot/internal/domain"
)

var (
	refID = domain.MakeInstrumentID("sim", "REF")
	depID = domain.MakeInstrumentID("sim", "DEP")
)

func testGroupConfig() GroupConfig {
	return GroupConfig{
		ID:              "test-pair",
		Reference:       refID,
		Dependent:       depID,
		Window:          100,
		MinObservations: 10,
		MaxStaleness:    2 * time.Second,
	}
}

func snapshot(id domain.InstrumentID, mid float64, ts time.Time) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Instrument: id,
		BestBid:    mid - 0.01,
		BestAsk:    mid + 0.01,
		Mid:        mid,
		Spread:     0.02,
		Timestamp:  ts,
	}
}

// feedPair delivers a reference snapshot followed by a dependent snapshot and
// returns the update emitted for the dependent leg, if any.
func feedPair(g *Group, x, y float64, ts time.Time) (domain.ModelUpdate, bool) {
	g.OnSnapshot(snapshot(refID, x, ts))
	return g.OnSnapshot(snapshot(depID, y, ts.Add(time.Millisecond)))
}

func TestGroupRecoversLinearRelationship(t *testing.T) {
	g := NewGroup(testGroupConfig(), slog.Default())
	base := time.Now()

	// Dependent tracks y = 2x + 3 with small alternating noise.
	var last domain.ModelUpdate
	var emitted bool
	for i := 0; i < 40; i++ {
		x := 100 + float64(i)*0.5
		noise := 0.05
		if i%2 == 1 {
			noise = -0.05
		}
		y := 2*x + 3 + noise
		if upd, ok := feedPair(g, x, y, base.Add(time.Duration(i)*100*time.Millisecond)); ok {
			last = upd
			emitted = true
		}
	}

	require.True(t, emitted)
	assert.InDelta(t, 2.0, last.Slope, 0.05)
	assert.InDelta(t, 3.0, last.Intercept, 2.0)
	assert.Greater(t, last.ResidualStd, 0.0)
	assert.Less(t, last.ResidualStd, 0.15)
	assert.Greater(t, last.Confidence, 0.0)
}

func TestGroupConvergesUnderGaussianNoise(t *testing.T) {
	cfg := testGroupConfig()
	cfg.Window = 500
	cfg.MinObservations = 100
	g := NewGroup(cfg, slog.Default())
	base := time.Now()
	rng := rand.New(rand.NewSource(1))

	// y = 2x + N(0, 0.5) over a wide x range: slope and residual_std must
	// recover the generating parameters once the window fills.
	var last domain.ModelUpdate
	for i := 0; i < 2000; i++ {
		x := 100 + rng.Float64()*20
		y := 2*x + rng.NormFloat64()*0.5
		if upd, ok := feedPair(g, x, y, base.Add(time.Duration(i)*10*time.Millisecond)); ok {
			last = upd
		}
	}

	assert.InDelta(t, 2.0, last.Slope, 0.02)
	assert.InDelta(t, 0.5, last.ResidualStd, 0.08)
	assert.Equal(t, cfg.Window, g.Observations())
}

func TestGroupPairsOncePerQuoteCycle(t *testing.T) {
	g := NewGroup(testGroupConfig(), slog.Default())
	base := time.Now()

	// Reference arrivals refresh the mark but never append or emit; only the
	// dependent leg pairs an observation, so interleaved quoting adds exactly
	// one pair per cycle.
	for i := 0; i < 30; i++ {
		ts := base.Add(time.Duration(i) * 100 * time.Millisecond)
		x := 100 + float64(i)
		_, ok := g.OnSnapshot(snapshot(refID, x, ts))
		assert.False(t, ok, "reference arrivals do not emit")
		_, ok = g.OnSnapshot(snapshot(refID, x+0.1, ts.Add(time.Millisecond)))
		assert.False(t, ok)
		g.OnSnapshot(snapshot(depID, 2*x+3, ts.Add(2*time.Millisecond)))
	}
	assert.Equal(t, 30, g.Observations(),
		"one dependent arrival appends one observation regardless of reference churn")
}

func TestGroupConfidenceGatedByMinObservations(t *testing.T) {
	cfg := testGroupConfig()
	cfg.MinObservations = 20
	g := NewGroup(cfg, slog.Default())
	base := time.Now()

	for i := 0; i < 8; i++ {
		x := 100 + float64(i)
		upd, ok := feedPair(g, x, 2*x+3+float64(i%2)*0.1, base.Add(time.Duration(i)*time.Second/10))
		if ok {
			assert.Equal(t, 0.0, upd.Confidence, "confidence must stay zero below the observation floor")
		}
	}

	for i := 8; i < 40; i++ {
		x := 100 + float64(i)
		upd, ok := feedPair(g, x, 2*x+3+float64(i%2)*0.1, base.Add(time.Duration(i)*time.Second/10))
		if ok && g.Observations() >= cfg.MinObservations {
			assert.Greater(t, upd.Confidence, 0.0)
			assert.LessOrEqual(t, upd.Confidence, 1.0)
		}
	}
	assert.GreaterOrEqual(t, g.Observations(), cfg.MinObservations)
}

func TestGroupDegradesOnStaleLegAndHeals(t *testing.T) {
	g := NewGroup(testGroupConfig(), slog.Default())
	base := time.Now()

	for i := 0; i < 5; i++ {
		x := 100 + float64(i)
		feedPair(g, x, 2*x+3+float64(i%2)*0.1, base.Add(time.Duration(i)*100*time.Millisecond))
	}
	require.False(t, g.Degraded())

	require.NoError(t, g.Healthy())

	// Dependent moves on while the reference goes quiet for 10 seconds.
	_, ok := g.OnSnapshot(snapshot(depID, 215, base.Add(10*time.Second)))
	assert.False(t, ok, "stale reference leg must suppress emission")
	assert.True(t, g.Degraded())
	assert.ErrorIs(t, g.Healthy(), domain.ErrDegradedModel)

	// A fresh pair heals the group without manual intervention.
	late := base.Add(11 * time.Second)
	g.OnSnapshot(snapshot(refID, 106, late))
	_, ok = g.OnSnapshot(snapshot(depID, 215, late.Add(time.Millisecond)))
	assert.True(t, ok)
	assert.False(t, g.Degraded())
	assert.NoError(t, g.Healthy())
}

func TestGroupResetBumpsGeneration(t *testing.T) {
	g := NewGroup(testGroupConfig(), slog.Default())
	base := time.Now()

	for i := 0; i < 5; i++ {
		x := 100 + float64(i)
		feedPair(g, x, 2*x+3, base.Add(time.Duration(i)*100*time.Millisecond))
	}
	require.Greater(t, g.Observations(), 0)
	gen := g.Generation()

	g.Reset()
	assert.Equal(t, gen+1, g.Generation())
	assert.Equal(t, 0, g.Observations())

	// Updates emitted after a reset carry the new generation.
	ts := base.Add(time.Second)
	feedPair(g, 100, 203, ts)
	upd, ok := feedPair(g, 101, 205.1, ts.Add(100*time.Millisecond))
	require.True(t, ok)
	assert.Equal(t, gen+1, upd.Generation)
}

func TestGroupConstantReferenceHasNoFit(t *testing.T) {
	g := NewGroup(testGroupConfig(), slog.Default())
	base := time.Now()

	for i := 0; i < 10; i++ {
		_, ok := feedPair(g, 100, 200+float64(i), base.Add(time.Duration(i)*100*time.Millisecond))
		assert.False(t, ok, "a constant reference price leaves the fit undefined")
	}
}

func TestTrackerDispatchAndUnregister(t *testing.T) {
	tr := NewTracker(slog.Default())
	_, err := tr.Register(testGroupConfig())
	require.NoError(t, err)

	_, err = tr.Register(testGroupConfig())
	require.Error(t, err, "duplicate group ids are rejected")

	assert.Len(t, tr.Instruments(), 2)
	assert.Equal(t, 1, tr.Count())

	base := time.Now()
	updates := tr.OnSnapshot(snapshot(refID, 100, base))
	assert.Empty(t, updates, "one leg alone produces no update")

	require.NoError(t, tr.Unregister("test-pair"))
	assert.Equal(t, 0, tr.Count())
	assert.Error(t, tr.Unregister("test-pair"))
}

func TestTrackerSharedInstrumentFansOut(t *testing.T) {
	tr := NewTracker(slog.Default())
	cfgA := testGroupConfig()
	cfgA.ID = "pair-a"
	cfgB := testGroupConfig()
	cfgB.ID = "pair-b"
	cfgB.Reference = domain.MakeInstrumentID("sim", "REF2")

	_, err := tr.Register(cfgA)
	require.NoError(t, err)
	_, err = tr.Register(cfgB)
	require.NoError(t, err)

	base := time.Now()
	// Both groups price the same dependent off different references. Prime
	// one pair each, then a second dependent snapshot advances both groups at
	// once.
	tr.OnSnapshot(snapshot(refID, 100, base))
	tr.OnSnapshot(snapshot(cfgB.Reference, 50, base.Add(time.Millisecond)))
	tr.OnSnapshot(snapshot(depID, 203, base.Add(2*time.Millisecond)))

	tr.OnSnapshot(snapshot(refID, 101, base.Add(3*time.Millisecond)))
	tr.OnSnapshot(snapshot(cfgB.Reference, 51, base.Add(4*time.Millisecond)))
	updates := tr.OnSnapshot(snapshot(depID, 205, base.Add(5*time.Millisecond)))
	require.Len(t, updates, 2, "a shared instrument advances every touching group")
	assert.InDelta(t, 2.0, updates[0].Slope, 1e-9)
	assert.InDelta(t, 2.0, updates[1].Slope, 1e-9)
}
