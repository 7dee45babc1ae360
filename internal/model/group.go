// Package model maintains rolling linear regressions between price-linked
// instrument pairs and turns accepted market snapshots into residual
// updates.
package model

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ashwalker/pairbot/internal/domain"
)

// GroupConfig parameterizes one monitored instrument group.
type GroupConfig struct {
	ID              string
	Reference       domain.InstrumentID
	Dependent       domain.InstrumentID
	Window          int
	MinObservations int
	MaxStaleness    time.Duration
}

type pair struct {
	x, y float64 // reference mid, dependent mid
}

// Group is an online least-squares regression of the dependent instrument's
// mid price on the reference instrument's mid price over a fixed-size
// rolling window. It is owned by the single-threaded core loop.
type Group struct {
	cfg GroupConfig

	refSnap domain.MarketSnapshot
	depSnap domain.MarketSnapshot
	haveRef bool

	// Ring buffer of paired observations plus incrementally maintained
	// sums. Evicted pairs are subtracted from the sums so a recompute never
	// walks the window.
	pairs []pair
	head  int
	count int
	sx    float64
	sy    float64
	sxx   float64
	sxy   float64
	syy   float64

	slope     float64
	intercept float64
	residStd  float64

	generation uint64
	degraded   bool

	logger *slog.Logger
}

// NewGroup creates an empty regression group.
func NewGroup(cfg GroupConfig, logger *slog.Logger) *Group {
	return &Group{
		cfg:    cfg,
		pairs:  make([]pair, cfg.Window),
		logger: logger.With(slog.String("component", "model"), slog.String("group", cfg.ID)),
	}
}

// ID returns the group identifier.
func (g *Group) ID() string { return g.cfg.ID }

// Reference returns the reference instrument id.
func (g *Group) Reference() domain.InstrumentID { return g.cfg.Reference }

// Dependent returns the dependent instrument id.
func (g *Group) Dependent() domain.InstrumentID { return g.cfg.Dependent }

// Generation returns the current window generation. It increments on every
// reset so downstream consumers can discard in-flight opportunities tied to
// a superseded window.
func (g *Group) Generation() uint64 { return g.generation }

// Degraded reports whether the group is currently suppressing emission.
func (g *Group) Degraded() bool { return g.degraded }

// Healthy returns ErrDegradedModel while emission is suppressed by a stale
// leg, nil otherwise.
func (g *Group) Healthy() error {
	if g.degraded {
		return fmt.Errorf("model: group %s: %w", g.cfg.ID, domain.ErrDegradedModel)
	}
	return nil
}

// Observations returns the number of pairs currently in the window.
func (g *Group) Observations() int { return g.count }

// Touches reports whether the given instrument belongs to this group.
func (g *Group) Touches(id domain.InstrumentID) bool {
	return id == g.cfg.Reference || id == g.cfg.Dependent
}

// Reset discards the rolling window and bumps the generation counter.
// Resets are never silent: the new generation propagates through every
// subsequent ModelUpdate.
func (g *Group) Reset() {
	g.head = 0
	g.count = 0
	g.sx, g.sy, g.sxx, g.sxy, g.syy = 0, 0, 0, 0, 0
	g.slope, g.intercept, g.residStd = 0, 0, 0
	g.generation++
	g.logger.Info("model window reset", slog.Uint64("generation", g.generation))
}

// OnSnapshot folds an accepted snapshot into the group. Reference arrivals
// only refresh the stored mark; observations are paired on dependent
// arrivals, each against the latest reference mid, so one quote cycle
// contributes exactly one (x, y) pair. When both legs are fresh the pair is
// appended, the fit is recomputed, and a ModelUpdate is returned. Otherwise
// the group marks itself degraded and emits nothing; it heals on the next
// fresh dependent snapshot.
func (g *Group) OnSnapshot(snap domain.MarketSnapshot) (domain.ModelUpdate, bool) {
	switch snap.Instrument {
	case g.cfg.Reference:
		g.refSnap = snap
		g.haveRef = true
		return domain.ModelUpdate{}, false
	case g.cfg.Dependent:
		g.depSnap = snap
	default:
		return domain.ModelUpdate{}, false
	}

	if !g.haveRef {
		return domain.ModelUpdate{}, false
	}
	if g.refSnap.Mid <= 0 || g.depSnap.Mid <= 0 {
		return domain.ModelUpdate{}, false
	}

	// Freshness gate: both legs must be within max staleness of the newer
	// leg's timestamp.
	now := snap.Timestamp
	if !g.refSnap.Fresh(now, g.cfg.MaxStaleness) || !g.depSnap.Fresh(now, g.cfg.MaxStaleness) {
		if !g.degraded {
			g.degraded = true
			g.logger.Warn("model degraded: stale leg",
				slog.Time("ref_ts", g.refSnap.Timestamp),
				slog.Time("dep_ts", g.depSnap.Timestamp),
			)
		}
		return domain.ModelUpdate{}, false
	}
	g.degraded = false

	g.append(g.refSnap.Mid, g.depSnap.Mid)
	if !g.refit() {
		return domain.ModelUpdate{}, false
	}

	residual := g.depSnap.Mid - (g.slope*g.refSnap.Mid + g.intercept)

	confidence := 0.0
	if g.count >= g.cfg.MinObservations {
		confidence = float64(g.count) / float64(g.cfg.Window)
		if confidence > 1 {
			confidence = 1
		}
	}

	return domain.ModelUpdate{
		GroupID:     g.cfg.ID,
		Generation:  g.generation,
		Slope:       g.slope,
		Intercept:   g.intercept,
		Residual:    residual,
		ResidualStd: g.residStd,
		Confidence:  confidence,
		RefMid:      g.refSnap.Mid,
		DepMid:      g.depSnap.Mid,
		Timestamp:   now,
	}, true
}

// append pushes a pair into the ring buffer, evicting the oldest once the
// window is full, and keeps the regression sums in step.
func (g *Group) append(x, y float64) {
	if g.count == g.cfg.Window {
		old := g.pairs[g.head]
		g.sx -= old.x
		g.sy -= old.y
		g.sxx -= old.x * old.x
		g.sxy -= old.x * old.y
		g.syy -= old.y * old.y
		g.pairs[g.head] = pair{x, y}
		g.head = (g.head + 1) % g.cfg.Window
	} else {
		g.pairs[(g.head+g.count)%g.cfg.Window] = pair{x, y}
		g.count++
	}
	g.sx += x
	g.sy += y
	g.sxx += x * x
	g.sxy += x * y
	g.syy += y * y
}

// refit recomputes slope, intercept, and residual standard deviation from
// the running sums. It returns false when the fit is undefined (fewer than
// two points or a constant reference price).
func (g *Group) refit() bool {
	n := float64(g.count)
	if g.count < 2 {
		return false
	}
	den := n*g.sxx - g.sx*g.sx
	if math.Abs(den) < 1e-12 {
		// Constant reference price; the fit is undefined.
		return false
	}
	g.slope = (n*g.sxy - g.sx*g.sy) / den
	g.intercept = (g.sy - g.slope*g.sx) / n

	// Population residual variance via the closed form over the sums.
	sse := g.syy -
		2*g.intercept*g.sy -
		2*g.slope*g.sxy +
		n*g.intercept*g.intercept +
		2*g.intercept*g.slope*g.sx +
		g.slope*g.slope*g.sxx
	if sse < 0 {
		sse = 0 // guard tiny negative drift from the incremental sums
	}
	g.residStd = math.Sqrt(sse / n)
	return true
}
