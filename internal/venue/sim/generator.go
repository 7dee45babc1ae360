package sim

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/ashwalker/pairbot/internal/domain"
)

// GeneratorConfig parameterizes the synthetic correlated-pair quote stream.
type GeneratorConfig struct {
	Reference domain.InstrumentID
	Dependent domain.InstrumentID
	// RefStart is the initial reference mid price.
	RefStart float64
	// Slope and Intercept define the true price link the model should
	// recover: dependent = Slope*reference + Intercept + noise.
	Slope     float64
	Intercept float64
	// WalkStd is the per-tick standard deviation of the reference random
	// walk; NoiseStd is the dependent's residual noise around the link.
	WalkStd  float64
	NoiseStd float64
	// ShockProb is the per-tick probability of a transient residual shock,
	// the thing the detector exists to catch.
	ShockProb float64
	ShockSize float64
	// HalfSpread and Depth shape the emitted quotes.
	HalfSpread float64
	Depth      float64
	Interval   time.Duration
	Seed       int64
	Logger     *slog.Logger
}

// Generator emits a synthetic correlated instrument pair into a sim venue.
type Generator struct {
	cfg    GeneratorConfig
	venue  *Venue
	rng    *rand.Rand
	refSeq uint64
	depSeq uint64
	logger *slog.Logger
}

// NewGenerator creates a Generator feeding the given venue.
func NewGenerator(cfg GeneratorConfig, venue *Venue) *Generator {
	if cfg.Interval <= 0 {
		cfg.Interval = 50 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		cfg:    cfg,
		venue:  venue,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger.With(slog.String("component", "sim_generator")),
	}
}

// Run emits quote pairs until ctx is cancelled.
func (g *Generator) Run(ctx context.Context) error {
	g.logger.Info("synthetic feed started",
		slog.String("reference", string(g.cfg.Reference)),
		slog.String("dependent", string(g.cfg.Dependent)),
		slog.Duration("interval", g.cfg.Interval),
	)

	ref := g.cfg.RefStart
	ticker := time.NewTicker(g.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		ref += g.rng.NormFloat64() * g.cfg.WalkStd
		if ref <= 0 {
			ref = g.cfg.RefStart
		}
		dep := g.cfg.Slope*ref + g.cfg.Intercept + g.rng.NormFloat64()*g.cfg.NoiseStd
		if g.rng.Float64() < g.cfg.ShockProb {
			shock := g.cfg.ShockSize
			if g.rng.Float64() < 0.5 {
				shock = -shock
			}
			dep += shock
		}

		now := time.Now()
		g.refSeq++
		g.venue.EmitQuote(domain.VenueQuote{
			Instrument: g.cfg.Reference,
			Bid:        ref - g.cfg.HalfSpread,
			Ask:        ref + g.cfg.HalfSpread,
			BidSize:    g.cfg.Depth,
			AskSize:    g.cfg.Depth,
			Sequence:   g.refSeq,
			Timestamp:  now,
		})
		g.depSeq++
		g.venue.EmitQuote(domain.VenueQuote{
			Instrument: g.cfg.Dependent,
			Bid:        dep - g.cfg.HalfSpread,
			Ask:        dep + g.cfg.HalfSpread,
			BidSize:    g.cfg.Depth,
			AskSize:    g.cfg.Depth,
			Sequence:   g.depSeq,
			Timestamp:  now,
		})
	}
}
