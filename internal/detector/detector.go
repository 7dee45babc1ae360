// Package detector turns model residuals into actionable arbitrage
// opportunities.
package detector

import (
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ashwalker/pairbot/internal/domain"
	"github.com/ashwalker/pairbot/internal/marketdata"
)

// GroupParams holds the per-group detection thresholds.
type GroupParams struct {
	ZScoreThreshold float64
	FeeBps          float64
	TradeSize       float64
	MinTTL          time.Duration
}

// Config configures the detector.
type Config struct {
	Groups map[string]GroupParams
	// TTLLatencyFactor scales the observed market-data latency into the
	// opportunity expiry window.
	TTLLatencyFactor float64
	Logger           *slog.Logger
}

// Detector evaluates model updates against the z-score gate and the
// cost-of-crossing economics, and stamps each emitted opportunity with a
// latency-derived expiry. Opportunities are consume-at-most-once values; the
// detector never retains them.
type Detector struct {
	groups    map[string]GroupParams
	store     *marketdata.Store
	latency   *latencyEWMA
	ttlFactor float64
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a Detector reading point-in-time snapshots from store.
func New(cfg Config, store *marketdata.Store) *Detector {
	factor := cfg.TTLLatencyFactor
	if factor <= 0 {
		factor = 4
	}
	return &Detector{
		groups:    cfg.Groups,
		store:     store,
		latency:   newLatencyEWMA(0.2),
		ttlFactor: factor,
		logger:    cfg.Logger.With(slog.String("component", "detector")),
		now:       time.Now,
	}
}

// ObserveLatency feeds the market-data latency estimator. The core loop
// calls it for every applied quote with the delta between receipt and the
// venue timestamp.
func (d *Detector) ObserveLatency(sample time.Duration) {
	d.latency.observe(sample)
}

// OnModelUpdate evaluates one model update. It returns an opportunity only
// when the update carries non-zero confidence, the z-score clears the
// configured threshold, and crossing the spread on both legs plus fees still
// leaves positive expected edge.
func (d *Detector) OnModelUpdate(upd domain.ModelUpdate, ref, dep domain.InstrumentID) (domain.Opportunity, bool) {
	params, ok := d.groups[upd.GroupID]
	if !ok {
		return domain.Opportunity{}, false
	}
	if upd.Confidence <= 0 {
		// Window not yet full; never trade on an unfitted model.
		return domain.Opportunity{}, false
	}

	z := upd.ZScore()
	if z < params.ZScoreThreshold {
		return domain.Opportunity{}, false
	}

	refSnap, haveRef := d.store.Latest(ref)
	depSnap, haveDep := d.store.Latest(dep)
	if !haveRef || !haveDep {
		return domain.Opportunity{}, false
	}

	// Per-unit economics in dependent price terms. The hedge leg trades
	// |slope| reference units per dependent unit, so its half-spread and fee
	// scale by the hedge ratio.
	hedge := abs(upd.Slope)
	gross := abs(upd.Residual)
	crossCost := depSnap.Spread/2 + hedge*refSnap.Spread/2
	feeCost := params.FeeBps / 10_000 * (depSnap.Mid + hedge*refSnap.Mid)
	edge := gross - crossCost - feeCost
	if edge <= 0 {
		return domain.Opportunity{}, false
	}

	// Residual > 0: dependent is rich, so sell the dependent leg and buy
	// the reference hedge. Residual < 0 is the mirror trade.
	buy, sell := dep, ref
	if upd.Residual > 0 {
		buy, sell = ref, dep
	}

	now := d.now()
	ttl := time.Duration(float64(d.latency.value()) * d.ttlFactor)
	if ttl < params.MinTTL {
		ttl = params.MinTTL
	}

	opp := domain.Opportunity{
		ID:             uuid.NewString(),
		GroupID:        upd.GroupID,
		Generation:     upd.Generation,
		Reference:      ref,
		Dependent:      dep,
		BuyInstrument:  buy,
		SellInstrument: sell,
		ZScore:         z,
		ExpectedEdge:   edge,
		RequiredSize:   params.TradeSize,
		RefPrice:       upd.RefMid,
		DepPrice:       upd.DepMid,
		HedgeRatio:     upd.Slope,
		CreatedAt:      now,
		ExpiresAt:      now.Add(ttl),
	}

	d.logger.Debug("opportunity detected",
		slog.String("opp_id", opp.ID),
		slog.String("group", opp.GroupID),
		slog.Float64("zscore", z),
		slog.Float64("edge", edge),
		slog.Duration("ttl", ttl),
	)
	return opp, true
}

// Rank orders simultaneous opportunities by expected edge descending. The
// executor consumes them in this order and may reject the tail once risk
// budgets are exhausted.
func Rank(opps []domain.Opportunity) {
	sort.SliceStable(opps, func(i, j int) bool {
		return opps[i].ExpectedEdge > opps[j].ExpectedEdge
	})
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
