package executor

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/ashwalker/pairbot/internal/domain"
	"github.com/ashwalker/pairbot/internal/marketdata"
)

// RiskConfig holds the tunable parameters for pre-trade risk checks.
// Aggregate limits span all groups touching a given instrument: the book is
// the unit of account, not the group.
type RiskConfig struct {
	MaxInstrumentNotional float64
	MaxAggregateNotional  float64
	MaxSnapshotAge        time.Duration
}

// RiskManager performs pre-trade exposure checks against the live position
// book and the latest market snapshots.
type RiskManager struct {
	cfg    RiskConfig
	book   *PositionBook
	store  *marketdata.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRiskManager creates a RiskManager reading marks from store.
func NewRiskManager(cfg RiskConfig, book *PositionBook, store *marketdata.Store, logger *slog.Logger) *RiskManager {
	return &RiskManager{
		cfg:    cfg,
		book:   book,
		store:  store,
		logger: logger.With(slog.String("component", "risk")),
		now:    time.Now,
	}
}

// mark returns a fresh mid price for the instrument, or an error when the
// snapshot is missing or too old to trade on.
func (r *RiskManager) mark(id domain.InstrumentID) (float64, error) {
	snap, ok := r.store.Latest(id)
	if !ok {
		return 0, fmt.Errorf("%w: no snapshot for %s", domain.ErrRiskLimit, id)
	}
	if !snap.Fresh(r.now(), r.cfg.MaxSnapshotAge) {
		return 0, fmt.Errorf("%w: snapshot for %s is %s old", domain.ErrRiskLimit, id, snap.Age(r.now()))
	}
	if snap.Mid <= 0 {
		return 0, fmt.Errorf("%w: no usable mid for %s", domain.ErrRiskLimit, id)
	}
	return snap.Mid, nil
}

// aggregateNotional sums absolute exposure across the whole book at current
// marks, falling back to entry price when a mark is unavailable.
func (r *RiskManager) aggregateNotional() float64 {
	var total float64
	r.book.Each(func(p *domain.Position) {
		mark := p.AvgEntryPrice
		if snap, ok := r.store.Latest(p.Instrument); ok && snap.Mid > 0 {
			mark = snap.Mid
		}
		total += p.Notional(mark)
	})
	return total
}

// BudgetUnits returns how many units of the instrument may still be traded
// in the given direction before either the per-instrument or the aggregate
// notional limit is hit. The returned value may be zero.
func (r *RiskManager) BudgetUnits(id domain.InstrumentID, side domain.OrderSide) (float64, error) {
	mark, err := r.mark(id)
	if err != nil {
		return 0, err
	}

	pos := r.book.Get(id)
	current := pos.Notional(mark)

	// Trades that reduce exposure are always within budget up to the flat
	// point; beyond it they start consuming limit again. Conservatively
	// grant the reduction plus the per-instrument headroom.
	headroom := r.cfg.MaxInstrumentNotional - current
	if headroom < 0 {
		headroom = 0
	}
	instrUnits := headroom / mark

	reducing := (pos.Size > 0 && side == domain.OrderSideSell) ||
		(pos.Size < 0 && side == domain.OrderSideBuy)
	if reducing {
		instrUnits = abs(pos.Size) + r.cfg.MaxInstrumentNotional/mark
	}

	aggHeadroom := r.cfg.MaxAggregateNotional - r.aggregateNotional()
	if aggHeadroom < 0 {
		aggHeadroom = 0
	}
	aggUnits := aggHeadroom / mark
	if reducing {
		aggUnits = instrUnits
	}

	if aggUnits < instrUnits {
		return aggUnits, nil
	}
	return instrUnits, nil
}

// PreTradeCheck validates that the projected positions after both legs stay
// within limits and that the prices being traded on are fresh. It returns a
// domain.ErrRiskLimit-wrapped error on the first failed check.
func (r *RiskManager) PreTradeCheck(legs []domain.Order) error {
	projected := make(map[domain.InstrumentID]float64)
	for _, leg := range legs {
		mark, err := r.mark(leg.Instrument)
		if err != nil {
			return err
		}
		size := leg.Size
		if leg.Side == domain.OrderSideSell {
			size = -size
		}
		base, ok := projected[leg.Instrument]
		if !ok {
			base = r.book.Get(leg.Instrument).Size
		}
		next := base + size
		if abs(next)*mark > r.cfg.MaxInstrumentNotional {
			return fmt.Errorf("%w: projected %s notional %.2f exceeds %.2f",
				domain.ErrRiskLimit, leg.Instrument, abs(next)*mark, r.cfg.MaxInstrumentNotional)
		}
		projected[leg.Instrument] = next
	}

	// Aggregate check over the whole projected book.
	var total float64
	seen := make(map[domain.InstrumentID]bool)
	for id, size := range projected {
		mark, err := r.mark(id)
		if err != nil {
			return err
		}
		total += abs(size) * mark
		seen[id] = true
	}
	r.book.Each(func(p *domain.Position) {
		if seen[p.Instrument] {
			return
		}
		mark := p.AvgEntryPrice
		if snap, ok := r.store.Latest(p.Instrument); ok && snap.Mid > 0 {
			mark = snap.Mid
		}
		total += p.Notional(mark)
	})
	if total > r.cfg.MaxAggregateNotional {
		return fmt.Errorf("%w: projected aggregate notional %.2f exceeds %.2f",
			domain.ErrRiskLimit, total, r.cfg.MaxAggregateNotional)
	}
	return nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
