package domain

// Position is the signed per-instrument exposure, mutated only on confirmed
// fills and read by the pre-trade risk check.
type Position struct {
	Instrument    InstrumentID
	Size          float64 // signed: positive long, negative short
	AvgEntryPrice float64
	RealizedPnL   float64
}

// ApplyFill folds a confirmed fill into the position. Fills that reduce or
// flip the position realize PnL against the average entry price.
func (p *Position) ApplyFill(side OrderSide, price, size float64) {
	signed := size
	if side == OrderSideSell {
		signed = -size
	}

	switch {
	case p.Size == 0 || (p.Size > 0) == (signed > 0):
		// Same direction: extend and re-average.
		total := p.Size + signed
		if total != 0 {
			p.AvgEntryPrice = (p.AvgEntryPrice*abs(p.Size) + price*size) / abs(total)
		}
		p.Size = total
	case abs(signed) <= abs(p.Size):
		// Partial or full reduction.
		if p.Size > 0 {
			p.RealizedPnL += (price - p.AvgEntryPrice) * size
		} else {
			p.RealizedPnL += (p.AvgEntryPrice - price) * size
		}
		p.Size += signed
		if p.Size == 0 {
			p.AvgEntryPrice = 0
		}
	default:
		// Flip: close out the old side, open the remainder at the fill price.
		closing := abs(p.Size)
		if p.Size > 0 {
			p.RealizedPnL += (price - p.AvgEntryPrice) * closing
		} else {
			p.RealizedPnL += (p.AvgEntryPrice - price) * closing
		}
		p.Size += signed
		p.AvgEntryPrice = price
	}
}

// Notional returns the absolute exposure at the given mark price.
func (p Position) Notional(mark float64) float64 {
	return abs(p.Size) * mark
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
