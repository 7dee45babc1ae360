package domain

import "time"

// Opportunity is an immutable, consume-at-most-once arbitrage candidate
// produced by the detector. The executor must discard it once ExpiresAt has
// passed; acting on a stale opportunity is a correctness hazard.
type Opportunity struct {
	ID             string
	GroupID        string
	Generation     uint64
	Reference      InstrumentID
	Dependent      InstrumentID
	BuyInstrument  InstrumentID // leg to buy (underpriced side)
	SellInstrument InstrumentID // leg to sell (overpriced side)
	ZScore         float64
	ExpectedEdge   float64 // net per-unit edge in dependent price terms
	RequiredSize   float64
	RefPrice       float64
	DepPrice       float64
	HedgeRatio     float64 // model slope; reference units per dependent unit
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// Expired reports whether the opportunity may no longer be acted upon.
func (o Opportunity) Expired(now time.Time) bool {
	return !o.ExpiresAt.IsZero() && now.After(o.ExpiresAt)
}
