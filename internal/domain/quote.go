package domain

import "time"

// VenueQuote is a normalized best-bid/offer update delivered by a venue
// adapter. Sequence numbers are per-instrument and strictly increasing;
// duplicates and reordered deliveries are rejected by the snapshot store.
type VenueQuote struct {
	Instrument InstrumentID
	Bid        float64
	Ask        float64
	BidSize    float64
	AskSize    float64
	Sequence   uint64
	Timestamp  time.Time
}

// Mid returns the quote midpoint, or 0 when either side is missing.
func (q VenueQuote) Mid() float64 {
	if q.Bid <= 0 || q.Ask <= 0 {
		return 0
	}
	return (q.Bid + q.Ask) / 2
}

// MarketSnapshot is the latest known state for one instrument. It is owned
// exclusively by the snapshot store and replaced in place on each accepted
// update.
type MarketSnapshot struct {
	Instrument InstrumentID
	BestBid    float64
	BestAsk    float64
	BidSize    float64
	AskSize    float64
	Mid        float64
	Spread     float64
	Sequence   uint64
	Timestamp  time.Time
}

// Age returns how stale the snapshot is relative to now.
func (s MarketSnapshot) Age(now time.Time) time.Duration {
	return now.Sub(s.Timestamp)
}

// Fresh reports whether the snapshot is younger than maxAge at time now.
func (s MarketSnapshot) Fresh(now time.Time, maxAge time.Duration) bool {
	return s.Timestamp.After(now.Add(-maxAge))
}
