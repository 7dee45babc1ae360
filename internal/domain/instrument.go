package domain

import (
	"fmt"
	"math"
	"strings"
)

// InstrumentID is a venue-qualified symbol key, e.g. "binance:BTCUSDT".
type InstrumentID string

// Venue returns the venue half of the id, or "" if the id is malformed.
func (id InstrumentID) Venue() string {
	v, _, ok := strings.Cut(string(id), ":")
	if !ok {
		return ""
	}
	return v
}

// Symbol returns the symbol half of the id, or "" if the id is malformed.
func (id InstrumentID) Symbol() string {
	_, s, ok := strings.Cut(string(id), ":")
	if !ok {
		return ""
	}
	return s
}

// MakeInstrumentID builds an InstrumentID from a venue and symbol.
func MakeInstrumentID(venue, symbol string) InstrumentID {
	return InstrumentID(venue + ":" + symbol)
}

// Instrument is a tradeable contract on a single venue. Instances are
// immutable once registered.
type Instrument struct {
	ID           InstrumentID
	Venue        string
	Symbol       string
	TickSize     float64
	MinOrderSize float64
}

// NewInstrument creates an Instrument with a derived ID.
func NewInstrument(venue, symbol string, tickSize, minOrderSize float64) Instrument {
	return Instrument{
		ID:           MakeInstrumentID(venue, symbol),
		Venue:        venue,
		Symbol:       symbol,
		TickSize:     tickSize,
		MinOrderSize: minOrderSize,
	}
}

// RoundToTick snaps a price to the instrument's tick grid, rounding toward
// the nearest tick.
func (i Instrument) RoundToTick(price float64) float64 {
	if i.TickSize <= 0 {
		return price
	}
	return math.Round(price/i.TickSize) * i.TickSize
}

// Validate reports whether the instrument definition is usable.
func (i Instrument) Validate() error {
	if i.Venue == "" || i.Symbol == "" {
		return fmt.Errorf("instrument %q: venue and symbol are required", i.ID)
	}
	if i.TickSize < 0 || i.MinOrderSize < 0 {
		return fmt.Errorf("instrument %q: tick size and min order size must be non-negative", i.ID)
	}
	return nil
}
