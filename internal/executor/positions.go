package executor

import "github.com/ashwalker/pairbot/internal/domain"

// PositionBook tracks signed per-instrument exposure. It is owned by the
// executor and mutated only on confirmed fills.
type PositionBook struct {
	positions map[domain.InstrumentID]*domain.Position
}

// NewPositionBook creates an empty book.
func NewPositionBook() *PositionBook {
	return &PositionBook{positions: make(map[domain.InstrumentID]*domain.Position)}
}

// Get returns the position for an instrument, creating a flat one on first
// access.
func (b *PositionBook) Get(id domain.InstrumentID) *domain.Position {
	p, ok := b.positions[id]
	if !ok {
		p = &domain.Position{Instrument: id}
		b.positions[id] = p
	}
	return p
}

// ApplyFill folds a confirmed fill into the book.
func (b *PositionBook) ApplyFill(id domain.InstrumentID, side domain.OrderSide, price, size float64) {
	b.Get(id).ApplyFill(side, price, size)
}

// Each calls fn for every non-flat position.
func (b *PositionBook) Each(fn func(p *domain.Position)) {
	for _, p := range b.positions {
		if p.Size != 0 {
			fn(p)
		}
	}
}
