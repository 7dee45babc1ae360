// Package marketdata owns the per-instrument latest-known market state and
// the inbound quote queue feeding the core loop.
package marketdata

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/ashwalker/pairbot/internal/domain"
)

// Listener is notified synchronously after a quote is accepted, before Apply
// returns. Listeners run on the core loop; they must not block.
type Listener interface {
	OnSnapshot(snap domain.MarketSnapshot)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(snap domain.MarketSnapshot)

// OnSnapshot implements Listener.
func (f ListenerFunc) OnSnapshot(snap domain.MarketSnapshot) { f(snap) }

// Store holds the latest MarketSnapshot per instrument. It is owned by the
// single-threaded core loop and is not safe for concurrent use.
type Store struct {
	snapshots map[domain.InstrumentID]domain.MarketSnapshot
	listeners []Listener
	logger    *slog.Logger
}

// NewStore creates an empty snapshot store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		snapshots: make(map[domain.InstrumentID]domain.MarketSnapshot),
		logger:    logger.With(slog.String("component", "snapshot_store")),
	}
}

// Register adds a listener invoked on every accepted quote.
func (s *Store) Register(l Listener) {
	s.listeners = append(s.listeners, l)
}

// Apply folds a venue quote into the store. Quotes whose sequence number is
// not strictly greater than the stored value for that instrument are
// rejected with domain.ErrStaleUpdate, so late or duplicate network
// deliveries never corrupt state. On acceptance all registered listeners are
// notified synchronously before Apply returns.
func (s *Store) Apply(q domain.VenueQuote) error {
	prev, ok := s.snapshots[q.Instrument]
	if ok && q.Sequence <= prev.Sequence {
		return fmt.Errorf("%w: instrument %s seq %d <= stored %d",
			domain.ErrStaleUpdate, q.Instrument, q.Sequence, prev.Sequence)
	}

	snap := domain.MarketSnapshot{
		Instrument: q.Instrument,
		BestBid:    q.Bid,
		BestAsk:    q.Ask,
		BidSize:    q.BidSize,
		AskSize:    q.AskSize,
		Mid:        q.Mid(),
		Spread:     q.Ask - q.Bid,
		Sequence:   q.Sequence,
		Timestamp:  q.Timestamp,
	}
	s.snapshots[q.Instrument] = snap

	for _, l := range s.listeners {
		l.OnSnapshot(snap)
	}
	return nil
}

// Latest returns the stored snapshot for an instrument, if any.
func (s *Store) Latest(id domain.InstrumentID) (domain.MarketSnapshot, bool) {
	snap, ok := s.snapshots[id]
	return snap, ok
}

// IsStale reports whether err is a stale-update rejection.
func IsStale(err error) bool {
	return errors.Is(err, domain.ErrStaleUpdate)
}
