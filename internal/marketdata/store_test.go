package marketdata

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwalker/pairbot/internal/domain"
)

func testQuote(id domain.InstrumentID, seq uint64, bid, ask float64) domain.VenueQuote {
	return domain.VenueQuote{
		Instrument: id,
		Bid:        bid,
		Ask:        ask,
		BidSize:    10,
		AskSize:    12,
		Sequence:   seq,
		Timestamp:  time.Now(),
	}
}

func TestStoreApplyRejectsStaleSequence(t *testing.T) {
	s := NewStore(slog.Default())
	id := domain.MakeInstrumentID("sim", "REF")

	require.NoError(t, s.Apply(testQuote(id, 10, 99, 101)))

	err := s.Apply(testQuote(id, 10, 100, 102))
	require.Error(t, err, "duplicate sequence must be rejected")
	assert.True(t, IsStale(err))

	err = s.Apply(testQuote(id, 9, 100, 102))
	require.Error(t, err, "regressed sequence must be rejected")
	assert.True(t, IsStale(err))

	snap, ok := s.Latest(id)
	require.True(t, ok)
	assert.Equal(t, uint64(10), snap.Sequence)
	assert.Equal(t, 99.0, snap.BestBid, "rejected updates never touch the snapshot")

	require.NoError(t, s.Apply(testQuote(id, 11, 100, 102)))
	snap, _ = s.Latest(id)
	assert.Equal(t, uint64(11), snap.Sequence)
}

func TestStoreSequencesArePerInstrument(t *testing.T) {
	s := NewStore(slog.Default())
	ref := domain.MakeInstrumentID("sim", "REF")
	dep := domain.MakeInstrumentID("sim", "DEP")

	require.NoError(t, s.Apply(testQuote(ref, 100, 99, 101)))
	require.NoError(t, s.Apply(testQuote(dep, 1, 200, 202)), "a lower sequence on another instrument is fine")
}

func TestStoreNotifiesListenersSynchronously(t *testing.T) {
	s := NewStore(slog.Default())
	id := domain.MakeInstrumentID("sim", "REF")

	var seen []domain.MarketSnapshot
	s.Register(ListenerFunc(func(snap domain.MarketSnapshot) {
		seen = append(seen, snap)
	}))

	require.NoError(t, s.Apply(testQuote(id, 1, 99, 101)))
	require.Len(t, seen, 1)
	assert.InDelta(t, 100.0, seen[0].Mid, 1e-9)
	assert.InDelta(t, 2.0, seen[0].Spread, 1e-9)

	// Rejected quotes never reach listeners.
	_ = s.Apply(testQuote(id, 1, 98, 100))
	assert.Len(t, seen, 1)
}

func TestStoreLatestUnknownInstrument(t *testing.T) {
	s := NewStore(slog.Default())
	_, ok := s.Latest(domain.MakeInstrumentID("sim", "MISSING"))
	assert.False(t, ok)
}
