package marketdata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwalker/pairbot/internal/domain"
)

func TestConflatingQueueKeepsLatestPerInstrument(t *testing.T) {
	q := NewConflatingQueue(4)
	id := domain.MakeInstrumentID("sim", "REF")

	q.Push(domain.VenueQuote{Instrument: id, Sequence: 1, Bid: 99})
	q.Push(domain.VenueQuote{Instrument: id, Sequence: 2, Bid: 100})
	q.Push(domain.VenueQuote{Instrument: id, Sequence: 3, Bid: 101})

	require.Equal(t, 1, q.Len(), "same instrument conflates to one slot")

	quote, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, uint64(3), quote.Sequence, "only the newest quote survives")

	_, ok = q.Pop()
	assert.False(t, ok)
}

func TestConflatingQueuePreservesInstrumentOrder(t *testing.T) {
	q := NewConflatingQueue(4)
	ref := domain.MakeInstrumentID("sim", "REF")
	dep := domain.MakeInstrumentID("sim", "DEP")

	q.Push(domain.VenueQuote{Instrument: ref, Sequence: 1})
	q.Push(domain.VenueQuote{Instrument: dep, Sequence: 1})
	q.Push(domain.VenueQuote{Instrument: ref, Sequence: 2}) // conflates, keeps slot order

	first, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, ref, first.Instrument)
	assert.Equal(t, uint64(2), first.Sequence)

	second, ok := q.Pop()
	require.True(t, ok)
	assert.Equal(t, dep, second.Instrument)
}

func TestConflatingQueueWaitSignals(t *testing.T) {
	q := NewConflatingQueue(4)

	select {
	case <-q.Wait():
		t.Fatal("empty queue must not signal")
	default:
	}

	q.Push(domain.VenueQuote{Instrument: domain.MakeInstrumentID("sim", "REF"), Sequence: 1})
	select {
	case <-q.Wait():
	default:
		t.Fatal("push must signal the wait channel")
	}
}
