package binance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwalker/pairbot/internal/domain"
)

func TestReportToEventMapsExecTypes(t *testing.T) {
	base := executionReport{
		EventType:     "executionReport",
		ClientOrderID: "cid-1",
		OrderID:       42,
		TradeTime:     1700000000000,
	}

	t.Run("new", func(t *testing.T) {
		r := base
		r.ExecType = "NEW"
		ev, ok := reportToEvent(r)
		require.True(t, ok)
		assert.Equal(t, domain.OrderEventAck, ev.Kind)
		assert.Equal(t, "cid-1", ev.ClientOrderID)
		assert.Equal(t, "42", ev.VenueOrderID)
	})

	t.Run("trade", func(t *testing.T) {
		r := base
		r.ExecType = "TRADE"
		r.LastFillQty = "0.25"
		r.LastFillPrice = "50000.5"
		ev, ok := reportToEvent(r)
		require.True(t, ok)
		assert.Equal(t, domain.OrderEventFill, ev.Kind)
		assert.InDelta(t, 0.25, ev.FillSize, 1e-9)
		assert.InDelta(t, 50000.5, ev.FillPrice, 1e-9)
	})

	t.Run("trade with bad numbers dropped", func(t *testing.T) {
		r := base
		r.ExecType = "TRADE"
		r.LastFillQty = "bogus"
		_, ok := reportToEvent(r)
		assert.False(t, ok)
	})

	t.Run("canceled", func(t *testing.T) {
		r := base
		r.ExecType = "CANCELED"
		// Cancels carry the original id in C; c holds the cancel's own id.
		r.ClientOrderID = "cancel-op-id"
		r.OrigClientID = "cid-1"
		ev, ok := reportToEvent(r)
		require.True(t, ok)
		assert.Equal(t, domain.OrderEventCancelled, ev.Kind)
		assert.Equal(t, "cid-1", ev.ClientOrderID)
	})

	t.Run("rejected", func(t *testing.T) {
		r := base
		r.ExecType = "REJECTED"
		r.RejectReason = "INSUFFICIENT_BALANCE"
		ev, ok := reportToEvent(r)
		require.True(t, ok)
		assert.Equal(t, domain.OrderEventRejected, ev.Kind)
		assert.Equal(t, "INSUFFICIENT_BALANCE", ev.Reason)
	})

	t.Run("replaced ignored", func(t *testing.T) {
		r := base
		r.ExecType = "REPLACED"
		_, ok := reportToEvent(r)
		assert.False(t, ok)
	})
}
