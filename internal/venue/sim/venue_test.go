package sim

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashwalker/pairbot/internal/domain"
)

func testOrder(id string) domain.Order {
	return domain.Order{
		ClientOrderID: id,
		Instrument:    domain.MakeInstrumentID("sim", "REF"),
		Side:          domain.OrderSideBuy,
		Price:         100,
		Size:          5,
		State:         domain.OrderStateSubmitted,
	}
}

func TestSubmitOrderIsIdempotentPerClientID(t *testing.T) {
	v := New(Config{Logger: slog.Default()})

	first, err := v.SubmitOrder(context.Background(), testOrder("cid-1"))
	require.NoError(t, err)
	require.True(t, first.Accepted)

	second, err := v.SubmitOrder(context.Background(), testOrder("cid-1"))
	require.NoError(t, err)
	assert.Equal(t, first.VenueOrderID, second.VenueOrderID,
		"resubmitting the same client order id must not create a second order")
	assert.Equal(t, 2, v.Submissions("cid-1"))
}

func TestAutoFillEmitsAckThenFill(t *testing.T) {
	v := New(Config{AutoFill: true, Logger: slog.Default()})
	events, err := v.OrderEvents(context.Background())
	require.NoError(t, err)

	_, err = v.SubmitOrder(context.Background(), testOrder("cid-1"))
	require.NoError(t, err)

	ack := <-events
	assert.Equal(t, domain.OrderEventAck, ack.Kind)
	fill := <-events
	assert.Equal(t, domain.OrderEventFill, fill.Kind)
	assert.InDelta(t, 5.0, fill.FillSize, 1e-9)
	assert.InDelta(t, 100.0, fill.FillPrice, 1e-9)
}

func TestFailNextSubmitLandsOrderServerSide(t *testing.T) {
	v := New(Config{Logger: slog.Default()})

	order := testOrder("cid-1")
	v.FailNextSubmit(errors.New("timeout"), true, &order)

	_, err := v.SubmitOrder(context.Background(), order)
	require.Error(t, err)
	assert.True(t, domain.IsTransport(err))

	// The failed call landed anyway; a status query finds the order.
	status, err := v.QueryOrder(context.Background(), "cid-1")
	require.NoError(t, err)
	assert.True(t, status.Known)
	assert.Equal(t, domain.OrderStateAcknowledged, status.State)
}

func TestQueryUnknownOrder(t *testing.T) {
	v := New(Config{Logger: slog.Default()})
	status, err := v.QueryOrder(context.Background(), "never-seen")
	require.NoError(t, err)
	assert.False(t, status.Known)
}

func TestCancelOrder(t *testing.T) {
	v := New(Config{Logger: slog.Default()})
	events, err := v.OrderEvents(context.Background())
	require.NoError(t, err)

	_, err = v.SubmitOrder(context.Background(), testOrder("cid-1"))
	require.NoError(t, err)
	<-events // ack

	require.NoError(t, v.CancelOrder(context.Background(), "cid-1"))
	ev := <-events
	assert.Equal(t, domain.OrderEventCancelled, ev.Kind)

	assert.Error(t, v.CancelOrder(context.Background(), "missing"))
	require.NoError(t, v.CancelOrder(context.Background(), "cid-1"),
		"cancelling a terminal order is a no-op")
}
