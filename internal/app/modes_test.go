package app

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ashwalker/pairbot/internal/config"
	"github.com/ashwalker/pairbot/internal/domain"
)

type historyOrderStore struct {
	limit  int
	orders []domain.Order
	err    error
}

func (s *historyOrderStore) Insert(context.Context, domain.Order) error { return nil }

func (s *historyOrderStore) ListRecent(_ context.Context, limit int) ([]domain.Order, error) {
	s.limit = limit
	return s.orders, s.err
}

func (s *historyOrderStore) ListBefore(context.Context, time.Time) ([]domain.Order, error) {
	return nil, nil
}

type historyOppStore struct {
	limit int
	opps  []domain.Opportunity
}

func (s *historyOppStore) Insert(context.Context, domain.Opportunity) error { return nil }

func (s *historyOppStore) MarkActedOn(context.Context, string) error { return nil }

func (s *historyOppStore) ListRecent(_ context.Context, limit int) ([]domain.Opportunity, error) {
	s.limit = limit
	return s.opps, nil
}

func (s *historyOppStore) ListBefore(context.Context, time.Time) ([]domain.Opportunity, error) {
	return nil, nil
}

func TestLogStoredHistoryQueriesBothStores(t *testing.T) {
	a := New(&config.Config{}, slog.Default())
	orders := &historyOrderStore{orders: []domain.Order{{ClientOrderID: "o-1", LastUpdateAt: time.Now()}}}
	opps := &historyOppStore{opps: []domain.Opportunity{{ID: "opp-1"}}}

	a.logStoredHistory(context.Background(), orders, opps)

	assert.Equal(t, 20, orders.limit)
	assert.Equal(t, 20, opps.limit)
}

func TestLogStoredHistoryToleratesFailures(t *testing.T) {
	a := New(&config.Config{}, slog.Default())
	orders := &historyOrderStore{err: errors.New("connection refused")}

	// Unavailable history must not stop startup, and nil stores are skipped.
	a.logStoredHistory(context.Background(), orders, nil)
	a.logStoredHistory(context.Background(), nil, nil)

	assert.Equal(t, 20, orders.limit)
}
