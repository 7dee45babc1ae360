package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/ashwalker/pairbot/internal/domain"
)

const journalQueueSize = 256

// orderJournal persists terminal orders to the order store off the core
// loop. Enqueue never blocks; a full queue drops the row with a warning
// rather than stall trading.
type orderJournal struct {
	store  domain.OrderStore
	queue  chan domain.Order
	logger *slog.Logger
}

func newOrderJournal(store domain.OrderStore, logger *slog.Logger) *orderJournal {
	return &orderJournal{
		store:  store,
		queue:  make(chan domain.Order, journalQueueSize),
		logger: logger.With(slog.String("component", "order_journal")),
	}
}

// Enqueue hands a terminal order to the journal worker.
func (j *orderJournal) Enqueue(o domain.Order) {
	select {
	case j.queue <- o:
	default:
		j.logger.Warn("journal queue full, dropping order row",
			slog.String("client_order_id", o.ClientOrderID),
		)
	}
}

// Run drains the journal queue until ctx is cancelled.
func (j *orderJournal) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case o := <-j.queue:
			insertCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := j.store.Insert(insertCtx, o)
			cancel()
			if err != nil {
				j.logger.Error("terminal order insert failed",
					slog.String("client_order_id", o.ClientOrderID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
