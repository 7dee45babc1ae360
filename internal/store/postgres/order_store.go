package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashwalker/pairbot/internal/domain"
)

// OrderStore implements domain.OrderStore using PostgreSQL. Only terminal
// orders land here; live order state is owned by the execution engine.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore creates an OrderStore backed by the given connection pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Insert writes one terminal order. The client order id is the primary key;
// re-inserting the same order is a conflict.
func (s *OrderStore) Insert(ctx context.Context, o domain.Order) error {
	const query = `
		INSERT INTO orders (
			client_order_id, venue_order_id, instrument, group_id,
			opportunity_id, side, price, size, filled_size, avg_fill_price,
			state, reconcile_needed, created_at, submitted_at, last_update_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		o.ClientOrderID, o.VenueOrderID, string(o.Instrument), o.GroupID,
		o.OpportunityID, string(o.Side), o.Price, o.Size, o.FilledSize, o.AvgFillPrice,
		string(o.State), o.ReconcileNeeded, o.CreatedAt, o.SubmittedAt, o.LastUpdateAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert order %s: %w", o.ClientOrderID, err)
	}
	return nil
}

const orderSelectCols = `client_order_id, venue_order_id, instrument, group_id,
	opportunity_id, side, price, size, filled_size, avg_fill_price,
	state, reconcile_needed, created_at, submitted_at, last_update_at`

func scanOrder(scanner interface{ Scan(dest ...any) error }) (domain.Order, error) {
	var o domain.Order
	var instrument, side, state string

	err := scanner.Scan(
		&o.ClientOrderID, &o.VenueOrderID, &instrument, &o.GroupID,
		&o.OpportunityID, &side, &o.Price, &o.Size, &o.FilledSize, &o.AvgFillPrice,
		&state, &o.ReconcileNeeded, &o.CreatedAt, &o.SubmittedAt, &o.LastUpdateAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	o.Instrument = domain.InstrumentID(instrument)
	o.Side = domain.OrderSide(side)
	o.State = domain.OrderState(state)
	return o, nil
}

func scanOrderRows(rows pgx.Rows) ([]domain.Order, error) {
	var orders []domain.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListRecent returns the most recently updated orders, newest first.
func (s *OrderStore) ListRecent(ctx context.Context, limit int) ([]domain.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 ORDER BY last_update_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent orders: %w", err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent orders: %w", err)
	}
	return orders, nil
}

// ListBefore returns orders last updated before the given time, oldest first.
// Used by the retention job to archive and prune old rows.
func (s *OrderStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderSelectCols+` FROM orders
		 WHERE last_update_at < $1 ORDER BY last_update_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list orders before %s: %w", before, err)
	}
	defer rows.Close()

	orders, err := scanOrderRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan orders before: %w", err)
	}
	return orders, nil
}

// DeleteBefore removes orders last updated before the given time. Returns the
// number of rows deleted.
func (s *OrderStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM orders WHERE last_update_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete orders before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}
