package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ashwalker/pairbot/internal/domain"
)

// OpportunityStore implements domain.OpportunityStore using PostgreSQL.
type OpportunityStore struct {
	pool *pgxpool.Pool
}

// NewOpportunityStore creates an OpportunityStore backed by the given pool.
func NewOpportunityStore(pool *pgxpool.Pool) *OpportunityStore {
	return &OpportunityStore{pool: pool}
}

// Insert writes one generated opportunity.
func (s *OpportunityStore) Insert(ctx context.Context, opp domain.Opportunity) error {
	const query = `
		INSERT INTO opportunities (
			id, group_id, generation, reference, dependent,
			buy_instrument, sell_instrument, z_score, expected_edge,
			required_size, ref_price, dep_price, hedge_ratio,
			created_at, expires_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13,
			$14, $15
		)`

	_, err := s.pool.Exec(ctx, query,
		opp.ID, opp.GroupID, int64(opp.Generation), string(opp.Reference), string(opp.Dependent),
		string(opp.BuyInstrument), string(opp.SellInstrument), opp.ZScore, opp.ExpectedEdge,
		opp.RequiredSize, opp.RefPrice, opp.DepPrice, opp.HedgeRatio,
		opp.CreatedAt, opp.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert opportunity %s: %w", opp.ID, err)
	}
	return nil
}

// MarkActedOn flags an opportunity the executor accepted.
func (s *OpportunityStore) MarkActedOn(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE opportunities SET acted_on = TRUE, acted_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: mark opportunity %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: mark opportunity %s: not found", id)
	}
	return nil
}

const oppSelectCols = `id, group_id, generation, reference, dependent,
	buy_instrument, sell_instrument, z_score, expected_edge,
	required_size, ref_price, dep_price, hedge_ratio,
	created_at, expires_at`

func scanOpportunity(scanner interface{ Scan(dest ...any) error }) (domain.Opportunity, error) {
	var opp domain.Opportunity
	var generation int64
	var reference, dependent, buy, sell string

	err := scanner.Scan(
		&opp.ID, &opp.GroupID, &generation, &reference, &dependent,
		&buy, &sell, &opp.ZScore, &opp.ExpectedEdge,
		&opp.RequiredSize, &opp.RefPrice, &opp.DepPrice, &opp.HedgeRatio,
		&opp.CreatedAt, &opp.ExpiresAt,
	)
	if err != nil {
		return domain.Opportunity{}, err
	}

	opp.Generation = uint64(generation)
	opp.Reference = domain.InstrumentID(reference)
	opp.Dependent = domain.InstrumentID(dependent)
	opp.BuyInstrument = domain.InstrumentID(buy)
	opp.SellInstrument = domain.InstrumentID(sell)
	return opp, nil
}

func scanOpportunityRows(rows pgx.Rows) ([]domain.Opportunity, error) {
	var opps []domain.Opportunity
	for rows.Next() {
		opp, err := scanOpportunity(rows)
		if err != nil {
			return nil, err
		}
		opps = append(opps, opp)
	}
	return opps, rows.Err()
}

// ListRecent returns the most recently generated opportunities, newest first.
func (s *OpportunityStore) ListRecent(ctx context.Context, limit int) ([]domain.Opportunity, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+oppSelectCols+` FROM opportunities
		 ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent opportunities: %w", err)
	}
	defer rows.Close()

	opps, err := scanOpportunityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan recent opportunities: %w", err)
	}
	return opps, nil
}

// ListBefore returns opportunities generated before the given time, oldest
// first. Used by the retention job.
func (s *OpportunityStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Opportunity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+oppSelectCols+` FROM opportunities
		 WHERE created_at < $1 ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list opportunities before %s: %w", before, err)
	}
	defer rows.Close()

	opps, err := scanOpportunityRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan opportunities before: %w", err)
	}
	return opps, nil
}

// GetByID retrieves a single opportunity.
func (s *OpportunityStore) GetByID(ctx context.Context, id string) (domain.Opportunity, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+oppSelectCols+` FROM opportunities WHERE id = $1`, id)

	opp, err := scanOpportunity(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Opportunity{}, fmt.Errorf("postgres: opportunity %s: not found", id)
		}
		return domain.Opportunity{}, fmt.Errorf("postgres: get opportunity %s: %w", id, err)
	}
	return opp, nil
}

// DeleteBefore removes opportunities generated before the given time.
func (s *OpportunityStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM opportunities WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete opportunities before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}
