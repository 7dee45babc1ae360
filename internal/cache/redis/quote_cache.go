package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ashwalker/pairbot/internal/domain"
)

// quoteTTL expires cached quotes that the engine stopped refreshing, so
// external readers never see a dead instrument as live.
const quoteTTL = 30 * time.Second

// QuoteCache mirrors the latest accepted snapshot per instrument into Redis
// hashes for external dashboards. Each instrument is stored at
// "quote:{instrument}" with bid/ask/sizes, sequence, and a nanosecond
// timestamp.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(id domain.InstrumentID) string {
	return "quote:" + string(id)
}

// SetQuote stores the latest quote for an instrument.
func (qc *QuoteCache) SetQuote(ctx context.Context, q domain.VenueQuote) error {
	key := quoteKey(q.Instrument)
	fields := map[string]interface{}{
		"bid":      strconv.FormatFloat(q.Bid, 'f', -1, 64),
		"ask":      strconv.FormatFloat(q.Ask, 'f', -1, 64),
		"bid_size": strconv.FormatFloat(q.BidSize, 'f', -1, 64),
		"ask_size": strconv.FormatFloat(q.AskSize, 'f', -1, 64),
		"sequence": strconv.FormatUint(q.Sequence, 10),
		"ts":       strconv.FormatInt(q.Timestamp.UnixNano(), 10),
	}
	pipe := qc.rdb.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, quoteTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", q.Instrument, err)
	}
	return nil
}

// GetQuote retrieves the latest cached quote for an instrument. It returns
// domain.ErrUnknownInstrument when nothing is cached.
func (qc *QuoteCache) GetQuote(ctx context.Context, id domain.InstrumentID) (domain.VenueQuote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(id)).Result()
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("redis: get quote %s: %w", id, err)
	}
	if len(vals) == 0 {
		return domain.VenueQuote{}, fmt.Errorf("redis: %w: %s", domain.ErrUnknownInstrument, id)
	}

	return parseQuote(id, vals)
}

func parseQuote(id domain.InstrumentID, vals map[string]string) (domain.VenueQuote, error) {
	q := domain.VenueQuote{Instrument: id}
	var parseErr error
	parse := func(field string) float64 {
		v, err := strconv.ParseFloat(vals[field], 64)
		if err != nil && parseErr == nil {
			parseErr = fmt.Errorf("redis: parse %s for %s: %w", field, id, err)
		}
		return v
	}
	q.Bid = parse("bid")
	q.Ask = parse("ask")
	q.BidSize = parse("bid_size")
	q.AskSize = parse("ask_size")
	if parseErr != nil {
		return domain.VenueQuote{}, parseErr
	}

	seq, err := strconv.ParseUint(vals["sequence"], 10, 64)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("redis: parse sequence for %s: %w", id, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.VenueQuote{}, fmt.Errorf("redis: parse ts for %s: %w", id, err)
	}
	q.Sequence = seq
	q.Timestamp = time.Unix(0, tsNano)
	return q, nil
}

// GetQuotes retrieves cached quotes for multiple instruments using a
// pipeline. Instruments with no cached quote are silently omitted.
func (qc *QuoteCache) GetQuotes(ctx context.Context, ids []domain.InstrumentID) (map[domain.InstrumentID]domain.VenueQuote, error) {
	if len(ids) == 0 {
		return map[domain.InstrumentID]domain.VenueQuote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[domain.InstrumentID]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, quoteKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[domain.InstrumentID]domain.VenueQuote, len(ids))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := parseQuote(id, vals)
		if err != nil {
			continue
		}
		result[id] = q
	}

	return result, nil
}
