// Package binance implements the venue adapter contract against the Binance
// spot API: combined bookTicker WebSocket streams for market data, signed
// REST calls for order entry, and the user data stream for asynchronous
// order callbacks.
package binance

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/ashwalker/pairbot/internal/domain"
)

// Config holds Binance endpoints and credentials.
type Config struct {
	WsHost    string // e.g. wss://stream.binance.com:9443
	RestHost  string // e.g. https://api.binance.com
	ApiKey    string
	ApiSecret string
	Logger    *slog.Logger
}

// Adapter implements domain.VenueAdapter for Binance.
type Adapter struct {
	cfg  Config
	rest *restClient

	// symbol -> instrument mapping, built from Subscribe.
	mu         sync.Mutex
	instrument map[string]domain.InstrumentID
	symbols    map[string]string // client order id -> symbol, for cancel/query

	logger *slog.Logger
}

// New creates a Binance adapter.
func New(cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "binance"))
	return &Adapter{
		cfg:        cfg,
		rest:       newRestClient(cfg.RestHost, cfg.ApiKey, cfg.ApiSecret),
		instrument: make(map[string]domain.InstrumentID),
		symbols:    make(map[string]string),
		logger:     logger,
	}
}

// Name implements domain.VenueAdapter.
func (a *Adapter) Name() string { return "binance" }

// Subscribe implements domain.VenueAdapter. It connects to the combined
// bookTicker stream for the given instruments and reconnects with backoff
// until ctx is cancelled.
func (a *Adapter) Subscribe(ctx context.Context, instruments []domain.InstrumentID) (<-chan domain.VenueQuote, error) {
	streams := make([]string, 0, len(instruments))
	a.mu.Lock()
	for _, id := range instruments {
		sym := strings.ToUpper(id.Symbol())
		a.instrument[sym] = id
		streams = append(streams, strings.ToLower(sym)+"@bookTicker")
	}
	a.mu.Unlock()

	out := make(chan domain.VenueQuote, 256)
	feed := newBookTickerFeed(a.cfg.WsHost, streams, a.resolve, a.logger)
	go func() {
		defer close(out)
		feed.run(ctx, out)
	}()
	return out, nil
}

// resolve maps a Binance symbol back to the registered instrument id.
func (a *Adapter) resolve(symbol string) (domain.InstrumentID, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id, ok := a.instrument[strings.ToUpper(symbol)]
	return id, ok
}

// OrderEvents implements domain.VenueAdapter via the user data stream.
func (a *Adapter) OrderEvents(ctx context.Context) (<-chan domain.OrderEvent, error) {
	listenKey, err := a.rest.createListenKey(ctx)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.OrderEvent, 256)
	feed := newUserDataFeed(a.cfg.WsHost, listenKey, a.rest, a.logger)
	go func() {
		defer close(out)
		feed.run(ctx, out)
	}()
	return out, nil
}

// SubmitOrder implements domain.VenueAdapter. The client order id is passed
// through as newClientOrderId so a resubmission after a transport failure
// cannot create a second venue order.
func (a *Adapter) SubmitOrder(ctx context.Context, order domain.Order) (domain.VenueAck, error) {
	a.mu.Lock()
	a.symbols[order.ClientOrderID] = strings.ToUpper(order.Instrument.Symbol())
	a.mu.Unlock()
	return a.rest.submitOrder(ctx, order)
}

// CancelOrder implements domain.VenueAdapter.
func (a *Adapter) CancelOrder(ctx context.Context, clientOrderID string) error {
	return a.rest.cancelOrder(ctx, a.symbolFor(clientOrderID), clientOrderID)
}

// QueryOrder implements domain.VenueAdapter.
func (a *Adapter) QueryOrder(ctx context.Context, clientOrderID string) (domain.OrderStatus, error) {
	return a.rest.queryOrder(ctx, a.symbolFor(clientOrderID), clientOrderID)
}

func (a *Adapter) symbolFor(clientOrderID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.symbols[clientOrderID]
}
