package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ashwalker/pairbot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong from the peer.
	// Binance pings roughly every 3 minutes.
	pongWait = 4 * time.Minute

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// bookTickerMessage is one payload from a combined bookTicker stream.
type bookTickerMessage struct {
	Stream string `json:"stream"`
	Data   struct {
		UpdateID uint64 `json:"u"`
		Symbol   string `json:"s"`
		BidPrice string `json:"b"`
		BidQty   string `json:"B"`
		AskPrice string `json:"a"`
		AskQty   string `json:"A"`
	} `json:"data"`
}

// bookTickerFeed reads a combined bookTicker stream and converts each payload
// into a VenueQuote. Binance's update id is monotonic per symbol and is used
// directly as the quote sequence.
type bookTickerFeed struct {
	wsHost  string
	streams []string
	resolve func(symbol string) (domain.InstrumentID, bool)
	logger  *slog.Logger
}

func newBookTickerFeed(wsHost string, streams []string, resolve func(string) (domain.InstrumentID, bool), logger *slog.Logger) *bookTickerFeed {
	return &bookTickerFeed{
		wsHost:  wsHost,
		streams: streams,
		resolve: resolve,
		logger:  logger.With(slog.String("component", "binance_book_feed")),
	}
}

// run connects and reads until ctx is cancelled, reconnecting with
// exponential backoff on disconnect.
func (f *bookTickerFeed) run(ctx context.Context, out chan<- domain.VenueQuote) {
	url := fmt.Sprintf("%s/stream?streams=%s", f.wsHost, strings.Join(f.streams, "/"))
	delay := reconnectDelay

	for {
		if ctx.Err() != nil {
			return
		}
		err := f.runConnection(ctx, url, out)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("book ticker stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *bookTickerFeed) runConnection(ctx context.Context, url string, out chan<- domain.VenueQuote) error {
	conn, err := dial(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()
	go closeOnDone(ctx, conn)

	f.logger.Info("book ticker stream connected", slog.Int("streams", len(f.streams)))

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return &domain.TransportError{Op: "read_book_ticker", Err: err}
		}
		var msg bookTickerMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		id, ok := f.resolve(msg.Data.Symbol)
		if !ok {
			continue
		}
		bid, err1 := strconv.ParseFloat(msg.Data.BidPrice, 64)
		ask, err2 := strconv.ParseFloat(msg.Data.AskPrice, 64)
		bidQty, err3 := strconv.ParseFloat(msg.Data.BidQty, 64)
		askQty, err4 := strconv.ParseFloat(msg.Data.AskQty, 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		quote := domain.VenueQuote{
			Instrument: id,
			Bid:        bid,
			Ask:        ask,
			BidSize:    bidQty,
			AskSize:    askQty,
			Sequence:   msg.Data.UpdateID,
			Timestamp:  time.Now(),
		}
		select {
		case out <- quote:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// executionReport is the user data stream payload for order updates.
type executionReport struct {
	EventType     string `json:"e"`
	ClientOrderID string `json:"c"`
	OrigClientID  string `json:"C"` // set on cancels, where "c" is the cancel's own id
	OrderID       int64  `json:"i"`
	ExecType      string `json:"x"`
	OrderStatus   string `json:"X"`
	RejectReason  string `json:"r"`
	LastFillQty   string `json:"l"`
	LastFillPrice string `json:"L"`
	TradeTime     int64  `json:"T"`
}

// userDataFeed reads the user data stream and converts executionReport
// messages into order events. The listen key is kept alive every 30 minutes.
type userDataFeed struct {
	wsHost    string
	listenKey string
	rest      *restClient
	logger    *slog.Logger
}

func newUserDataFeed(wsHost, listenKey string, rest *restClient, logger *slog.Logger) *userDataFeed {
	return &userDataFeed{
		wsHost:    wsHost,
		listenKey: listenKey,
		rest:      rest,
		logger:    logger.With(slog.String("component", "binance_user_feed")),
	}
}

func (f *userDataFeed) run(ctx context.Context, out chan<- domain.OrderEvent) {
	url := fmt.Sprintf("%s/ws/%s", f.wsHost, f.listenKey)
	delay := reconnectDelay

	go f.keepAlive(ctx)

	for {
		if ctx.Err() != nil {
			return
		}
		err := f.runConnection(ctx, url, out)
		if ctx.Err() != nil {
			return
		}
		f.logger.Warn("user data stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

func (f *userDataFeed) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.rest.keepAliveListenKey(ctx, f.listenKey); err != nil {
				f.logger.Warn("listen key keepalive failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (f *userDataFeed) runConnection(ctx context.Context, url string, out chan<- domain.OrderEvent) error {
	conn, err := dial(ctx, url)
	if err != nil {
		return err
	}
	defer conn.Close()
	go closeOnDone(ctx, conn)

	f.logger.Info("user data stream connected")

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return &domain.TransportError{Op: "read_user_data", Err: err}
		}
		var report executionReport
		if err := json.Unmarshal(raw, &report); err != nil {
			continue
		}
		if report.EventType != "executionReport" {
			continue
		}
		ev, ok := reportToEvent(report)
		if !ok {
			continue
		}
		select {
		case out <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// reportToEvent maps one executionReport to an order event keyed by the
// client order id the core minted.
func reportToEvent(r executionReport) (domain.OrderEvent, bool) {
	clientID := r.ClientOrderID
	if r.OrigClientID != "" {
		clientID = r.OrigClientID
	}
	ev := domain.OrderEvent{
		ClientOrderID: clientID,
		VenueOrderID:  strconv.FormatInt(r.OrderID, 10),
		Timestamp:     time.UnixMilli(r.TradeTime),
	}
	switch r.ExecType {
	case "NEW":
		ev.Kind = domain.OrderEventAck
	case "TRADE":
		ev.Kind = domain.OrderEventFill
		price, err1 := strconv.ParseFloat(r.LastFillPrice, 64)
		qty, err2 := strconv.ParseFloat(r.LastFillQty, 64)
		if err1 != nil || err2 != nil {
			return domain.OrderEvent{}, false
		}
		ev.FillPrice = price
		ev.FillSize = qty
	case "CANCELED", "EXPIRED":
		ev.Kind = domain.OrderEventCancelled
		ev.Reason = r.ExecType
	case "REJECTED":
		ev.Kind = domain.OrderEventRejected
		ev.Reason = r.RejectReason
	default:
		return domain.OrderEvent{}, false
	}
	return ev, true
}

func dial(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, &domain.TransportError{Op: "ws_connect", Err: err}
	}
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.PongMessage, []byte(appData))
	})
	return conn, nil
}

// closeOnDone forces the blocked ReadMessage to return when ctx ends.
func closeOnDone(ctx context.Context, conn *websocket.Conn) {
	<-ctx.Done()
	_ = conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	_ = conn.Close()
}
