package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ashwalker/pairbot/internal/domain"
)

// restClient issues signed requests against the Binance spot REST API.
type restClient struct {
	host   string
	key    string
	secret string
	http   *http.Client
	now    func() time.Time
}

func newRestClient(host, key, secret string) *restClient {
	return &restClient{
		host:   host,
		key:    key,
		secret: secret,
		http:   &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// apiError is Binance's JSON error envelope.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// orderResponse covers both order placement and order query payloads.
type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	CumQuoteQty   string `json:"cummulativeQuoteQty"`
}

func (c *restClient) submitOrder(ctx context.Context, order domain.Order) (domain.VenueAck, error) {
	params := url.Values{}
	params.Set("symbol", order.Instrument.Symbol())
	params.Set("side", sideParam(order.Side))
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("price", strconv.FormatFloat(order.Price, 'f', -1, 64))
	params.Set("quantity", strconv.FormatFloat(order.Size, 'f', -1, 64))
	params.Set("newClientOrderId", order.ClientOrderID)

	var resp orderResponse
	if err := c.signedRequest(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return domain.VenueAck{}, err
	}
	return domain.VenueAck{
		ClientOrderID: order.ClientOrderID,
		VenueOrderID:  strconv.FormatInt(resp.OrderID, 10),
		Accepted:      true,
	}, nil
}

func (c *restClient) cancelOrder(ctx context.Context, symbol, clientOrderID string) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)
	return c.signedRequest(ctx, http.MethodDelete, "/api/v3/order", params, nil)
}

func (c *restClient) queryOrder(ctx context.Context, symbol, clientOrderID string) (domain.OrderStatus, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("origClientOrderId", clientOrderID)

	var resp orderResponse
	err := c.signedRequest(ctx, http.MethodGet, "/api/v3/order", params, &resp)
	if err != nil {
		var rej *domain.VenueRejection
		if errors.As(err, &rej) && rej.Code == codeUnknownOrder {
			// The venue never saw this client order id.
			return domain.OrderStatus{ClientOrderID: clientOrderID, Known: false}, nil
		}
		return domain.OrderStatus{}, err
	}

	filled, _ := strconv.ParseFloat(resp.ExecutedQty, 64)
	quote, _ := strconv.ParseFloat(resp.CumQuoteQty, 64)
	status := domain.OrderStatus{
		ClientOrderID: clientOrderID,
		VenueOrderID:  strconv.FormatInt(resp.OrderID, 10),
		Known:         true,
		State:         mapOrderState(resp.Status),
		FilledSize:    filled,
	}
	if filled > 0 {
		status.AvgFillPrice = quote / filled
	}
	return status, nil
}

// codeUnknownOrder is Binance's error code for an order lookup miss.
const codeUnknownOrder = -2013

func (c *restClient) createListenKey(ctx context.Context) (string, error) {
	var resp struct {
		ListenKey string `json:"listenKey"`
	}
	if err := c.keyedRequest(ctx, http.MethodPost, "/api/v3/userDataStream", nil, &resp); err != nil {
		return "", err
	}
	return resp.ListenKey, nil
}

func (c *restClient) keepAliveListenKey(ctx context.Context, listenKey string) error {
	params := url.Values{}
	params.Set("listenKey", listenKey)
	return c.keyedRequest(ctx, http.MethodPut, "/api/v3/userDataStream", params, nil)
}

// signedRequest attaches a timestamp and an HMAC-SHA256 signature over the
// query string, as account endpoints require.
func (c *restClient) signedRequest(ctx context.Context, method, path string, params url.Values, out any) error {
	params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
	mac := hmac.New(sha256.New, []byte(c.secret))
	mac.Write([]byte(params.Encode()))
	params.Set("signature", hex.EncodeToString(mac.Sum(nil)))
	return c.keyedRequest(ctx, method, path, params, out)
}

// keyedRequest sends a request carrying only the API key header.
func (c *restClient) keyedRequest(ctx context.Context, method, path string, params url.Values, out any) error {
	u := c.host + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return &domain.TransportError{Op: "build_request", Err: err}
	}
	req.Header.Set("X-MBX-APIKEY", c.key)

	resp, err := c.http.Do(req)
	if err != nil {
		return &domain.TransportError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &domain.TransportError{Op: "read_response", Err: err}
	}

	if resp.StatusCode >= 500 {
		// Server errors and gateway timeouts leave the request outcome
		// undetermined; the caller must reconcile by query.
		return &domain.TransportError{
			Op:  method + " " + path,
			Err: fmt.Errorf("status %d: %s", resp.StatusCode, body),
		}
	}
	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Code != 0 {
			return &domain.VenueRejection{
				Venue:  "binance",
				Code:   apiErr.Code,
				Reason: apiErr.Msg,
			}
		}
		return &domain.VenueRejection{
			Venue:  "binance",
			Code:   resp.StatusCode,
			Reason: string(body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance: decode %s: %w", path, err)
	}
	return nil
}

func sideParam(s domain.OrderSide) string {
	if s == domain.OrderSideBuy {
		return "BUY"
	}
	return "SELL"
}

// mapOrderState translates Binance order status strings to lifecycle states.
func mapOrderState(status string) domain.OrderState {
	switch status {
	case "NEW":
		return domain.OrderStateAcknowledged
	case "PARTIALLY_FILLED":
		return domain.OrderStatePartiallyFilled
	case "FILLED":
		return domain.OrderStateFilled
	case "CANCELED", "EXPIRED":
		return domain.OrderStateCancelled
	case "REJECTED":
		return domain.OrderStateRejected
	default:
		return domain.OrderStateSubmitted
	}
}
