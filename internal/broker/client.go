package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"flowgate/internal/logger"
	"flowgate/internal/types"
)

// APIError is a non-2xx response from the brokerage API.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("broker api error: status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the brokerage REST API. All mutating calls are idempotent
// via client order IDs supplied by the caller.
type Client struct {
	baseURL   string
	apiKey    string
	apiSecret string
	http      *http.Client
}

func NewClient(baseURL, apiKey, apiSecret string, timeout time.Duration) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		http:      &http.Client{Timeout: timeout},
	}
}

func (c *Client) doJSON(ctx context.Context, method, path string, query url.Values, body any, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("APCA-API-KEY-ID", c.apiKey)
	req.Header.Set("APCA-API-SECRET-KEY", c.apiSecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		if len(msg) > 300 {
			msg = msg[:300]
		}
		logger.Warnf("broker: %s %s -> %d", method, path, resp.StatusCode)
		return &APIError{StatusCode: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding broker response for %s failed: %w", path, err)
	}
	return nil
}

func (c *Client) Account(ctx context.Context) (types.AccountSnapshot, error) {
	var raw struct {
		Equity      string `json:"equity"`
		Cash        string `json:"cash"`
		BuyingPower string `json:"buying_power"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v2/account", nil, nil, &raw); err != nil {
		return types.AccountSnapshot{}, err
	}
	return types.AccountSnapshot{
		Equity:      parseFloat(raw.Equity),
		Cash:        parseFloat(raw.Cash),
		BuyingPower: parseFloat(raw.BuyingPower),
	}, nil
}

func (c *Client) Positions(ctx context.Context) ([]BrokerPosition, error) {
	var raw []struct {
		Symbol        string `json:"symbol"`
		Qty           string `json:"qty"`
		AvgEntryPrice string `json:"avg_entry_price"`
		MarketValue   string `json:"market_value"`
		CurrentPrice  string `json:"current_price"`
		AssetClass    string `json:"asset_class"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v2/positions", nil, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]BrokerPosition, 0, len(raw))
	for _, p := range raw {
		if p.AssetClass != "us_option" {
			continue
		}
		out = append(out, BrokerPosition{
			ContractSymbol: p.Symbol,
			Quantity:       int(parseFloat(p.Qty)),
			AvgEntryPrice:  parseFloat(p.AvgEntryPrice),
			MarketValue:    parseFloat(p.MarketValue),
			CurrentPrice:   parseFloat(p.CurrentPrice),
		})
	}
	return out, nil
}

func (c *Client) SearchContracts(ctx context.Context, underlying string, optType types.OptionType, expirationFrom, expirationTo string) ([]OptionContract, error) {
	q := url.Values{}
	q.Set("underlying_symbols", underlying)
	q.Set("type", string(optType))
	q.Set("expiration_date_gte", expirationFrom)
	q.Set("expiration_date_lte", expirationTo)
	q.Set("limit", "500")

	var raw struct {
		Contracts []struct {
			Symbol           string `json:"symbol"`
			UnderlyingSymbol string `json:"underlying_symbol"`
			Type             string `json:"type"`
			StrikePrice      string `json:"strike_price"`
			ExpirationDate   string `json:"expiration_date"`
			OpenInterest     string `json:"open_interest"`
		} `json:"option_contracts"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v2/options/contracts", q, nil, &raw); err != nil {
		return nil, err
	}
	out := make([]OptionContract, 0, len(raw.Contracts))
	for _, rc := range raw.Contracts {
		out = append(out, OptionContract{
			Symbol:       rc.Symbol,
			Underlying:   rc.UnderlyingSymbol,
			OptionType:   types.OptionType(rc.Type),
			Strike:       parseFloat(rc.StrikePrice),
			Expiration:   rc.ExpirationDate,
			OpenInterest: int(parseFloat(rc.OpenInterest)),
		})
	}
	return out, nil
}

func (c *Client) ContractQuote(ctx context.Context, contractSymbol string) (Quote, error) {
	q := url.Values{}
	q.Set("symbols", contractSymbol)
	var raw struct {
		Quotes map[string]struct {
			BidPrice float64 `json:"bp"`
			AskPrice float64 `json:"ap"`
			BidSize  int     `json:"bs"`
			AskSize  int     `json:"as"`
			Time     string  `json:"t"`
		} `json:"quotes"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1beta1/options/quotes/latest", q, nil, &raw); err != nil {
		return Quote{}, err
	}
	entry, ok := raw.Quotes[contractSymbol]
	if !ok {
		return Quote{}, fmt.Errorf("no quote for %s", contractSymbol)
	}
	asOf, _ := time.Parse(time.RFC3339Nano, entry.Time)
	return Quote{
		Bid:     entry.BidPrice,
		Ask:     entry.AskPrice,
		BidSize: entry.BidSize,
		AskSize: entry.AskSize,
		AsOf:    asOf,
	}, nil
}

type orderPayload struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	TimeInForce   string `json:"time_in_force"`
	LimitPrice    string `json:"limit_price"`
	ClientOrderID string `json:"client_order_id"`
}

type orderResponse struct {
	ID             string `json:"id"`
	ClientOrderID  string `json:"client_order_id"`
	Symbol         string `json:"symbol"`
	Side           string `json:"side"`
	Qty            string `json:"qty"`
	LimitPrice     string `json:"limit_price"`
	Status         string `json:"status"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
	SubmittedAt    string `json:"submitted_at"`
}

func (r orderResponse) toOrder() Order {
	submitted, _ := time.Parse(time.RFC3339Nano, r.SubmittedAt)
	return Order{
		ID:             r.ID,
		ClientOrderID:  r.ClientOrderID,
		ContractSymbol: r.Symbol,
		Side:           OrderSide(r.Side),
		Quantity:       int(parseFloat(r.Qty)),
		LimitPrice:     parseFloat(r.LimitPrice),
		Status:         OrderStatus(r.Status),
		FilledQty:      int(parseFloat(r.FilledQty)),
		FilledAvgPrice: parseFloat(r.FilledAvgPrice),
		SubmittedAt:    submitted,
	}
}

func (c *Client) PlaceLimitOrder(ctx context.Context, contractSymbol string, side OrderSide, qty int, limitPrice float64, clientOrderID string) (Order, error) {
	payload := orderPayload{
		Symbol:        contractSymbol,
		Qty:           strconv.Itoa(qty),
		Side:          string(side),
		Type:          "limit",
		TimeInForce:   "day",
		LimitPrice:    strconv.FormatFloat(limitPrice, 'f', 2, 64),
		ClientOrderID: clientOrderID,
	}
	var resp orderResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v2/orders", nil, payload, &resp); err != nil {
		return Order{}, err
	}
	return resp.toOrder(), nil
}

func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.doJSON(ctx, http.MethodDelete, "/v2/orders/"+orderID, nil, nil, nil)
}

func (c *Client) OrderByID(ctx context.Context, orderID string) (Order, error) {
	var resp orderResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v2/orders/"+orderID, nil, nil, &resp); err != nil {
		return Order{}, err
	}
	return resp.toOrder(), nil
}

func (c *Client) OrderByClientID(ctx context.Context, clientOrderID string) (Order, error) {
	q := url.Values{}
	q.Set("client_order_id", clientOrderID)
	var resp orderResponse
	if err := c.doJSON(ctx, http.MethodGet, "/v2/orders:by_client_order_id", q, nil, &resp); err != nil {
		return Order{}, err
	}
	return resp.toOrder(), nil
}

func (c *Client) DailyCloses(ctx context.Context, symbol string, limit int) ([]float64, error) {
	q := url.Values{}
	q.Set("timeframe", "1Day")
	q.Set("limit", strconv.Itoa(limit))
	var raw struct {
		Bars []struct {
			Close float64 `json:"c"`
		} `json:"bars"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v2/stocks/"+symbol+"/bars", q, nil, &raw); err != nil {
		return nil, err
	}
	closes := make([]float64, 0, len(raw.Bars))
	for _, b := range raw.Bars {
		closes = append(closes, b.Close)
	}
	return closes, nil
}

func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	var raw struct {
		Trade struct {
			Price float64 `json:"p"`
		} `json:"trade"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v2/stocks/"+symbol+"/trades/latest", nil, nil, &raw); err != nil {
		return 0, err
	}
	return raw.Trade.Price, nil
}

// NextEarningsDate returns the upcoming earnings date (YYYY-MM-DD) or empty
// when none is scheduled.
func (c *Client) NextEarningsDate(ctx context.Context, symbol string) (string, error) {
	q := url.Values{}
	q.Set("symbols", symbol)
	var raw struct {
		Earnings []struct {
			Symbol string `json:"symbol"`
			Date   string `json:"date"`
		} `json:"earnings"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1beta1/corporate-actions/earnings", q, nil, &raw); err != nil {
		return "", err
	}
	for _, e := range raw.Earnings {
		if e.Symbol == symbol {
			return e.Date, nil
		}
	}
	return "", nil
}

// parseFloat reads a broker numeric field. Empty means absent and reads as
// zero; anything else that fails to parse is logged because a garbled equity
// or quantity silently read as zero would distort every downstream risk check.
func parseFloat(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		logger.Warnf("broker: malformed numeric %q: %v", s, err)
		return 0
	}
	return v
}
