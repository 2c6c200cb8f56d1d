package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"flowgate/internal/logger"
	"flowgate/internal/types"
)

// ProviderError marks a failure of the flow feed itself, as opposed to a bad
// individual alert. The scheduler counts these against the circuit breaker.
type ProviderError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("flow provider %s failed: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("flow provider %s failed: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Client fetches options-flow alerts from the provider's REST feed.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// rawAlert is the provider's wire shape for a single flow print.
type rawAlert struct {
	ID              string  `json:"id"`
	Ticker          string  `json:"ticker"`
	Type            string  `json:"type"` // "call" / "put"
	Strike          float64 `json:"strike,string"`
	Expiry          string  `json:"expiry"`
	TotalPremium    float64 `json:"total_premium,string"`
	TotalSize       int     `json:"total_size"`
	Volume          int     `json:"volume"`
	OpenInterest    int     `json:"open_interest"`
	VolumeOIRatio   float64 `json:"volume_oi_ratio,string"`
	IVRank          float64 `json:"iv_rank,string"`
	HasSweep        bool    `json:"has_sweep"`
	HasFloor        bool    `json:"has_floor"`
	SidePct         float64 `json:"ask_side_pct,string"`
	OpeningPct      float64 `json:"opening_pct,string"`
	UnderlyingPrice float64 `json:"underlying_price,string"`
	ExecutedAt      int64   `json:"executed_at"` // unix millis
}

type alertsResponse struct {
	Data []rawAlert `json:"data"`
}

// FetchNewerThan returns alerts strictly newer than the watermark, oldest
// first, plus the max alert timestamp seen (zero time when empty).
func (c *Client) FetchNewerThan(ctx context.Context, watermark time.Time) ([]types.FlowSignal, time.Time, error) {
	q := url.Values{}
	if !watermark.IsZero() {
		q.Set("newer_than", fmt.Sprintf("%d", watermark.UnixMilli()))
	}
	q.Set("limit", "200")
	endpoint := fmt.Sprintf("%s/api/option-trades/flow-alerts?%s", c.baseURL, q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, time.Time{}, &ProviderError{Op: "fetch", Err: err}
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, time.Time{}, &ProviderError{Op: "fetch", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, time.Time{}, &ProviderError{Op: "read", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, time.Time{}, &ProviderError{Op: "fetch", StatusCode: resp.StatusCode}
	}

	var parsed alertsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, time.Time{}, &ProviderError{Op: "decode", Err: err}
	}

	signals := make([]types.FlowSignal, 0, len(parsed.Data))
	var maxTS time.Time
	for _, raw := range parsed.Data {
		sig, ok := parseAlert(raw)
		if !ok {
			logger.Debugf("flow: dropping malformed alert id=%s ticker=%s", raw.ID, raw.Ticker)
			continue
		}
		if !sig.Timestamp.After(watermark) {
			continue
		}
		if sig.Timestamp.After(maxTS) {
			maxTS = sig.Timestamp
		}
		signals = append(signals, sig)
	}
	return signals, maxTS, nil
}

// parseAlert normalizes one wire alert. Side and opening flags come from the
// provider's percentage fields; majority rules.
func parseAlert(raw rawAlert) (types.FlowSignal, bool) {
	optType := types.OptionType(strings.ToLower(strings.TrimSpace(raw.Type)))
	if !optType.Valid() {
		return types.FlowSignal{}, false
	}
	if raw.ID == "" || raw.Ticker == "" || raw.Strike <= 0 || raw.ExecutedAt <= 0 {
		return types.FlowSignal{}, false
	}

	isAskSide := raw.SidePct > 0.5
	sig := types.FlowSignal{
		ID:              raw.ID,
		Symbol:          strings.ToUpper(strings.TrimSpace(raw.Ticker)),
		OptionType:      optType,
		Strike:          raw.Strike,
		Expiration:      raw.Expiry,
		Premium:         raw.TotalPremium,
		Size:            raw.TotalSize,
		Volume:          raw.Volume,
		OpenInterest:    raw.OpenInterest,
		VolOIRatio:      raw.VolumeOIRatio,
		IVRank:          raw.IVRank,
		IsSweep:         raw.HasSweep,
		IsAskSide:       isAskSide,
		IsFloor:         raw.HasFloor,
		IsOpening:       raw.OpeningPct > 0.5,
		UnderlyingPrice: raw.UnderlyingPrice,
		Timestamp:       time.UnixMilli(raw.ExecutedAt).UTC(),
		Sentiment:       deriveSentiment(optType, isAskSide),
	}
	if sig.UnderlyingPrice > 0 {
		if optType == types.Call {
			sig.IsOTM = sig.Strike > sig.UnderlyingPrice
		} else {
			sig.IsOTM = sig.Strike < sig.UnderlyingPrice
		}
	}
	return sig, true
}

// deriveSentiment reads direction off the print: aggressive (ask-side) call
// buying is bullish, aggressive put buying bearish, and bid-side the mirror.
func deriveSentiment(t types.OptionType, askSide bool) types.Sentiment {
	if (t == types.Call) == askSide {
		return types.Bullish
	}
	return types.Bearish
}
