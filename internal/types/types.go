package types

import (
	"strings"
	"time"
)

// OptionType is "call" or "put".
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

func (t OptionType) Valid() bool { return t == Call || t == Put }

// Sentiment is the directional read of a flow print: a call bought at the ask
// is bullish, a put bought at the ask is bearish, and the mirror for bid-side.
type Sentiment string

const (
	Bullish Sentiment = "bullish"
	Bearish Sentiment = "bearish"
)

// TrendLabel classifies recent price action of the benchmark or an underlying.
type TrendLabel string

const (
	TrendBullish  TrendLabel = "bullish"
	TrendBearish  TrendLabel = "bearish"
	TrendSideways TrendLabel = "sideways"
	TrendUnknown  TrendLabel = "unknown"
)

// FlowSignal is a single parsed and scored options-flow alert. Immutable once
// scored; deduplicated by ID within the session's seen set.
type FlowSignal struct {
	ID              string     `json:"id"`
	Symbol          string     `json:"symbol"`
	OptionType      OptionType `json:"option_type"`
	Strike          float64    `json:"strike"`
	Expiration      string     `json:"expiration"` // YYYY-MM-DD
	Premium         float64    `json:"premium"`
	Size            int        `json:"size"`
	Volume          int        `json:"volume"`
	OpenInterest    int        `json:"open_interest"`
	VolOIRatio      float64    `json:"vol_oi_ratio"`
	IVRank          float64    `json:"iv_rank"` // 0-100 percentile of trailing IV
	IsSweep         bool       `json:"is_sweep"`
	IsAskSide       bool       `json:"is_ask_side"`
	IsFloor         bool       `json:"is_floor"`
	IsOpening       bool       `json:"is_opening"`
	IsOTM           bool       `json:"is_otm"`
	UnderlyingPrice float64    `json:"underlying_price"`
	Timestamp       time.Time  `json:"timestamp"`
	Sentiment       Sentiment  `json:"sentiment"`

	Score          int            `json:"score"`
	ScoreBreakdown map[string]int `json:"score_breakdown,omitempty"`
}

// DTE returns whole days to expiration as of now (venue-agnostic calendar days).
func (s FlowSignal) DTE(now time.Time) int {
	raw := strings.TrimSpace(s.Expiration)
	if len(raw) > 10 {
		raw = raw[:10]
	}
	exp, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return 0
	}
	return int(exp.Sub(now.Truncate(24 * time.Hour)).Hours() / 24)
}

// Greeks are per-unit option sensitivities.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"` // per day, in currency per share
	Vega  float64 `json:"vega"`
	IV    float64 `json:"iv"`
}

// PositionStatus is "open" or "closed".
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// Position is an options position created on a confirmed fill. At most one
// open Position exists per contract symbol.
type Position struct {
	ContractSymbol string     `json:"contract_symbol"` // OCC symbol
	Underlying     string     `json:"underlying"`
	OptionType     OptionType `json:"option_type"`
	Strike         float64    `json:"strike"`
	Expiration     string     `json:"expiration"`
	Quantity       int        `json:"quantity"`
	Sector         string     `json:"sector,omitempty"`

	EntryPrice      float64   `json:"entry_price"` // per share
	EntryGreeks     Greeks    `json:"entry_greeks"`
	EntryThesis     string    `json:"entry_thesis,omitempty"`
	EntryConviction int       `json:"entry_conviction"`
	EntryTrend      TrendLabel `json:"entry_trend,omitempty"`
	SignalScore     int       `json:"signal_score"`
	OpenedAt        time.Time `json:"opened_at"`

	// Refreshed while open.
	CurrentPrice  float64 `json:"current_price"`
	CurrentGreeks Greeks  `json:"current_greeks"`
	MarketValue   float64 `json:"market_value"`

	Status     PositionStatus `json:"status"`
	ExitPrice  float64        `json:"exit_price,omitempty"`
	ExitGreeks Greeks         `json:"exit_greeks,omitempty"`
	ExitReason string         `json:"exit_reason,omitempty"`
	ClosedAt   time.Time      `json:"closed_at,omitempty"`
}

// PnLPct is the unrealized return on premium paid, e.g. 0.25 for +25%.
func (p Position) PnLPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice
}

// DTE returns whole days to the position's expiration.
func (p Position) DTE(now time.Time) int {
	exp, err := time.Parse("2006-01-02", strings.TrimSpace(p.Expiration))
	if err != nil {
		return 0
	}
	return int(exp.Sub(now.Truncate(24 * time.Hour)).Hours() / 24)
}

// RiskLevel buckets the portfolio risk score.
type RiskLevel string

const (
	RiskHealthy  RiskLevel = "healthy"
	RiskCautious RiskLevel = "cautious"
	RiskElevated RiskLevel = "elevated"
	RiskCritical RiskLevel = "critical"
)

// PortfolioRiskState is the per-cycle derived risk snapshot. Never persisted
// as the source of truth; recomputed from open positions each cycle.
type PortfolioRiskState struct {
	NetDelta   float64 `json:"net_delta"`
	TotalGamma float64 `json:"total_gamma"`
	DailyTheta float64 `json:"daily_theta"` // currency per day
	TotalVega  float64 `json:"total_vega"`

	Equity       float64 `json:"equity"`
	OptionsValue float64 `json:"options_value"`

	SectorExposure     map[string]float64 `json:"sector_exposure"`
	UnderlyingExposure map[string]float64 `json:"underlying_exposure"`

	RiskScore    int       `json:"risk_score"`    // 0-100
	RiskCapacity float64   `json:"risk_capacity"` // clamp(1 - score/100, 0, 1)
	RiskLevel    RiskLevel `json:"risk_level"`
	PositionCount int      `json:"position_count"`
}

// MarketContext is the per-cycle market snapshot assembled before any
// decision logic runs.
type MarketContext struct {
	BenchmarkPrice     float64    `json:"benchmark_price"`
	BenchmarkChangePct float64    `json:"benchmark_change_pct"`
	Trend              TrendLabel `json:"trend"`
	VolatilityProxy    float64    `json:"volatility_proxy"` // VIX-style level
	AsOf               time.Time  `json:"as_of"`
}

// AccountSnapshot mirrors the brokerage account view used for sizing and gates.
type AccountSnapshot struct {
	Equity      float64 `json:"equity"`
	Cash        float64 `json:"cash"`
	BuyingPower float64 `json:"buying_power"`
}
