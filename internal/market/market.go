package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	talib "github.com/markcheno/go-talib"

	"flowgate/internal/logger"
	"flowgate/internal/types"
)

const (
	emaFast = 8
	emaMid  = 21
	emaSlow = 50

	benchmarkSymbol  = "SPY"
	volatilitySymbol = "VIX"

	// minBars must cover the slow EMA warmup.
	minBars  = emaSlow + 10
	barLimit = 120
)

// BarSource supplies daily closes and last prices, normally the broker's
// market-data API.
type BarSource interface {
	DailyCloses(ctx context.Context, symbol string, limit int) ([]float64, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// Service labels trends from daily closes and assembles the per-cycle market
// context. Trend labels are cached for the duration of one cycle.
type Service struct {
	source BarSource

	mu     sync.Mutex
	trends map[string]types.TrendLabel
}

func NewService(source BarSource) *Service {
	return &Service{
		source: source,
		trends: make(map[string]types.TrendLabel),
	}
}

// BeginCycle drops all cached trend labels. Called once per cycle before any
// lookups so every label within a cycle is consistent.
func (s *Service) BeginCycle() {
	s.mu.Lock()
	s.trends = make(map[string]types.TrendLabel)
	s.mu.Unlock()
}

// TrendFor returns the cached or freshly computed trend label for symbol.
// Data failures degrade to TrendUnknown; a missing label never blocks a cycle.
func (s *Service) TrendFor(ctx context.Context, symbol string) types.TrendLabel {
	s.mu.Lock()
	if label, ok := s.trends[symbol]; ok {
		s.mu.Unlock()
		return label
	}
	s.mu.Unlock()

	label := s.computeTrend(ctx, symbol)

	s.mu.Lock()
	s.trends[symbol] = label
	s.mu.Unlock()
	return label
}

func (s *Service) computeTrend(ctx context.Context, symbol string) types.TrendLabel {
	closes, err := s.source.DailyCloses(ctx, symbol, barLimit)
	if err != nil {
		logger.Warnf("market: daily closes for %s failed: %v", symbol, err)
		return types.TrendUnknown
	}
	return ClassifyTrend(closes)
}

// ClassifyTrend labels a close series by EMA alignment: fast > mid > slow is
// bullish, fast < mid < slow is bearish, anything else sideways.
func ClassifyTrend(closes []float64) types.TrendLabel {
	if len(closes) < minBars {
		return types.TrendUnknown
	}
	fastArr := talib.Ema(closes, emaFast)
	midArr := talib.Ema(closes, emaMid)
	slowArr := talib.Ema(closes, emaSlow)
	last := len(closes) - 1
	fast, mid, slow := fastArr[last], midArr[last], slowArr[last]
	switch {
	case fast > mid && mid > slow:
		return types.TrendBullish
	case fast < mid && mid < slow:
		return types.TrendBearish
	default:
		return types.TrendSideways
	}
}

// Context assembles the benchmark snapshot for this cycle.
func (s *Service) Context(ctx context.Context) (types.MarketContext, error) {
	closes, err := s.source.DailyCloses(ctx, benchmarkSymbol, barLimit)
	if err != nil {
		return types.MarketContext{}, fmt.Errorf("benchmark closes: %w", err)
	}
	if len(closes) < 2 {
		return types.MarketContext{}, fmt.Errorf("benchmark closes: need at least 2 bars, got %d", len(closes))
	}
	price, err := s.source.LastPrice(ctx, benchmarkSymbol)
	if err != nil || price <= 0 {
		price = closes[len(closes)-1]
	}
	prevClose := closes[len(closes)-2]
	changePct := 0.0
	if prevClose > 0 {
		changePct = (price - prevClose) / prevClose
	}

	volProxy, err := s.source.LastPrice(ctx, volatilitySymbol)
	if err != nil {
		logger.Warnf("market: volatility proxy fetch failed: %v", err)
		volProxy = 0
	}

	return types.MarketContext{
		BenchmarkPrice:     price,
		BenchmarkChangePct: changePct,
		Trend:              ClassifyTrend(closes),
		VolatilityProxy:    volProxy,
		AsOf:               time.Now().UTC(),
	}, nil
}
