package flow

import (
	"math"
	"sort"
	"strings"
	"time"

	"flowgate/internal/config"
	"flowgate/internal/logger"
	"flowgate/internal/types"
)

// DedupeSet marks signal IDs processed. Add returns false when the ID was
// already present.
type DedupeSet interface {
	Add(id string) bool
}

// TrendLookup resolves the trend label for an underlying symbol.
type TrendLookup func(symbol string) types.TrendLabel

// FilterStats summarizes one prefilter pass for the cycle log.
type FilterStats struct {
	Received     int
	Duplicates   int
	BelowPremium int
	Excluded     int
	OutsideDTE   int
	LowQuality   int
	CounterTrend int
	BelowScore   int
	Selected     int
}

// Filter runs the deterministic prefilter and scoring pipeline. Signals that
// survive are scored, ranked descending, and truncated to the per-cycle max.
type Filter struct {
	cfg      config.FlowConfig
	excluded map[string]struct{}
}

func NewFilter(cfg config.FlowConfig) *Filter {
	excluded := make(map[string]struct{}, len(cfg.ExcludedSymbols))
	for _, sym := range cfg.ExcludedSymbols {
		excluded[strings.ToUpper(strings.TrimSpace(sym))] = struct{}{}
	}
	return &Filter{cfg: cfg, excluded: excluded}
}

// Select filters, scores, and ranks the cycle's raw signals. Every signal
// that reaches the dedupe stage is marked seen whether or not it survives;
// a rejected signal must not resurface next cycle.
func (f *Filter) Select(signals []types.FlowSignal, seen DedupeSet, trendOf TrendLookup, now time.Time) ([]types.FlowSignal, FilterStats) {
	stats := FilterStats{Received: len(signals)}
	candidates := make([]types.FlowSignal, 0, len(signals))

	for _, sig := range signals {
		if !seen.Add(sig.ID) {
			stats.Duplicates++
			continue
		}
		if sig.Premium < f.cfg.MinPremium {
			stats.BelowPremium++
			continue
		}
		if _, ok := f.excluded[sig.Symbol]; ok {
			stats.Excluded++
			continue
		}
		dte := sig.DTE(now)
		if dte < f.cfg.MinDTE || dte > f.cfg.MaxDTE {
			stats.OutsideDTE++
			continue
		}
		if !f.qualityOK(sig) {
			stats.LowQuality++
			continue
		}
		trend := types.TrendUnknown
		if trendOf != nil {
			trend = trendOf(sig.Symbol)
		}
		if alignment(sig.Sentiment, trend) < 0 {
			stats.CounterTrend++
			continue
		}
		Score(&sig, trend, now)
		if sig.Score < f.cfg.MinScore {
			stats.BelowScore++
			continue
		}
		candidates = append(candidates, sig)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > f.cfg.MaxSignalsPerCycle {
		candidates = candidates[:f.cfg.MaxSignalsPerCycle]
	}
	stats.Selected = len(candidates)
	if stats.Received > 0 {
		logger.Debugf("flow: prefilter received=%d selected=%d dup=%d premium=%d excluded=%d dte=%d quality=%d counter=%d score=%d",
			stats.Received, stats.Selected, stats.Duplicates, stats.BelowPremium, stats.Excluded,
			stats.OutsideDTE, stats.LowQuality, stats.CounterTrend, stats.BelowScore)
	}
	return candidates, stats
}

// qualityOK applies the structural liquidity checks an alert must pass before
// it is worth scoring.
func (f *Filter) qualityOK(sig types.FlowSignal) bool {
	if sig.OpenInterest < f.cfg.MinOpenInterest {
		return false
	}
	if sig.UnderlyingPrice <= 0 {
		return false
	}
	dist := math.Abs(sig.Strike-sig.UnderlyingPrice) / sig.UnderlyingPrice
	return dist <= f.cfg.MaxStrikeDistPct
}
