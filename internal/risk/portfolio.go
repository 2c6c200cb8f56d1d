package risk

import (
	"context"
	"math"
	"time"

	"flowgate/internal/config"
	"flowgate/internal/logger"
	"flowgate/internal/types"
)

// contractMultiplier is shares per standard equity option contract.
const contractMultiplier = 100.0

const subScoreCap = 25.0

// Engine derives the per-cycle portfolio risk snapshot from open positions
// and the account. The snapshot is recomputed every cycle and never treated
// as durable truth.
type Engine struct {
	cfg config.RiskConfig
}

func NewEngine(cfg config.RiskConfig) *Engine {
	return &Engine{cfg: cfg}
}

// PriceLookup resolves the current underlying price for a symbol.
type PriceLookup func(ctx context.Context, symbol string) (float64, error)

// RefreshGreeks recomputes current greeks for each open position from live
// underlying prices. A failed price lookup leaves the stale greeks in place.
func (e *Engine) RefreshGreeks(ctx context.Context, positions []types.Position, priceOf PriceLookup, now time.Time) {
	for i := range positions {
		p := &positions[i]
		spot, err := priceOf(ctx, p.Underlying)
		if err != nil || spot <= 0 {
			logger.Warnf("risk: price lookup for %s failed, keeping stale greeks: %v", p.Underlying, err)
			continue
		}
		iv := p.CurrentGreeks.IV
		if iv <= 0 {
			iv = p.EntryGreeks.IV
		}
		if iv <= 0 {
			iv = e.cfg.DefaultIV
		}
		p.CurrentGreeks = Compute(p.OptionType, spot, p.Strike, float64(p.DTE(now)), iv, e.cfg.RiskFreeRate)
	}
}

// Assess aggregates positions into a PortfolioRiskState with the composite
// 0-100 score, level, and remaining capacity.
func (e *Engine) Assess(positions []types.Position, account types.AccountSnapshot) types.PortfolioRiskState {
	st := types.PortfolioRiskState{
		Equity:             account.Equity,
		SectorExposure:     make(map[string]float64),
		UnderlyingExposure: make(map[string]float64),
	}

	for _, p := range positions {
		if p.Status != types.PositionOpen {
			continue
		}
		qty := float64(p.Quantity)
		st.NetDelta += p.CurrentGreeks.Delta * qty * contractMultiplier
		st.TotalGamma += p.CurrentGreeks.Gamma * qty * contractMultiplier
		st.DailyTheta += p.CurrentGreeks.Theta * qty * contractMultiplier
		st.TotalVega += p.CurrentGreeks.Vega * qty * contractMultiplier

		value := p.MarketValue
		if value <= 0 {
			value = p.CurrentPrice * qty * contractMultiplier
		}
		st.OptionsValue += value
		st.UnderlyingExposure[p.Underlying] += value
		sector := p.Sector
		if sector == "" {
			sector = "unknown"
		}
		st.SectorExposure[sector] += value
		st.PositionCount++
	}

	st.RiskScore = e.score(&st)
	st.RiskLevel = levelFor(st.RiskScore)
	st.RiskCapacity = clamp(1-float64(st.RiskScore)/100, 0, 1)
	return st
}

// score is the sum of four sub-scores, each capped at 25, clamped to 0-100.
func (e *Engine) score(st *types.PortfolioRiskState) int {
	equity := st.Equity
	if equity <= 0 {
		// No equity to measure against: fully utilized.
		return 100
	}
	per100k := equity / 100_000.0

	deltaScore := clamp(math.Abs(st.NetDelta)/(e.cfg.MaxDeltaPer100K*per100k)*subScoreCap, 0, subScoreCap)
	gammaScore := clamp(math.Abs(st.TotalGamma)/(e.cfg.MaxGammaPer100K*per100k)*subScoreCap, 0, subScoreCap)

	thetaPct := math.Abs(st.DailyTheta) / equity
	thetaScore := clamp(thetaPct/e.cfg.MaxThetaDailyPct*subScoreCap, 0, subScoreCap)

	concScore := 0.0
	if st.OptionsValue > 0 {
		maxShare := 0.0
		for _, v := range st.SectorExposure {
			if share := v / st.OptionsValue; share > maxShare {
				maxShare = share
			}
		}
		for _, v := range st.UnderlyingExposure {
			if share := v / st.OptionsValue; share > maxShare {
				maxShare = share
			}
		}
		concScore = clamp(maxShare/e.cfg.MaxConcentrationPct*subScoreCap, 0, subScoreCap)
	}

	total := deltaScore + gammaScore + thetaScore + concScore
	return int(clamp(total, 0, 100))
}

func levelFor(score int) types.RiskLevel {
	switch {
	case score <= 30:
		return types.RiskHealthy
	case score <= 50:
		return types.RiskCautious
	case score <= 70:
		return types.RiskElevated
	default:
		return types.RiskCritical
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
