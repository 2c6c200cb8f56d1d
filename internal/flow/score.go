package flow

import (
	"time"

	"flowgate/internal/types"
)

// Scoring weight table. Published contract: identical inputs always produce
// the identical score, with the per-factor contribution recorded in the
// signal's breakdown.
const (
	weightSweep        = 3
	weightAskSide      = 2
	weightFloor        = 3
	weightOpening      = 2
	weightPremium100K  = 2 // premium >= $100k
	weightPremium250K  = 2 // additional, premium >= $250k
	weightVolOI1       = 2 // vol/OI >= 1.0
	weightVolOI3       = 2 // additional, vol/OI >= 3.0
	weightOTM          = 1
	weightTrendAligned = 2
	weightCounterTrend = -2
	weightHighIVRank   = -2 // IV rank > 60
	weightShortDTE     = -2 // DTE < 10

	premiumTier1 = 100_000.0
	premiumTier2 = 250_000.0
	volOITier1   = 1.0
	volOITier2   = 3.0
	highIVRank   = 60.0
	shortDTEDays = 10
)

// Score computes the deterministic conviction score for a signal against the
// underlying's trend label, filling Score and ScoreBreakdown in place.
func Score(sig *types.FlowSignal, trend types.TrendLabel, now time.Time) {
	breakdown := make(map[string]int)

	if sig.IsSweep {
		breakdown["sweep"] = weightSweep
	}
	if sig.IsAskSide {
		breakdown["ask_side"] = weightAskSide
	}
	if sig.IsFloor {
		breakdown["floor"] = weightFloor
	}
	if sig.IsOpening {
		breakdown["opening"] = weightOpening
	}
	if sig.Premium >= premiumTier1 {
		pts := weightPremium100K
		if sig.Premium >= premiumTier2 {
			pts += weightPremium250K
		}
		breakdown["premium"] = pts
	}
	if sig.VolOIRatio >= volOITier1 {
		pts := weightVolOI1
		if sig.VolOIRatio >= volOITier2 {
			pts += weightVolOI3
		}
		breakdown["vol_oi"] = pts
	}
	if sig.IsOTM {
		breakdown["otm"] = weightOTM
	}
	switch alignment(sig.Sentiment, trend) {
	case 1:
		breakdown["trend_aligned"] = weightTrendAligned
	case -1:
		breakdown["counter_trend"] = weightCounterTrend
	}
	if sig.IVRank > highIVRank {
		breakdown["high_iv_rank"] = weightHighIVRank
	}
	if dte := sig.DTE(now); dte < shortDTEDays {
		breakdown["short_dte"] = weightShortDTE
	}

	total := 0
	for _, pts := range breakdown {
		total += pts
	}
	sig.Score = total
	sig.ScoreBreakdown = breakdown
}

// alignment returns 1 when the signal's direction agrees with the trend,
// -1 when it opposes it, 0 when the trend is sideways or unknown.
func alignment(s types.Sentiment, trend types.TrendLabel) int {
	switch trend {
	case types.TrendBullish:
		if s == types.Bullish {
			return 1
		}
		return -1
	case types.TrendBearish:
		if s == types.Bearish {
			return 1
		}
		return -1
	default:
		return 0
	}
}
