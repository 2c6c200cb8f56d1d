package oracle

import (
	"fmt"
	"strings"
	"time"

	"flowgate/internal/types"
)

const evaluateSystemPrompt = `You are an options-flow analyst. For each candidate signal, judge whether
institutional positioning plus market context justifies following the trade.
Reply with ONLY a JSON array, one object per candidate, each with:
  "signal_id" (string, copied verbatim from the candidate),
  "conviction" (integer 0-100, 100 = highest),
  "thesis" (one or two sentences explaining the conviction).
No prose outside the JSON array.`

const reviewSystemPrompt = `You are reviewing open options positions. For each position, judge whether its
entry thesis still holds. Reply with ONLY a JSON array, one object per
position, each with:
  "contract_symbol" (string, copied verbatim),
  "conviction" (integer 0-100),
  "thesis_intact" (boolean),
  "note" (short explanation).
No prose outside the JSON array.`

func buildEvaluatePrompt(batch Batch, now time.Time) string {
	var b strings.Builder
	writeMarketSection(&b, batch.Market)
	writeRiskSection(&b, batch.Risk)

	b.WriteString("## Candidate signals\n")
	for i, sig := range batch.Candidates {
		fmt.Fprintf(&b, "%d. signal_id=%s %s %s strike=%.2f exp=%s (DTE %d)\n",
			i+1, sig.ID, sig.Symbol, sig.OptionType, sig.Strike, sig.Expiration, sig.DTE(now))
		fmt.Fprintf(&b, "   premium=$%.0f size=%d vol/oi=%.2f iv_rank=%.0f sentiment=%s score=%d\n",
			sig.Premium, sig.Size, sig.VolOIRatio, sig.IVRank, sig.Sentiment, sig.Score)
		flags := make([]string, 0, 5)
		if sig.IsSweep {
			flags = append(flags, "sweep")
		}
		if sig.IsFloor {
			flags = append(flags, "floor")
		}
		if sig.IsOpening {
			flags = append(flags, "opening")
		}
		if sig.IsAskSide {
			flags = append(flags, "ask-side")
		}
		if sig.IsOTM {
			flags = append(flags, "OTM")
		}
		if len(flags) > 0 {
			fmt.Fprintf(&b, "   flags: %s\n", strings.Join(flags, ", "))
		}
	}
	return b.String()
}

func buildReviewPrompt(positions []types.Position, market types.MarketContext, risk types.PortfolioRiskState, now time.Time) string {
	var b strings.Builder
	writeMarketSection(&b, market)
	writeRiskSection(&b, risk)

	b.WriteString("## Open positions\n")
	for i, p := range positions {
		fmt.Fprintf(&b, "%d. contract_symbol=%s %s %s strike=%.2f exp=%s (DTE %d) qty=%d\n",
			i+1, p.ContractSymbol, p.Underlying, p.OptionType, p.Strike, p.Expiration, p.DTE(now), p.Quantity)
		fmt.Fprintf(&b, "   entry=%.2f current=%.2f pnl=%+.1f%% entry_conviction=%d\n",
			p.EntryPrice, p.CurrentPrice, p.PnLPct()*100, p.EntryConviction)
		if p.EntryThesis != "" {
			fmt.Fprintf(&b, "   entry thesis: %s\n", p.EntryThesis)
		}
		if p.EntryTrend != "" {
			fmt.Fprintf(&b, "   trend at entry: %s\n", p.EntryTrend)
		}
	}
	return b.String()
}

func writeMarketSection(b *strings.Builder, m types.MarketContext) {
	b.WriteString("## Market context\n")
	fmt.Fprintf(b, "benchmark=%.2f (%+.2f%%) trend=%s volatility=%.1f as_of=%s\n\n",
		m.BenchmarkPrice, m.BenchmarkChangePct*100, m.Trend, m.VolatilityProxy,
		m.AsOf.Format(time.RFC3339))
}

func writeRiskSection(b *strings.Builder, r types.PortfolioRiskState) {
	b.WriteString("## Portfolio risk\n")
	fmt.Fprintf(b, "score=%d/100 level=%s capacity=%.2f positions=%d options_value=$%.0f equity=$%.0f\n",
		r.RiskScore, r.RiskLevel, r.RiskCapacity, r.PositionCount, r.OptionsValue, r.Equity)
	fmt.Fprintf(b, "net_delta=%.1f gamma=%.2f daily_theta=$%.0f vega=%.1f\n\n",
		r.NetDelta, r.TotalGamma, r.DailyTheta, r.TotalVega)
}
