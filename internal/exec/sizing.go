package exec

import (
	"github.com/shopspring/decimal"

	"flowgate/internal/config"
	"flowgate/internal/types"
)

// ContractMultiplier is shares per standard equity option contract.
const ContractMultiplier = 100

// highIVRank marks entries where premium is rich and size is cut back.
const highIVRank = 60.0

// crowdedUnderlyingShare is the underlying's share of options value beyond
// which size is cut.
const crowdedUnderlyingShare = 0.25

// SizeOrder returns the contract quantity for a new entry. The target value
// scales the base equity percentage by conviction, then haircuts for rich IV
// and crowded underlyings, then applies the absolute caps. The result is at
// least one contract; affordability is the gate's concern, not sizing's.
func SizeOrder(cfg config.ExecutionConfig, sig types.FlowSignal, conviction int, account types.AccountSnapshot, risk types.PortfolioRiskState, ask float64) int {
	if ask <= 0 {
		return 0
	}
	equity := decimal.NewFromFloat(account.Equity)
	basePct := decimal.NewFromFloat(cfg.MaxPositionPct)

	// Conviction 0-100 scales linearly; a 100 takes the full base size.
	convScale := decimal.NewFromInt(int64(conviction)).Div(decimal.NewFromInt(100))
	target := equity.Mul(basePct).Mul(convScale)

	if sig.IVRank > highIVRank {
		target = target.Mul(decimal.NewFromFloat(0.75))
	}
	if risk.OptionsValue > 0 {
		underlyingValue := risk.UnderlyingExposure[sig.Symbol]
		if underlyingValue/risk.OptionsValue > crowdedUnderlyingShare {
			target = target.Mul(decimal.NewFromFloat(0.75))
		}
	}

	maxValue := decimal.NewFromFloat(cfg.MaxPositionValue)
	if target.GreaterThan(maxValue) {
		target = maxValue
	}

	perContract := decimal.NewFromFloat(ask).Mul(decimal.NewFromInt(ContractMultiplier))
	if perContract.LessThanOrEqual(decimal.Zero) {
		return 0
	}
	qty := int(target.Div(perContract).IntPart())
	if qty < 1 {
		qty = 1
	}
	if qty > cfg.MaxContractsPerTrade {
		qty = cfg.MaxContractsPerTrade
	}
	return qty
}

// EstimateValue is the projected cost of the entry at the ask, used for the
// gate's concentration and exposure projections before sizing runs.
func EstimateValue(cfg config.ExecutionConfig, sig types.FlowSignal, conviction int, account types.AccountSnapshot, risk types.PortfolioRiskState, ask float64) float64 {
	qty := SizeOrder(cfg, sig, conviction, account, risk, ask)
	return float64(qty) * ask * ContractMultiplier
}
