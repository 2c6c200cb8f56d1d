package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"flowgate/internal/config"
	"flowgate/internal/types"
)

func testExecConfig() config.ExecutionConfig {
	return config.ExecutionConfig{
		StrikeTolerancePct:   0.02,
		MaxSpreadPct:         0.10,
		MinBid:               0.10,
		MinBidSize:           5,
		MaxContractsPerTrade: 50,
		MaxPositionValue:     10_000,
		MaxPositionPct:       0.05,
		LimitPriceBufferPct:  0.02,
	}
}

func sizingAccount() types.AccountSnapshot {
	return types.AccountSnapshot{Equity: 100_000}
}

func TestSizeOrderScalesWithConviction(t *testing.T) {
	cfg := testExecConfig()
	sig := types.FlowSignal{Symbol: "NVDA"}
	risk := types.PortfolioRiskState{}

	// 5% of 100k at full conviction is $5000; at $2.50 the contract costs
	// $250, so 20 contracts. Half conviction halves the target.
	assert.Equal(t, 20, SizeOrder(cfg, sig, 100, sizingAccount(), risk, 2.50))
	assert.Equal(t, 10, SizeOrder(cfg, sig, 50, sizingAccount(), risk, 2.50))
}

func TestSizeOrderHighIVHaircut(t *testing.T) {
	cfg := testExecConfig()
	sig := types.FlowSignal{Symbol: "NVDA", IVRank: 70}

	// 5000 * 0.75 = 3750, 15 contracts at $250 each.
	assert.Equal(t, 15, SizeOrder(cfg, sig, 100, sizingAccount(), types.PortfolioRiskState{}, 2.50))
}

func TestSizeOrderCrowdedUnderlyingHaircut(t *testing.T) {
	cfg := testExecConfig()
	sig := types.FlowSignal{Symbol: "NVDA"}
	risk := types.PortfolioRiskState{
		OptionsValue:       10_000,
		UnderlyingExposure: map[string]float64{"NVDA": 5000},
	}

	assert.Equal(t, 15, SizeOrder(cfg, sig, 100, sizingAccount(), risk, 2.50))
}

func TestSizeOrderValueCap(t *testing.T) {
	cfg := testExecConfig()
	sig := types.FlowSignal{Symbol: "NVDA"}

	// 5% of 1M is 50k but the absolute value cap is 10k: 40 contracts.
	big := types.AccountSnapshot{Equity: 1_000_000}
	assert.Equal(t, 40, SizeOrder(cfg, sig, 100, big, types.PortfolioRiskState{}, 2.50))
}

func TestSizeOrderContractCap(t *testing.T) {
	cfg := testExecConfig()
	cfg.MaxContractsPerTrade = 8
	sig := types.FlowSignal{Symbol: "NVDA"}

	assert.Equal(t, 8, SizeOrder(cfg, sig, 100, sizingAccount(), types.PortfolioRiskState{}, 2.50))
}

func TestSizeOrderMinimumOneContract(t *testing.T) {
	cfg := testExecConfig()
	sig := types.FlowSignal{Symbol: "NVDA"}

	// $100 ask means $10000 per contract, above the target, but an admitted
	// entry still gets one contract.
	assert.Equal(t, 1, SizeOrder(cfg, sig, 100, sizingAccount(), types.PortfolioRiskState{}, 100))
}

func TestSizeOrderInvalidAsk(t *testing.T) {
	cfg := testExecConfig()
	sig := types.FlowSignal{Symbol: "NVDA"}

	assert.Equal(t, 0, SizeOrder(cfg, sig, 100, sizingAccount(), types.PortfolioRiskState{}, 0))
}

func TestEstimateValue(t *testing.T) {
	cfg := testExecConfig()
	sig := types.FlowSignal{Symbol: "NVDA"}

	// 20 contracts at $2.50 * 100.
	assert.Equal(t, 5000.0, EstimateValue(cfg, sig, 10, sizingAccount(), types.PortfolioRiskState{}, 2.50))
}
