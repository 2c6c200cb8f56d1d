package exitrules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowgate/internal/oracle"
	"flowgate/internal/types"
)

func rulesNow() time.Time {
	return time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
}

func rulePosition(entryPrice, currentPrice float64) types.Position {
	return types.Position{
		ContractSymbol:  "NVDA250718C00130000",
		Underlying:      "NVDA",
		OptionType:      types.Call,
		Strike:          130,
		Expiration:      "2025-07-18",
		Quantity:        4,
		EntryPrice:      entryPrice,
		CurrentPrice:    currentPrice,
		EntryConviction: 80,
		EntryTrend:      types.TrendBullish,
		Status:          types.PositionOpen,
	}
}

func evalAt(p types.Position) EvalInput {
	return EvalInput{Position: p, Now: rulesNow(), Trend: types.TrendSideways}
}

func TestHardStopLossFiresAtExactThreshold(t *testing.T) {
	params := map[string]any{"stop_loss_pct": 0.50}

	// Exactly -50% fires; one cent above does not.
	sig := hardStopLoss{}.Evaluate(evalAt(rulePosition(2.00, 1.00)), params)
	require.NotNil(t, sig)
	assert.Equal(t, ActionClose, sig.Action)
	assert.Equal(t, RuleHardStopLoss, sig.RuleID)

	assert.Nil(t, hardStopLoss{}.Evaluate(evalAt(rulePosition(2.00, 1.01)), params))
}

func TestHardProfitTargetFiresAtExactThreshold(t *testing.T) {
	params := map[string]any{"profit_target_pct": 0.75}

	sig := hardProfitTarget{}.Evaluate(evalAt(rulePosition(2.00, 3.50)), params)
	require.NotNil(t, sig)
	assert.Equal(t, ActionClose, sig.Action)

	assert.Nil(t, hardProfitTarget{}.Evaluate(evalAt(rulePosition(2.00, 3.49)), params))
}

func TestDTECloseFiresInsideWindow(t *testing.T) {
	params := map[string]any{"close_dte": 3}

	p := rulePosition(2.00, 2.20)
	p.Expiration = "2025-06-04" // 2 days out
	sig := dteClose{}.Evaluate(evalAt(p), params)
	require.NotNil(t, sig)
	assert.Equal(t, ActionClose, sig.Action)

	// 46 days out holds.
	assert.Nil(t, dteClose{}.Evaluate(evalAt(rulePosition(2.00, 2.20)), params))
}

func TestThesisInvalidationOnReview(t *testing.T) {
	in := evalAt(rulePosition(2.00, 2.20))
	in.Review = &oracle.PositionReview{
		ContractSymbol: "NVDA250718C00130000",
		Conviction:     70,
		ThesisIntact:   false,
		Note:           "flow has reversed to puts",
	}
	sig := thesisInvalidation{}.Evaluate(in, nil)
	require.NotNil(t, sig)
	assert.Equal(t, ActionClose, sig.Action)
	assert.Contains(t, sig.Reason, "flow has reversed")
}

func TestThesisInvalidationOnTrendReversal(t *testing.T) {
	in := evalAt(rulePosition(2.00, 2.20))
	in.Trend = types.TrendBearish // long call against a bearish turn
	sig := thesisInvalidation{}.Evaluate(in, nil)
	require.NotNil(t, sig)
	assert.Equal(t, ActionClose, sig.Action)

	// Sideways and unknown do not count as reversal.
	in.Trend = types.TrendSideways
	assert.Nil(t, thesisInvalidation{}.Evaluate(in, nil))
	in.Trend = types.TrendUnknown
	assert.Nil(t, thesisInvalidation{}.Evaluate(in, nil))
}

func TestConvictionCollapseCloseAndTrim(t *testing.T) {
	params := map[string]any{"exit_below": 40, "trim_below": 60}

	in := evalAt(rulePosition(2.00, 2.20))
	in.Review = &oracle.PositionReview{Conviction: 30, ThesisIntact: true}
	sig := convictionCollapse{}.Evaluate(in, params)
	require.NotNil(t, sig)
	assert.Equal(t, ActionClose, sig.Action)

	in.Review = &oracle.PositionReview{Conviction: 50, ThesisIntact: true}
	sig = convictionCollapse{}.Evaluate(in, params)
	require.NotNil(t, sig)
	assert.Equal(t, ActionTrim, sig.Action)
	assert.Equal(t, 2, sig.Quantity)

	// No review this cycle means no new information.
	in.Review = nil
	assert.Nil(t, convictionCollapse{}.Evaluate(in, params))
}

func TestConvictionCollapseNeverTrimsSingleContract(t *testing.T) {
	p := rulePosition(2.00, 2.20)
	p.Quantity = 1
	in := evalAt(p)
	in.Review = &oracle.PositionReview{Conviction: 50, ThesisIntact: true}

	assert.Nil(t, convictionCollapse{}.Evaluate(in, map[string]any{"exit_below": 40, "trim_below": 60}))
}

func TestDTEUrgencyTakesTightProfit(t *testing.T) {
	params := map[string]any{"urgency_dte": 7, "tight_profit_pct": 0.25}

	p := rulePosition(2.00, 2.60) // +30%
	p.Expiration = "2025-06-06"   // 4 days out
	sig := dteUrgency{}.Evaluate(evalAt(p), params)
	require.NotNil(t, sig)
	assert.Equal(t, ActionClose, sig.Action)
}

func TestDTEUrgencyRollsWhenThesisIntact(t *testing.T) {
	params := map[string]any{"urgency_dte": 7, "tight_profit_pct": 0.25}

	p := rulePosition(2.00, 1.60) // -20%, above the stop
	p.Expiration = "2025-06-06"
	in := evalAt(p)
	in.Review = &oracle.PositionReview{Conviction: 80, ThesisIntact: true}
	sig := dteUrgency{}.Evaluate(in, params)
	require.NotNil(t, sig)
	assert.Equal(t, ActionRoll, sig.Action)

	// Without a review there is nothing to justify paying for more time.
	in.Review = nil
	assert.Nil(t, dteUrgency{}.Evaluate(in, params))
}

func TestDTEUrgencyHoldsOutsideWindow(t *testing.T) {
	params := map[string]any{"urgency_dte": 7, "tight_profit_pct": 0.25}

	p := rulePosition(2.00, 2.60)
	assert.Nil(t, dteUrgency{}.Evaluate(evalAt(p), params))
}
