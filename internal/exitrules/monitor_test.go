package exitrules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowgate/internal/oracle"
	"flowgate/internal/types"
)

func testMonitor(t *testing.T) *Monitor {
	t.Helper()
	r, err := NewRegistry(writeRules(t, fullRules))
	require.NoError(t, err)
	return NewMonitor(r)
}

func TestPlanFirstFiringRuleWins(t *testing.T) {
	m := testMonitor(t)

	// Breached stop inside the urgency window with an intact thesis: the
	// stop still closes, it is never held or rolled past.
	p := rulePosition(2.00, 0.90)
	p.Expiration = "2025-06-06"
	reviews := []oracle.PositionReview{{
		ContractSymbol: p.ContractSymbol,
		Conviction:     90,
		ThesisIntact:   true,
	}}

	planned := m.Plan([]types.Position{p}, reviews, nil, EvalInput{Now: rulesNow()})
	require.Len(t, planned, 1)
	assert.Equal(t, RuleHardStopLoss, planned[0].Signal.RuleID)
	assert.Equal(t, ActionClose, planned[0].Signal.Action)
}

func TestPlanSkipsClosedPositions(t *testing.T) {
	m := testMonitor(t)

	p := rulePosition(2.00, 0.50)
	p.Status = types.PositionClosed
	planned := m.Plan([]types.Position{p}, nil, nil, EvalInput{Now: rulesNow()})
	assert.Empty(t, planned)
}

func TestPlanMatchesReviewByContract(t *testing.T) {
	m := testMonitor(t)

	fading := rulePosition(2.00, 2.10)
	steady := rulePosition(2.00, 2.10)
	steady.ContractSymbol = "AMD250718C00150000"
	steady.Underlying = "AMD"

	reviews := []oracle.PositionReview{{
		ContractSymbol: fading.ContractSymbol,
		Conviction:     20,
		ThesisIntact:   true,
	}}

	planned := m.Plan([]types.Position{fading, steady}, reviews, nil, EvalInput{Now: rulesNow()})
	require.Len(t, planned, 1)
	assert.Equal(t, fading.ContractSymbol, planned[0].Position.ContractSymbol)
	assert.Equal(t, RuleConvictionFade, planned[0].Signal.RuleID)
}

func TestPlanUsesPerUnderlyingTrend(t *testing.T) {
	m := testMonitor(t)

	p := rulePosition(2.00, 2.10)
	bearish := func(string) types.TrendLabel { return types.TrendBearish }

	planned := m.Plan([]types.Position{p}, nil, bearish, EvalInput{Now: rulesNow()})
	require.Len(t, planned, 1)
	assert.Equal(t, RuleThesisInvalid, planned[0].Signal.RuleID)
}

func TestPlanHoldsWhenNothingFires(t *testing.T) {
	m := testMonitor(t)

	planned := m.Plan([]types.Position{rulePosition(2.00, 2.10)}, nil, nil, EvalInput{Now: rulesNow()})
	assert.Empty(t, planned)
}
