package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowgate/internal/broker"
)

func TestCheckLiquidityPasses(t *testing.T) {
	cfg := testExecConfig()
	q := broker.Quote{Bid: 2.00, Ask: 2.10, BidSize: 20, AskSize: 20}

	assert.NoError(t, CheckLiquidity(cfg, "NVDA250718C00130000", q))
}

func TestCheckLiquidityRejections(t *testing.T) {
	cfg := testExecConfig()
	cases := []struct {
		name   string
		quote  broker.Quote
		reason string
	}{
		{"bid below floor", broker.Quote{Bid: 0.05, Ask: 0.10, BidSize: 20}, "bid 0.05 below floor"},
		{"thin bid size", broker.Quote{Bid: 2.00, Ask: 2.10, BidSize: 1}, "bid size 1 below floor"},
		{"crossed book", broker.Quote{Bid: 2.10, Ask: 2.00, BidSize: 20}, "crossed or empty book"},
		{"empty ask", broker.Quote{Bid: 2.00, Ask: 0, BidSize: 20}, "crossed or empty book"},
		{"wide spread", broker.Quote{Bid: 2.00, Ask: 2.50, BidSize: 20}, "spread"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := CheckLiquidity(cfg, "NVDA250718C00130000", tc.quote)
			require.Error(t, err)
			var le *LiquidityError
			require.ErrorAs(t, err, &le)
			assert.Contains(t, le.Reason, tc.reason)
		})
	}
}
