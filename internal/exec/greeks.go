package exec

import (
	"time"

	"flowgate/internal/broker"
	"flowgate/internal/risk"
	"flowgate/internal/types"
)

// entryGreeks computes fill-time greeks for the new position. With no usable
// spot the greeks stay zero and the next risk refresh fills them in.
func entryGreeks(c broker.OptionContract, spot, iv, riskFree float64, now time.Time) types.Greeks {
	if spot <= 0 {
		return types.Greeks{IV: iv}
	}
	exp, err := time.Parse("2006-01-02", c.Expiration)
	if err != nil {
		return types.Greeks{IV: iv}
	}
	dte := exp.Sub(now.Truncate(24*time.Hour)).Hours() / 24
	return risk.Compute(c.OptionType, spot, c.Strike, dte, iv, riskFree)
}
