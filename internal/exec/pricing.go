package exec

import (
	"github.com/shopspring/decimal"

	"flowgate/internal/broker"
)

// LimitPrice computes the marketable limit price for a quote. Buys pay up to
// mid plus the buffer but never cross the ask; sells give up to mid minus the
// buffer but never undercut the bid. Prices round to cents, buys down and
// sells up, so rounding never worsens the bound.
func LimitPrice(q broker.Quote, side broker.OrderSide, bufferPct float64) float64 {
	bid := decimal.NewFromFloat(q.Bid)
	ask := decimal.NewFromFloat(q.Ask)
	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	buffer := decimal.NewFromFloat(bufferPct)

	var price decimal.Decimal
	if side == broker.Buy {
		price = mid.Mul(decimal.NewFromInt(1).Add(buffer))
		if price.GreaterThan(ask) {
			price = ask
		}
		price = price.RoundFloor(2)
	} else {
		price = mid.Mul(decimal.NewFromInt(1).Sub(buffer))
		if price.LessThan(bid) {
			price = bid
		}
		price = price.RoundCeil(2)
	}
	f, _ := price.Float64()
	return f
}
