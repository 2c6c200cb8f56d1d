package exec

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"flowgate/internal/broker"
)

func TestLimitPriceBuy(t *testing.T) {
	q := broker.Quote{Bid: 2.00, Ask: 2.10}

	// Mid 2.05 plus 2% is 2.091, rounded down to the cent.
	assert.Equal(t, 2.09, LimitPrice(q, broker.Buy, 0.02))
}

func TestLimitPriceBuyNeverCrossesAsk(t *testing.T) {
	q := broker.Quote{Bid: 2.00, Ask: 2.10}

	// Mid plus 5% would be 2.1525; the ask caps it.
	assert.Equal(t, 2.10, LimitPrice(q, broker.Buy, 0.05))
}

func TestLimitPriceSell(t *testing.T) {
	q := broker.Quote{Bid: 2.00, Ask: 2.10}

	// Mid 2.05 minus 2% is 2.009, rounded up to the cent.
	assert.Equal(t, 2.01, LimitPrice(q, broker.Sell, 0.02))
}

func TestLimitPriceSellNeverUndercutsBid(t *testing.T) {
	q := broker.Quote{Bid: 2.00, Ask: 2.10}

	assert.Equal(t, 2.00, LimitPrice(q, broker.Sell, 0.05))
}

func TestLimitPriceZeroBuffer(t *testing.T) {
	q := broker.Quote{Bid: 1.00, Ask: 1.01}

	// Mid 1.005 rounds down for buys, up for sells.
	assert.Equal(t, 1.00, LimitPrice(q, broker.Buy, 0))
	assert.Equal(t, 1.01, LimitPrice(q, broker.Sell, 0))
}
