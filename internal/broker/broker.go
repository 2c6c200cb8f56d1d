package broker

import (
	"context"
	"time"

	"flowgate/internal/types"
)

// OptionContract is a tradeable listed contract returned by contract search.
type OptionContract struct {
	Symbol         string           // OCC option symbol
	Underlying     string
	OptionType     types.OptionType
	Strike         float64
	Expiration     string // YYYY-MM-DD
	OpenInterest   int
}

// Quote is a top-of-book snapshot for one contract.
type Quote struct {
	Bid     float64
	Ask     float64
	BidSize int
	AskSize int
	AsOf    time.Time
}

func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// OrderSide is "buy" or "sell".
type OrderSide string

const (
	Buy  OrderSide = "buy"
	Sell OrderSide = "sell"
)

// OrderStatus is the broker's lifecycle state for an order.
type OrderStatus string

const (
	OrderNew             OrderStatus = "new"
	OrderAccepted        OrderStatus = "accepted"
	OrderPartiallyFilled OrderStatus = "partially_filled"
	OrderFilled          OrderStatus = "filled"
	OrderCanceled        OrderStatus = "canceled"
	OrderRejected        OrderStatus = "rejected"
	OrderExpired         OrderStatus = "expired"
)

// Terminal reports whether the status can no longer change.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// Order is the broker's view of a placed order.
type Order struct {
	ID             string
	ClientOrderID  string
	ContractSymbol string
	Side           OrderSide
	Quantity       int
	LimitPrice     float64
	Status         OrderStatus
	FilledQty      int
	FilledAvgPrice float64
	SubmittedAt    time.Time
}

// BrokerPosition is an open holding as reported by the broker, used for
// read-back reconciliation after ambiguous submissions.
type BrokerPosition struct {
	ContractSymbol string
	Quantity       int
	AvgEntryPrice  float64
	MarketValue    float64
	CurrentPrice   float64
}

// Broker is the brokerage boundary: account, market data, contract search,
// and limit-order lifecycle.
type Broker interface {
	Account(ctx context.Context) (types.AccountSnapshot, error)
	Positions(ctx context.Context) ([]BrokerPosition, error)
	SearchContracts(ctx context.Context, underlying string, optType types.OptionType, expirationFrom, expirationTo string) ([]OptionContract, error)
	ContractQuote(ctx context.Context, contractSymbol string) (Quote, error)
	PlaceLimitOrder(ctx context.Context, contractSymbol string, side OrderSide, qty int, limitPrice float64, clientOrderID string) (Order, error)
	CancelOrder(ctx context.Context, orderID string) error
	OrderByID(ctx context.Context, orderID string) (Order, error)
	OrderByClientID(ctx context.Context, clientOrderID string) (Order, error)

	DailyCloses(ctx context.Context, symbol string, limit int) ([]float64, error)
	LastPrice(ctx context.Context, symbol string) (float64, error)
	NextEarningsDate(ctx context.Context, symbol string) (string, error)
}
