package exec

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowgate/internal/broker"
	"flowgate/internal/config"
	"flowgate/internal/gate"
	"flowgate/internal/types"
)

// fakeBroker scripts the order lifecycle. OrderByID pops statusQueue; an
// empty queue means filled at the limit price.
type fakeBroker struct {
	broker.Broker

	contracts []broker.OptionContract
	searchErr error
	quote     broker.Quote
	quoteErr  error

	placeErr    error
	placed      []broker.Order
	statusQueue []broker.OrderStatus
	fillQty     int // 0 means the full order quantity
	canceled    []string
	readBackErr error

	spot float64
}

func (f *fakeBroker) SearchContracts(context.Context, string, types.OptionType, string, string) ([]broker.OptionContract, error) {
	return f.contracts, f.searchErr
}

func (f *fakeBroker) ContractQuote(context.Context, string) (broker.Quote, error) {
	return f.quote, f.quoteErr
}

func (f *fakeBroker) PlaceLimitOrder(_ context.Context, symbol string, side broker.OrderSide, qty int, limit float64, clientOrderID string) (broker.Order, error) {
	o := broker.Order{
		ID:             fmt.Sprintf("o-%d", len(f.placed)+1),
		ClientOrderID:  clientOrderID,
		ContractSymbol: symbol,
		Side:           side,
		Quantity:       qty,
		LimitPrice:     limit,
		Status:         broker.OrderNew,
	}
	f.placed = append(f.placed, o)
	if f.placeErr != nil {
		return broker.Order{}, f.placeErr
	}
	return o, nil
}

func (f *fakeBroker) CancelOrder(_ context.Context, id string) error {
	f.canceled = append(f.canceled, id)
	return nil
}

func (f *fakeBroker) OrderByID(_ context.Context, id string) (broker.Order, error) {
	var o broker.Order
	for _, p := range f.placed {
		if p.ID == id {
			o = p
		}
	}
	st := broker.OrderFilled
	if len(f.statusQueue) > 0 {
		st = f.statusQueue[0]
		f.statusQueue = f.statusQueue[1:]
	}
	o.Status = st
	if st == broker.OrderFilled || f.fillQty > 0 {
		o.FilledQty = o.Quantity
		if f.fillQty > 0 {
			o.FilledQty = f.fillQty
		}
		o.FilledAvgPrice = o.LimitPrice
	}
	return o, nil
}

func (f *fakeBroker) OrderByClientID(_ context.Context, clientOrderID string) (broker.Order, error) {
	if f.readBackErr != nil {
		return broker.Order{}, f.readBackErr
	}
	for _, p := range f.placed {
		if p.ClientOrderID == clientOrderID {
			return p, nil
		}
	}
	return broker.Order{}, errors.New("order not found")
}

func (f *fakeBroker) LastPrice(context.Context, string) (float64, error) {
	if f.spot <= 0 {
		return 0, errors.New("no price")
	}
	return f.spot, nil
}

// steppingClock advances one second per call so poll deadlines move without
// real sleeping.
func steppingClock() func() time.Time {
	t := time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)
	return func() time.Time {
		t = t.Add(time.Second)
		return t
	}
}

func testRiskCfg() config.RiskConfig {
	return config.RiskConfig{RiskFreeRate: 0.05, DefaultIV: 0.30}
}

func entryBroker() *fakeBroker {
	return &fakeBroker{
		contracts: []broker.OptionContract{{
			Symbol:     "NVDA250718C00130000",
			Underlying: "NVDA",
			OptionType: types.Call,
			Strike:     130,
			Expiration: "2025-07-18",
		}},
		quote: broker.Quote{Bid: 2.00, Ask: 2.10, BidSize: 20, AskSize: 20},
		spot:  128,
	}
}

func entryDecision() gate.Decision {
	return gate.Decision{
		Signal: types.FlowSignal{
			ID:         "sig-1",
			Symbol:     "NVDA",
			OptionType: types.Call,
			Strike:     130,
			Expiration: "2025-07-18",
			Score:      9,
		},
		Action:     gate.ActionExecute,
		Conviction: 80,
		Thesis:     "institutional accumulation",
	}
}

func newTestExecutor(fb *fakeBroker, cfg config.ExecutionConfig) *Executor {
	x := NewExecutor(cfg, testRiskCfg(), fb)
	x.now = steppingClock()
	return x
}

func TestExecuteEntryConfirmedFill(t *testing.T) {
	fb := entryBroker()
	cfg := testExecConfig()
	cfg.FillPollSeconds = 0
	cfg.FillTimeoutSeconds = 30
	x := newTestExecutor(fb, cfg)

	pos, err := x.ExecuteEntry(context.Background(), entryDecision(), types.AccountSnapshot{Equity: 100_000}, types.PortfolioRiskState{}, types.TrendBullish)
	require.NoError(t, err)

	// 5% of 100k at conviction 80 is $4000; $2.09 limit fills the order.
	require.Len(t, fb.placed, 1)
	assert.Equal(t, broker.Buy, fb.placed[0].Side)
	assert.Equal(t, 2.09, fb.placed[0].LimitPrice)
	assert.Contains(t, fb.placed[0].ClientOrderID, "fg-")

	assert.Equal(t, "NVDA250718C00130000", pos.ContractSymbol)
	assert.Equal(t, fb.placed[0].Quantity, pos.Quantity)
	assert.Equal(t, 2.09, pos.EntryPrice)
	assert.Equal(t, types.PositionOpen, pos.Status)
	assert.Equal(t, 80, pos.EntryConviction)
	assert.Equal(t, "institutional accumulation", pos.EntryThesis)
	assert.Equal(t, types.TrendBullish, pos.EntryTrend)
	assert.Greater(t, pos.EntryGreeks.Delta, 0.0)
	assert.Equal(t, pos.EntryGreeks, pos.CurrentGreeks)
}

func TestExecuteEntryLiquidityBlocksSubmission(t *testing.T) {
	fb := entryBroker()
	fb.quote = broker.Quote{Bid: 0.02, Ask: 0.10, BidSize: 1}
	x := newTestExecutor(fb, testExecConfig())

	_, err := x.ExecuteEntry(context.Background(), entryDecision(), types.AccountSnapshot{Equity: 100_000}, types.PortfolioRiskState{}, types.TrendBullish)
	require.Error(t, err)
	var le *LiquidityError
	assert.ErrorAs(t, err, &le)
	assert.Empty(t, fb.placed)
}

func TestExecuteEntrySubmitErrorResolvedByReadBack(t *testing.T) {
	// The submit call errors after reaching the broker. The read-back by
	// client order ID recovers the live order; nothing is resubmitted.
	fb := entryBroker()
	fb.placeErr = errors.New("gateway timeout")
	cfg := testExecConfig()
	cfg.FillPollSeconds = 0
	cfg.FillTimeoutSeconds = 30
	x := newTestExecutor(fb, cfg)

	pos, err := x.ExecuteEntry(context.Background(), entryDecision(), types.AccountSnapshot{Equity: 100_000}, types.PortfolioRiskState{}, types.TrendBullish)
	require.NoError(t, err)
	assert.Len(t, fb.placed, 1)
	assert.Equal(t, types.PositionOpen, pos.Status)
}

func TestExecuteEntrySubmitErrorWithoutReadBack(t *testing.T) {
	fb := entryBroker()
	fb.placeErr = errors.New("gateway timeout")
	fb.readBackErr = errors.New("order not found")
	x := newTestExecutor(fb, testExecConfig())

	_, err := x.ExecuteEntry(context.Background(), entryDecision(), types.AccountSnapshot{Equity: 100_000}, types.PortfolioRiskState{}, types.TrendBullish)
	require.Error(t, err)
	assert.Len(t, fb.placed, 1)
}

func openedPosition() types.Position {
	return types.Position{
		ContractSymbol: "NVDA250718C00130000",
		Underlying:     "NVDA",
		OptionType:     types.Call,
		Strike:         130,
		Expiration:     "2025-07-18",
		Quantity:       4,
		EntryPrice:     2.09,
		CurrentPrice:   2.60,
		Status:         types.PositionOpen,
	}
}

func TestExecuteCloseSellsAtProtectedLimit(t *testing.T) {
	fb := entryBroker()
	cfg := testExecConfig()
	cfg.FillPollSeconds = 0
	cfg.FillTimeoutSeconds = 30
	x := newTestExecutor(fb, cfg)

	fill, err := x.ExecuteClose(context.Background(), openedPosition(), 4, "profit target")
	require.NoError(t, err)

	require.Len(t, fb.placed, 1)
	assert.Equal(t, broker.Sell, fb.placed[0].Side)
	assert.Equal(t, 2.01, fb.placed[0].LimitPrice)
	assert.Equal(t, 4, fill.Quantity)
}

func TestExecuteCloseRejectsBadQuantity(t *testing.T) {
	x := newTestExecutor(entryBroker(), testExecConfig())

	_, err := x.ExecuteClose(context.Background(), openedPosition(), 0, "r")
	assert.Error(t, err)
	_, err = x.ExecuteClose(context.Background(), openedPosition(), 9, "r")
	assert.Error(t, err)
}

func TestAwaitFillTimeoutCancelKeepsPartial(t *testing.T) {
	fb := entryBroker()
	fb.statusQueue = []broker.OrderStatus{broker.OrderCanceled}
	fb.fillQty = 2
	cfg := testExecConfig()
	cfg.FillPollSeconds = 0
	cfg.FillTimeoutSeconds = 0
	x := newTestExecutor(fb, cfg)

	fill, err := x.ExecuteClose(context.Background(), openedPosition(), 4, "r")
	require.NoError(t, err)

	// Canceled after a partial fill: the 2 contracts that traded are real.
	assert.Len(t, fb.canceled, 1)
	assert.Equal(t, 2, fill.Quantity)
}

func TestAwaitFillAmbiguousAfterCancel(t *testing.T) {
	fb := entryBroker()
	fb.statusQueue = []broker.OrderStatus{broker.OrderAccepted, broker.OrderAccepted, broker.OrderAccepted}
	cfg := testExecConfig()
	cfg.FillPollSeconds = 0
	cfg.FillTimeoutSeconds = 0
	x := newTestExecutor(fb, cfg)

	_, err := x.ExecuteClose(context.Background(), openedPosition(), 4, "r")
	require.Error(t, err)

	var ae *AmbiguousFillError
	assert.ErrorAs(t, err, &ae)
	// No second submission was attempted.
	assert.Len(t, fb.placed, 1)
}

func TestExecuteRollClosesThenOpensLater(t *testing.T) {
	fb := entryBroker()
	fb.contracts = []broker.OptionContract{
		{Symbol: "NVDA250815C00130000", Underlying: "NVDA", OptionType: types.Call, Strike: 130, Expiration: "2025-08-15"},
		{Symbol: "NVDA250829C00130000", Underlying: "NVDA", OptionType: types.Call, Strike: 130, Expiration: "2025-08-29"},
		{Symbol: "NVDA250815C00135000", Underlying: "NVDA", OptionType: types.Call, Strike: 135, Expiration: "2025-08-15"},
	}
	cfg := testExecConfig()
	cfg.FillPollSeconds = 0
	cfg.FillTimeoutSeconds = 30
	x := newTestExecutor(fb, cfg)

	p := openedPosition()
	newPos, closeFill, err := x.ExecuteRoll(context.Background(), p, 30, "rolling out")
	require.NoError(t, err)

	require.Len(t, fb.placed, 2)
	assert.Equal(t, broker.Sell, fb.placed[0].Side)
	assert.Equal(t, broker.Buy, fb.placed[1].Side)
	assert.Equal(t, 4, closeFill.Quantity)

	// Same strike, earliest expiration inside the roll window.
	assert.Equal(t, "NVDA250815C00130000", newPos.ContractSymbol)
	assert.Equal(t, 130.0, newPos.Strike)
	assert.Equal(t, "2025-08-15", newPos.Expiration)
	assert.Equal(t, p.EntryThesis, newPos.EntryThesis)
	assert.Equal(t, types.PositionOpen, newPos.Status)
}

func TestExecuteRollOpenLegFailureReturnsCloseFill(t *testing.T) {
	fb := entryBroker()
	cfg := testExecConfig()
	cfg.FillPollSeconds = 0
	cfg.FillTimeoutSeconds = 30
	x := newTestExecutor(fb, cfg)

	// Close leg fills against the entry contract; the search for the new
	// expiration then fails. The caller still gets the close fill so the
	// book records the flat position.
	fb.searchErr = errors.New("chain unavailable")
	_, closeFill, err := x.ExecuteRoll(context.Background(), openedPosition(), 30, "rolling out")
	require.Error(t, err)
	assert.Equal(t, 4, closeFill.Quantity)
	require.Len(t, fb.placed, 1)
	assert.Equal(t, broker.Sell, fb.placed[0].Side)
}
