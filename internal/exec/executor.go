package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"flowgate/internal/broker"
	"flowgate/internal/config"
	"flowgate/internal/gate"
	"flowgate/internal/logger"
	"flowgate/internal/types"
)

// AmbiguousFillError means an order's terminal state could not be confirmed
// and the position read-back did not resolve it. The order is never blindly
// resubmitted; a human or the next cycle's reconciliation decides.
type AmbiguousFillError struct {
	ClientOrderID  string
	ContractSymbol string
	Err            error
}

func (e *AmbiguousFillError) Error() string {
	return fmt.Sprintf("fill state for %s (client order %s) is ambiguous: %v", e.ContractSymbol, e.ClientOrderID, e.Err)
}

func (e *AmbiguousFillError) Unwrap() error { return e.Err }

// Fill is a confirmed execution.
type Fill struct {
	Order          broker.Order
	Contract       broker.OptionContract
	AvgPrice       float64
	Quantity       int
}

// Executor turns gate-approved decisions into limit orders and confirmed
// fills. Exactly one submission per signal per cycle; everything after
// submission is observation.
type Executor struct {
	cfg    config.ExecutionConfig
	risk   config.RiskConfig
	broker broker.Broker
	now    func() time.Time
}

func NewExecutor(cfg config.ExecutionConfig, riskCfg config.RiskConfig, b broker.Broker) *Executor {
	return &Executor{cfg: cfg, risk: riskCfg, broker: b, now: time.Now}
}

// ExecuteEntry runs the full entry pipeline for an approved decision.
// Any pre-submission failure aborts cleanly with no order on the book.
func (x *Executor) ExecuteEntry(ctx context.Context, d gate.Decision, account types.AccountSnapshot, riskState types.PortfolioRiskState, trend types.TrendLabel) (types.Position, error) {
	sig := d.Signal

	contract, err := ResolveContract(ctx, x.broker, x.cfg, sig)
	if err != nil {
		return types.Position{}, err
	}
	quote, err := x.broker.ContractQuote(ctx, contract.Symbol)
	if err != nil {
		return types.Position{}, fmt.Errorf("quote for %s failed: %w", contract.Symbol, err)
	}
	if err := CheckLiquidity(x.cfg, contract.Symbol, quote); err != nil {
		return types.Position{}, err
	}

	qty := SizeOrder(x.cfg, sig, d.Conviction, account, riskState, quote.Ask)
	if qty < 1 {
		return types.Position{}, fmt.Errorf("sizing produced zero quantity for %s", contract.Symbol)
	}
	limit := LimitPrice(quote, broker.Buy, x.cfg.LimitPriceBufferPct)

	clientOrderID := "fg-" + uuid.NewString()
	logger.Infof("exec: buying %d x %s limit %.2f (bid %.2f ask %.2f) signal=%s conviction=%d",
		qty, contract.Symbol, limit, quote.Bid, quote.Ask, sig.ID, d.Conviction)

	order, err := x.broker.PlaceLimitOrder(ctx, contract.Symbol, broker.Buy, qty, limit, clientOrderID)
	if err != nil {
		// Submission may have reached the broker before the failure. Read
		// back by client order ID before declaring it dead.
		if readBack, rbErr := x.broker.OrderByClientID(ctx, clientOrderID); rbErr == nil {
			order = readBack
		} else {
			return types.Position{}, fmt.Errorf("order submission for %s failed: %w", contract.Symbol, err)
		}
	}

	fill, err := x.awaitFill(ctx, order, contract)
	if err != nil {
		return types.Position{}, err
	}

	now := x.now()
	iv := x.risk.DefaultIV
	spot, spotErr := x.broker.LastPrice(ctx, sig.Symbol)
	if spotErr != nil || spot <= 0 {
		spot = sig.UnderlyingPrice
	}
	pos := types.Position{
		ContractSymbol:  contract.Symbol,
		Underlying:      contract.Underlying,
		OptionType:      contract.OptionType,
		Strike:          contract.Strike,
		Expiration:      contract.Expiration,
		Quantity:        fill.Quantity,
		EntryPrice:      fill.AvgPrice,
		EntryGreeks:     entryGreeks(contract, spot, iv, x.risk.RiskFreeRate, now),
		EntryThesis:     d.Thesis,
		EntryConviction: d.Conviction,
		EntryTrend:      trend,
		SignalScore:     sig.Score,
		OpenedAt:        now,
		CurrentPrice:    fill.AvgPrice,
		MarketValue:     fill.AvgPrice * float64(fill.Quantity) * ContractMultiplier,
		Status:          types.PositionOpen,
	}
	pos.CurrentGreeks = pos.EntryGreeks
	return pos, nil
}

// ExecuteClose sells qty contracts of an open position (full close or trim).
// Returns the confirmed fill.
func (x *Executor) ExecuteClose(ctx context.Context, p types.Position, qty int, reason string) (Fill, error) {
	if qty < 1 || qty > p.Quantity {
		return Fill{}, fmt.Errorf("close quantity %d invalid for position of %d", qty, p.Quantity)
	}
	quote, err := x.broker.ContractQuote(ctx, p.ContractSymbol)
	if err != nil {
		return Fill{}, fmt.Errorf("quote for %s failed: %w", p.ContractSymbol, err)
	}
	limit := LimitPrice(quote, broker.Sell, x.cfg.LimitPriceBufferPct)

	clientOrderID := "fg-" + uuid.NewString()
	logger.Infof("exec: selling %d x %s limit %.2f reason=%s", qty, p.ContractSymbol, limit, reason)

	order, err := x.broker.PlaceLimitOrder(ctx, p.ContractSymbol, broker.Sell, qty, limit, clientOrderID)
	if err != nil {
		if readBack, rbErr := x.broker.OrderByClientID(ctx, clientOrderID); rbErr == nil {
			order = readBack
		} else {
			return Fill{}, fmt.Errorf("close order for %s failed: %w", p.ContractSymbol, err)
		}
	}
	contract := broker.OptionContract{
		Symbol:     p.ContractSymbol,
		Underlying: p.Underlying,
		OptionType: p.OptionType,
		Strike:     p.Strike,
		Expiration: p.Expiration,
	}
	return x.awaitFill(ctx, order, contract)
}

// ExecuteRoll closes the position in full and reopens the same strike and
// type at a later expiration. The open leg runs only after the close leg is
// confirmed; a failed open leaves the book flat, never doubled.
func (x *Executor) ExecuteRoll(ctx context.Context, p types.Position, rollDays int, reason string) (types.Position, Fill, error) {
	closeFill, err := x.ExecuteClose(ctx, p, p.Quantity, reason)
	if err != nil {
		return types.Position{}, Fill{}, fmt.Errorf("roll close leg failed: %w", err)
	}

	oldExp, err := time.Parse("2006-01-02", p.Expiration)
	if err != nil {
		return types.Position{}, closeFill, fmt.Errorf("roll: invalid expiration %q: %w", p.Expiration, err)
	}
	from := oldExp.AddDate(0, 0, rollDays-7).Format("2006-01-02")
	to := oldExp.AddDate(0, 0, rollDays+14).Format("2006-01-02")

	contracts, err := x.broker.SearchContracts(ctx, p.Underlying, p.OptionType, from, to)
	if err != nil {
		return types.Position{}, closeFill, fmt.Errorf("roll: contract search failed: %w", err)
	}
	var target broker.OptionContract
	for _, c := range contracts {
		if c.Strike != p.Strike {
			continue
		}
		if target.Symbol == "" || c.Expiration < target.Expiration {
			target = c
		}
	}
	if target.Symbol == "" {
		return types.Position{}, closeFill, fmt.Errorf("roll: no %s %.2f strike in window %s..%s", p.Underlying, p.Strike, from, to)
	}

	quote, err := x.broker.ContractQuote(ctx, target.Symbol)
	if err != nil {
		return types.Position{}, closeFill, fmt.Errorf("roll: quote for %s failed: %w", target.Symbol, err)
	}
	if err := CheckLiquidity(x.cfg, target.Symbol, quote); err != nil {
		return types.Position{}, closeFill, err
	}
	limit := LimitPrice(quote, broker.Buy, x.cfg.LimitPriceBufferPct)

	clientOrderID := "fg-" + uuid.NewString()
	logger.Infof("exec: rolling %s -> %s, buying %d limit %.2f", p.ContractSymbol, target.Symbol, p.Quantity, limit)
	order, err := x.broker.PlaceLimitOrder(ctx, target.Symbol, broker.Buy, p.Quantity, limit, clientOrderID)
	if err != nil {
		if readBack, rbErr := x.broker.OrderByClientID(ctx, clientOrderID); rbErr == nil {
			order = readBack
		} else {
			return types.Position{}, closeFill, fmt.Errorf("roll open leg failed: %w", err)
		}
	}
	openFill, err := x.awaitFill(ctx, order, target)
	if err != nil {
		return types.Position{}, closeFill, err
	}

	now := x.now()
	spot, spotErr := x.broker.LastPrice(ctx, p.Underlying)
	if spotErr != nil {
		spot = 0
	}
	newPos := types.Position{
		ContractSymbol:  target.Symbol,
		Underlying:      target.Underlying,
		OptionType:      target.OptionType,
		Strike:          target.Strike,
		Expiration:      target.Expiration,
		Quantity:        openFill.Quantity,
		Sector:          p.Sector,
		EntryPrice:      openFill.AvgPrice,
		EntryGreeks:     entryGreeks(target, spot, x.risk.DefaultIV, x.risk.RiskFreeRate, now),
		EntryThesis:     p.EntryThesis,
		EntryConviction: p.EntryConviction,
		EntryTrend:      p.EntryTrend,
		SignalScore:     p.SignalScore,
		OpenedAt:        now,
		CurrentPrice:    openFill.AvgPrice,
		MarketValue:     openFill.AvgPrice * float64(openFill.Quantity) * ContractMultiplier,
		Status:          types.PositionOpen,
	}
	newPos.CurrentGreeks = newPos.EntryGreeks
	return newPos, closeFill, nil
}

// awaitFill polls the order until a terminal state or the fill timeout. On
// timeout the order is canceled and the final state read back; if even the
// read-back fails, the result is an AmbiguousFillError, never a resubmit.
func (x *Executor) awaitFill(ctx context.Context, order broker.Order, contract broker.OptionContract) (Fill, error) {
	poll := time.Duration(x.cfg.FillPollSeconds) * time.Second
	deadline := x.now().Add(time.Duration(x.cfg.FillTimeoutSeconds) * time.Second)

	current := order
	for {
		if current.Status.Terminal() {
			break
		}
		if x.now().After(deadline) {
			logger.Warnf("exec: order %s not filled within %ds, canceling", current.ID, x.cfg.FillTimeoutSeconds)
			if err := x.broker.CancelOrder(ctx, current.ID); err != nil {
				logger.Warnf("exec: cancel of %s failed: %v", current.ID, err)
			}
			// The cancel races the fill; the read-back below settles it.
		}
		select {
		case <-ctx.Done():
			return Fill{}, &AmbiguousFillError{
				ClientOrderID:  current.ClientOrderID,
				ContractSymbol: contract.Symbol,
				Err:            ctx.Err(),
			}
		case <-time.After(poll):
		}
		refreshed, err := x.broker.OrderByID(ctx, current.ID)
		if err != nil {
			return Fill{}, &AmbiguousFillError{
				ClientOrderID:  current.ClientOrderID,
				ContractSymbol: contract.Symbol,
				Err:            err,
			}
		}
		current = refreshed
		if x.now().After(deadline) && current.Status.Terminal() {
			break
		}
		if x.now().After(deadline.Add(poll * 2)) {
			// Cancel did not settle either way.
			return Fill{}, &AmbiguousFillError{
				ClientOrderID:  current.ClientOrderID,
				ContractSymbol: contract.Symbol,
				Err:            fmt.Errorf("order stuck in state %s after cancel", current.Status),
			}
		}
	}

	switch current.Status {
	case broker.OrderFilled:
		return Fill{Order: current, Contract: contract, AvgPrice: current.FilledAvgPrice, Quantity: current.FilledQty}, nil
	case broker.OrderCanceled, broker.OrderExpired:
		if current.FilledQty > 0 {
			// Partial fill before cancel still opened real exposure.
			return Fill{Order: current, Contract: contract, AvgPrice: current.FilledAvgPrice, Quantity: current.FilledQty}, nil
		}
		return Fill{}, fmt.Errorf("order %s for %s %s with no fill", current.ID, contract.Symbol, current.Status)
	case broker.OrderRejected:
		return Fill{}, fmt.Errorf("order %s for %s rejected", current.ID, contract.Symbol)
	default:
		return Fill{}, &AmbiguousFillError{
			ClientOrderID:  current.ClientOrderID,
			ContractSymbol: contract.Symbol,
			Err:            fmt.Errorf("non-terminal state %s", current.Status),
		}
	}
}
