package exec

import (
	"fmt"

	"flowgate/internal/broker"
	"flowgate/internal/config"
)

// LiquidityError rejects a contract whose market is too thin or too wide to
// trade at a fair price.
type LiquidityError struct {
	ContractSymbol string
	Reason         string
}

func (e *LiquidityError) Error() string {
	return fmt.Sprintf("liquidity check failed for %s: %s", e.ContractSymbol, e.Reason)
}

// CheckLiquidity validates the quote before any order is sized or placed.
func CheckLiquidity(cfg config.ExecutionConfig, contractSymbol string, q broker.Quote) error {
	if q.Bid < cfg.MinBid {
		return &LiquidityError{
			ContractSymbol: contractSymbol,
			Reason:         fmt.Sprintf("bid %.2f below floor %.2f", q.Bid, cfg.MinBid),
		}
	}
	if q.BidSize < cfg.MinBidSize {
		return &LiquidityError{
			ContractSymbol: contractSymbol,
			Reason:         fmt.Sprintf("bid size %d below floor %d", q.BidSize, cfg.MinBidSize),
		}
	}
	if q.Ask <= 0 || q.Ask < q.Bid {
		return &LiquidityError{
			ContractSymbol: contractSymbol,
			Reason:         fmt.Sprintf("crossed or empty book: bid %.2f ask %.2f", q.Bid, q.Ask),
		}
	}
	mid := q.Mid()
	if mid <= 0 {
		return &LiquidityError{ContractSymbol: contractSymbol, Reason: "zero mid price"}
	}
	spreadPct := (q.Ask - q.Bid) / mid
	if spreadPct > cfg.MaxSpreadPct {
		return &LiquidityError{
			ContractSymbol: contractSymbol,
			Reason:         fmt.Sprintf("spread %.1f%% above limit %.1f%%", spreadPct*100, cfg.MaxSpreadPct*100),
		}
	}
	return nil
}
