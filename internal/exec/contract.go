package exec

import (
	"context"
	"fmt"
	"math"
	"time"

	"flowgate/internal/broker"
	"flowgate/internal/config"
	"flowgate/internal/types"
)

// ResolveContract maps a signal to a tradeable listed contract: same type,
// nearest strike within tolerance, expiration inside the signal's window.
// Resolution fails closed; an unresolvable signal is never traded on a
// substitute contract.
func ResolveContract(ctx context.Context, b broker.Broker, cfg config.ExecutionConfig, sig types.FlowSignal) (broker.OptionContract, error) {
	exp, err := time.Parse("2006-01-02", sig.Expiration)
	if err != nil {
		return broker.OptionContract{}, fmt.Errorf("signal %s has invalid expiration %q: %w", sig.ID, sig.Expiration, err)
	}
	// A week either side covers weekly/monthly listing mismatches between
	// the flow feed and the broker's chain.
	from := exp.AddDate(0, 0, -7).Format("2006-01-02")
	to := exp.AddDate(0, 0, 7).Format("2006-01-02")

	contracts, err := b.SearchContracts(ctx, sig.Symbol, sig.OptionType, from, to)
	if err != nil {
		return broker.OptionContract{}, fmt.Errorf("contract search for %s failed: %w", sig.Symbol, err)
	}

	tolerance := sig.Strike * cfg.StrikeTolerancePct
	var best broker.OptionContract
	bestDist := math.MaxFloat64
	for _, c := range contracts {
		dist := math.Abs(c.Strike - sig.Strike)
		if dist > tolerance {
			continue
		}
		// Exact expiration wins; otherwise nearest strike, then nearest
		// expiration as tiebreak.
		exact := c.Expiration == sig.Expiration
		bestExact := best.Symbol != "" && best.Expiration == sig.Expiration
		switch {
		case exact && !bestExact:
		case !exact && bestExact:
			continue
		case dist >= bestDist:
			continue
		}
		best = c
		bestDist = dist
	}
	if best.Symbol == "" {
		return broker.OptionContract{}, fmt.Errorf("no contract for %s %s strike %.2f within %.1f%% of %s",
			sig.Symbol, sig.OptionType, sig.Strike, cfg.StrikeTolerancePct*100, sig.Expiration)
	}
	return best, nil
}
