package exitrules

import (
	"flowgate/internal/logger"
	"flowgate/internal/oracle"
	"flowgate/internal/types"
)

// PlannedExit pairs a position with the first rule that fired for it.
type PlannedExit struct {
	Position types.Position
	Signal   ExitSignal
}

// Monitor evaluates the active rule set against open positions each cycle.
type Monitor struct {
	registry *Registry
}

func NewMonitor(registry *Registry) *Monitor {
	return &Monitor{registry: registry}
}

// Plan walks positions through the rules in priority order. The first rule
// that fires wins for that position; hard rules run first so a breached stop
// always closes even when a softer rule would hold or roll.
func (m *Monitor) Plan(positions []types.Position, reviews []oracle.PositionReview, trendOf func(symbol string) types.TrendLabel, in EvalInput) []PlannedExit {
	snap := m.registry.Snapshot()
	reviewBySymbol := make(map[string]*oracle.PositionReview, len(reviews))
	for i := range reviews {
		reviewBySymbol[reviews[i].ContractSymbol] = &reviews[i]
	}

	planned := make([]PlannedExit, 0)
	for _, p := range positions {
		if p.Status != types.PositionOpen {
			continue
		}
		eval := EvalInput{
			Position: p,
			Now:      in.Now,
			Review:   reviewBySymbol[p.ContractSymbol],
		}
		if trendOf != nil {
			eval.Trend = trendOf(p.Underlying)
		}
		for _, rule := range snap.Rules {
			sig := rule.Handler.Evaluate(eval, rule.Params)
			if sig == nil {
				continue
			}
			logger.Infof("exit: %s fired for %s: %s", sig.RuleID, p.ContractSymbol, sig.Reason)
			planned = append(planned, PlannedExit{Position: p, Signal: *sig})
			break
		}
	}
	return planned
}
