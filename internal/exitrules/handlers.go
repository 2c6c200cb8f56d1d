package exitrules

import (
	"fmt"

	"flowgate/internal/types"
)

// Rule IDs, in evaluation order. The two hard rules are pinned first and are
// always evaluated; disabling them in the rules file is ignored.
const (
	RuleHardStopLoss     = "hard_stop_loss"
	RuleHardProfitTarget = "hard_profit_target"
	RuleDTEClose         = "dte_close"
	RuleThesisInvalid    = "thesis_invalidation"
	RuleConvictionFade   = "conviction_collapse"
	RuleDTEUrgency       = "dte_urgency"
)

func numberSchema(min, max float64) map[string]any {
	return map[string]any{"type": "number", "minimum": min, "maximum": max}
}

func integerSchema(min int) map[string]any {
	return map[string]any{"type": "integer", "minimum": min}
}

func objectSchema(props map[string]any) map[string]any {
	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           props,
	}
}

// hardStopLoss closes the full position when the loss reaches the threshold.
// Fires at exactly the threshold; unconditional.
type hardStopLoss struct{}

func (hardStopLoss) ID() string { return RuleHardStopLoss }

func (hardStopLoss) Schema() map[string]any {
	return objectSchema(map[string]any{"stop_loss_pct": numberSchema(0.01, 1)})
}

func (hardStopLoss) Evaluate(in EvalInput, params map[string]any) *ExitSignal {
	threshold := floatParam(params, "stop_loss_pct", 0.5)
	pnl := in.Position.PnLPct()
	if pnl <= -threshold {
		return &ExitSignal{
			RuleID: RuleHardStopLoss,
			Action: ActionClose,
			Reason: fmt.Sprintf("stop loss: pnl %.1f%% breached -%.1f%%", pnl*100, threshold*100),
		}
	}
	return nil
}

// hardProfitTarget closes the full position at the profit target. Fires at
// exactly the threshold; unconditional.
type hardProfitTarget struct{}

func (hardProfitTarget) ID() string { return RuleHardProfitTarget }

func (hardProfitTarget) Schema() map[string]any {
	return objectSchema(map[string]any{"profit_target_pct": numberSchema(0.01, 10)})
}

func (hardProfitTarget) Evaluate(in EvalInput, params map[string]any) *ExitSignal {
	threshold := floatParam(params, "profit_target_pct", 0.75)
	pnl := in.Position.PnLPct()
	if pnl >= threshold {
		return &ExitSignal{
			RuleID: RuleHardProfitTarget,
			Action: ActionClose,
			Reason: fmt.Sprintf("profit target: pnl %.1f%% reached %.1f%%", pnl*100, threshold*100),
		}
	}
	return nil
}

// dteClose exits positions too close to expiration regardless of pnl; long
// premium held into the final days bleeds to zero.
type dteClose struct{}

func (dteClose) ID() string { return RuleDTEClose }

func (dteClose) Schema() map[string]any {
	return objectSchema(map[string]any{"close_dte": integerSchema(0)})
}

func (dteClose) Evaluate(in EvalInput, params map[string]any) *ExitSignal {
	threshold := intParam(params, "close_dte", 3)
	dte := in.Position.DTE(in.Now)
	if dte <= threshold {
		return &ExitSignal{
			RuleID: RuleDTEClose,
			Action: ActionClose,
			Reason: fmt.Sprintf("expiration in %d days (limit %d)", dte, threshold),
		}
	}
	return nil
}

// thesisInvalidation closes when the underlying's trend has reversed against
// the direction held at entry, or the oracle review marks the thesis broken.
type thesisInvalidation struct{}

func (thesisInvalidation) ID() string { return RuleThesisInvalid }

func (thesisInvalidation) Schema() map[string]any {
	return objectSchema(map[string]any{})
}

func (thesisInvalidation) Evaluate(in EvalInput, params map[string]any) *ExitSignal {
	if in.Review != nil && !in.Review.ThesisIntact {
		return &ExitSignal{
			RuleID: RuleThesisInvalid,
			Action: ActionClose,
			Reason: "entry thesis no longer holds: " + in.Review.Note,
		}
	}
	if reversed(in.Position, in.Trend) {
		return &ExitSignal{
			RuleID: RuleThesisInvalid,
			Action: ActionClose,
			Reason: fmt.Sprintf("trend reversed: entry %s, now %s", in.Position.EntryTrend, in.Trend),
		}
	}
	return nil
}

// reversed reports a trend flip against the position's direction. Calls are
// long direction, puts short; sideways or unknown does not count.
func reversed(p types.Position, trend types.TrendLabel) bool {
	if trend != types.TrendBullish && trend != types.TrendBearish {
		return false
	}
	if p.OptionType == types.Call {
		return trend == types.TrendBearish
	}
	return trend == types.TrendBullish
}

// convictionCollapse acts on the oracle's re-evaluation: below the exit
// threshold close, below the trim threshold shed half.
type convictionCollapse struct{}

func (convictionCollapse) ID() string { return RuleConvictionFade }

func (convictionCollapse) Schema() map[string]any {
	return objectSchema(map[string]any{
		"exit_below": integerSchema(1),
		"trim_below": integerSchema(1),
	})
}

func (convictionCollapse) Evaluate(in EvalInput, params map[string]any) *ExitSignal {
	if in.Review == nil {
		return nil
	}
	exitBelow := intParam(params, "exit_below", 40)
	trimBelow := intParam(params, "trim_below", 60)
	conv := in.Review.Conviction
	if conv < exitBelow {
		return &ExitSignal{
			RuleID: RuleConvictionFade,
			Action: ActionClose,
			Reason: fmt.Sprintf("conviction fell to %d (exit below %d)", conv, exitBelow),
		}
	}
	if conv < trimBelow && in.Position.Quantity > 1 {
		return &ExitSignal{
			RuleID:   RuleConvictionFade,
			Action:   ActionTrim,
			Quantity: in.Position.Quantity / 2,
			Reason:   fmt.Sprintf("conviction fell to %d (trim below %d)", conv, trimBelow),
		}
	}
	return nil
}

// dteUrgency tightens the profit bar as expiration nears: inside the urgency
// window a modest winner is closed, while a loser with intact conviction is
// rolled out rather than held into decay.
type dteUrgency struct{}

func (dteUrgency) ID() string { return RuleDTEUrgency }

func (dteUrgency) Schema() map[string]any {
	return objectSchema(map[string]any{
		"urgency_dte":      integerSchema(0),
		"tight_profit_pct": numberSchema(0, 10),
	})
}

func (dteUrgency) Evaluate(in EvalInput, params map[string]any) *ExitSignal {
	urgencyDTE := intParam(params, "urgency_dte", 7)
	tightProfit := floatParam(params, "tight_profit_pct", 0.25)
	dte := in.Position.DTE(in.Now)
	if dte > urgencyDTE {
		return nil
	}
	pnl := in.Position.PnLPct()
	if pnl >= tightProfit {
		return &ExitSignal{
			RuleID: RuleDTEUrgency,
			Action: ActionClose,
			Reason: fmt.Sprintf("taking %.1f%% with %d days left", pnl*100, dte),
		}
	}
	if in.Review != nil && in.Review.ThesisIntact && in.Review.Conviction >= in.Position.EntryConviction {
		return &ExitSignal{
			RuleID: RuleDTEUrgency,
			Action: ActionRoll,
			Reason: fmt.Sprintf("thesis intact with %d days left, rolling out", dte),
		}
	}
	return nil
}
