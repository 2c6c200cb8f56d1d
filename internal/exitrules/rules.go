package exitrules

import (
	"time"

	"flowgate/internal/oracle"
	"flowgate/internal/types"
)

// ExitAction is what a fired rule wants done with the position.
type ExitAction string

const (
	ActionClose ExitAction = "CLOSE"
	ActionTrim  ExitAction = "TRIM"
	ActionRoll  ExitAction = "ROLL"
)

// ExitSignal is one rule's verdict. Quantity 0 means the full position.
type ExitSignal struct {
	RuleID   string
	Action   ExitAction
	Quantity int
	Reason   string
}

// EvalInput is everything a rule may consult for one position. Review is nil
// when the oracle produced no valid re-evaluation this cycle; rules treat
// that as no new information.
type EvalInput struct {
	Position types.Position
	Now      time.Time
	Trend    types.TrendLabel
	Review   *oracle.PositionReview
}

// Handler is a single named exit rule. Handlers are stateless; per-rule
// parameters arrive from the registry on every evaluation.
type Handler interface {
	// ID matches the rule's key in exit_rules.yaml.
	ID() string
	// Schema is the jsonschema for this rule's params, enforced at load.
	Schema() map[string]any
	// Evaluate returns nil when the rule does not fire.
	Evaluate(in EvalInput, params map[string]any) *ExitSignal
}

func floatParam(params map[string]any, key string, def float64) float64 {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func intParam(params map[string]any, key string, def int) int {
	if params == nil {
		return def
	}
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
