package oracle

import (
	"context"
	"fmt"

	"flowgate/internal/types"
)

// OracleError marks a per-signal evaluation failure: the model's answer for
// that signal was missing, malformed, or schema-invalid. The gate treats it
// as ALERT, never as a silent skip.
type OracleError struct {
	SignalID string
	Reason   string
	Err      error
}

func (e *OracleError) Error() string {
	if e.SignalID != "" {
		return fmt.Sprintf("oracle evaluation failed for signal %s: %s", e.SignalID, e.Reason)
	}
	return fmt.Sprintf("oracle evaluation failed: %s", e.Reason)
}

func (e *OracleError) Unwrap() error { return e.Err }

// Batch is everything the oracle sees for one cycle's candidates. Assembled
// once; no live lookups happen after assembly.
type Batch struct {
	Market     types.MarketContext
	Risk       types.PortfolioRiskState
	Candidates []types.FlowSignal
}

// Recommendation is the oracle's verdict on one candidate signal.
type Recommendation struct {
	SignalID   string `json:"signal_id"`
	Conviction int    `json:"conviction"` // 0-100
	Thesis     string `json:"thesis"`
	Err        *OracleError `json:"-"` // set when this signal's element failed validation
}

// PositionReview is the oracle's re-evaluation of an open position.
type PositionReview struct {
	ContractSymbol string `json:"contract_symbol"`
	Conviction     int    `json:"conviction"`
	ThesisIntact   bool   `json:"thesis_intact"`
	Note           string `json:"note"`
}

// Evaluator scores a batch of candidates in a single model call. The returned
// slice has exactly one entry per candidate, in candidate order; entries whose
// element failed carry a non-nil Err.
type Evaluator interface {
	Evaluate(ctx context.Context, batch Batch) ([]Recommendation, error)
	ReviewPositions(ctx context.Context, positions []types.Position, market types.MarketContext, risk types.PortfolioRiskState) ([]PositionReview, error)
}
