package gate

import (
	"fmt"
	"strings"
	"time"

	"flowgate/internal/config"
	"flowgate/internal/logger"
	"flowgate/internal/oracle"
	"flowgate/internal/types"
)

// SignalState is a signal's position in the per-cycle decision pipeline.
// Transitions only move forward; a terminal action is final for the cycle.
type SignalState string

const (
	StateReceived         SignalState = "RECEIVED"
	StatePreFiltered      SignalState = "PRE_FILTERED"
	StateContextAssembled SignalState = "CONTEXT_ASSEMBLED"
	StateOracleScored     SignalState = "ORACLE_SCORED"
	StateGateEvaluated    SignalState = "GATE_EVALUATED"
)

// Action is the terminal outcome for a signal.
type Action string

const (
	ActionExecute Action = "EXECUTE"
	ActionAlert   Action = "ALERT"
	ActionSkip    Action = "SKIP"
	ActionBlocked Action = "BLOCKED"
)

// Check names, recorded per decision so the audit trail shows every gate
// that ran and its result.
const (
	CheckPositionCount  = "position_count"
	CheckExposure       = "options_exposure"
	CheckDailyLimit     = "daily_limit"
	CheckRiskCapacity   = "risk_capacity"
	CheckRiskLevel      = "risk_level"
	CheckConcentration  = "concentration"
	CheckEarnings       = "earnings_blackout"
	CheckDuplicate      = "duplicate_underlying"
)

// Snapshot is the frozen context every candidate in a cycle is judged
// against. Assembled once before the oracle call; no live lookups after.
type Snapshot struct {
	Market          types.MarketContext
	Risk            types.PortfolioRiskState
	Account         types.AccountSnapshot
	OpenPositions   []types.Position
	ExecutionsToday int
	// EarningsDates maps underlying symbol to next earnings date
	// (YYYY-MM-DD), empty when none is scheduled.
	EarningsDates map[string]string
	BreakerOpen   bool
	Now           time.Time
}

// Decision is the gate's verdict for one signal, including the full reason
// trail for the audit log.
type Decision struct {
	Signal     types.FlowSignal
	State      SignalState
	Action     Action
	Conviction int
	Thesis     string
	Checks     map[string]bool
	Reasons    []string
	// EstimatedValue is the projected position cost used for the
	// concentration check, carried forward to sizing.
	EstimatedValue float64
}

// Gate applies the hard admission checks between oracle conviction and order
// placement. It never mutates the snapshot.
type Gate struct {
	cfg config.GateConfig
}

func New(cfg config.GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

// Evaluate runs one candidate through the gate. rec is the oracle's verdict;
// a rec carrying an error forces ALERT regardless of checks.
func (g *Gate) Evaluate(sig types.FlowSignal, rec oracle.Recommendation, snap Snapshot, estimatedValue float64) Decision {
	d := Decision{
		Signal:         sig,
		State:          StateOracleScored,
		Conviction:     rec.Conviction,
		Thesis:         rec.Thesis,
		Checks:         make(map[string]bool),
		EstimatedValue: estimatedValue,
	}

	if rec.Err != nil {
		// A signal the oracle could not score is surfaced, never silently
		// dropped.
		d.Action = ActionAlert
		d.Reasons = append(d.Reasons, fmt.Sprintf("oracle: %v", rec.Err))
		return d
	}

	d.State = StateGateEvaluated

	if rec.Conviction < g.cfg.MinConviction {
		d.Action = ActionSkip
		d.Reasons = append(d.Reasons, fmt.Sprintf("conviction %d below minimum %d", rec.Conviction, g.cfg.MinConviction))
		return d
	}

	if snap.BreakerOpen {
		d.Action = ActionBlocked
		d.Reasons = append(d.Reasons, "circuit breaker open, executions suppressed")
		return d
	}

	override := rec.Conviction >= g.cfg.ExceptionalConviction
	g.runChecks(&d, snap, override)

	failed := make([]string, 0)
	for name, ok := range d.Checks {
		if !ok {
			failed = append(failed, name)
		}
	}
	if len(failed) > 0 {
		d.Action = ActionAlert
		logger.Infof("gate: %s downgraded to ALERT, failing checks: %s", sig.ID, strings.Join(failed, ", "))
		return d
	}
	d.Action = ActionExecute
	return d
}

// runChecks fills d.Checks and d.Reasons. The exceptional-conviction
// override bypasses the daily limit and risk capacity checks only; the
// critical risk level check can never be bypassed.
func (g *Gate) runChecks(d *Decision, snap Snapshot, override bool) {
	sig := d.Signal

	// 1. Open position count.
	openCount := len(snap.OpenPositions)
	d.check(CheckPositionCount, openCount < g.cfg.MaxOpenPositions,
		fmt.Sprintf("open positions %d at limit %d", openCount, g.cfg.MaxOpenPositions))

	// 2. Total options exposure as a share of equity, projected post-fill.
	if snap.Account.Equity > 0 {
		projected := (snap.Risk.OptionsValue + d.EstimatedValue) / snap.Account.Equity
		d.check(CheckExposure, projected <= g.cfg.MaxOptionsExposurePct,
			fmt.Sprintf("projected options exposure %.1f%% exceeds %.1f%%", projected*100, g.cfg.MaxOptionsExposurePct*100))
	} else {
		d.check(CheckExposure, false, "account equity unavailable")
	}

	// 3. Daily execution ceiling. Override allowed.
	dailyOK := snap.ExecutionsToday < g.cfg.MaxExecutionsPerDay
	if !dailyOK && override {
		dailyOK = true
		d.Reasons = append(d.Reasons, "daily limit bypassed on exceptional conviction")
	}
	d.check(CheckDailyLimit, dailyOK,
		fmt.Sprintf("daily executions %d at limit %d", snap.ExecutionsToday, g.cfg.MaxExecutionsPerDay))

	// 4. Remaining risk capacity. Override allowed.
	capacityOK := snap.Risk.RiskCapacity >= g.cfg.MinRiskCapacity
	if !capacityOK && override {
		capacityOK = true
		d.Reasons = append(d.Reasons, "risk capacity bypassed on exceptional conviction")
	}
	d.check(CheckRiskCapacity, capacityOK,
		fmt.Sprintf("risk capacity %.2f below minimum %.2f", snap.Risk.RiskCapacity, g.cfg.MinRiskCapacity))

	// 5. Critical portfolio risk. Absolute; no override.
	d.check(CheckRiskLevel, snap.Risk.RiskLevel != types.RiskCritical,
		fmt.Sprintf("portfolio risk level %s blocks all entries", snap.Risk.RiskLevel))

	// 6. Projected concentration per sector and per underlying.
	d.check(CheckConcentration, g.concentrationOK(d, snap),
		"projected concentration exceeds limit")

	// 7. Earnings blackout window.
	d.check(CheckEarnings, g.earningsOK(sig.Symbol, snap),
		fmt.Sprintf("earnings within %d days", g.cfg.EarningsBlackoutDays))

	// 8. One open position per underlying.
	dup := false
	for _, p := range snap.OpenPositions {
		if p.Underlying == sig.Symbol {
			dup = true
			break
		}
	}
	d.check(CheckDuplicate, !dup,
		fmt.Sprintf("already holding a position in %s", sig.Symbol))
}

func (d *Decision) check(name string, ok bool, failReason string) {
	d.Checks[name] = ok
	if !ok {
		d.Reasons = append(d.Reasons, failReason)
	}
}

// concentrationOK projects the underlying's and its sector's exposure as a
// share of equity after the candidate fill.
func (g *Gate) concentrationOK(d *Decision, snap Snapshot) bool {
	equity := snap.Account.Equity
	if equity <= 0 {
		return false
	}
	underlyingValue := snap.Risk.UnderlyingExposure[d.Signal.Symbol] + d.EstimatedValue
	if underlyingValue/equity > g.cfg.MaxUnderlyingPct {
		return false
	}
	sector := sectorOf(d.Signal.Symbol, snap.OpenPositions)
	if sector != "" {
		sectorValue := snap.Risk.SectorExposure[sector] + d.EstimatedValue
		if sectorValue/equity > g.cfg.MaxSectorPct {
			return false
		}
	}
	return true
}

func sectorOf(symbol string, positions []types.Position) string {
	for _, p := range positions {
		if p.Underlying == symbol {
			return p.Sector
		}
	}
	return ""
}

// earningsOK rejects entries whose underlying reports within the blackout
// window. An unknown earnings date passes; the feed is best effort.
func (g *Gate) earningsOK(symbol string, snap Snapshot) bool {
	date, ok := snap.EarningsDates[symbol]
	if !ok || strings.TrimSpace(date) == "" {
		return true
	}
	earnings, err := time.Parse("2006-01-02", date)
	if err != nil {
		return true
	}
	until := earnings.Sub(snap.Now.Truncate(24 * time.Hour)).Hours() / 24
	return until < 0 || until > float64(g.cfg.EarningsBlackoutDays)
}
