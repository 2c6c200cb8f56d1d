package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"flowgate/internal/broker"
	"flowgate/internal/config"
	"flowgate/internal/exec"
	"flowgate/internal/exitrules"
	"flowgate/internal/flow"
	"flowgate/internal/gate"
	"flowgate/internal/logger"
	"flowgate/internal/market"
	"flowgate/internal/notifier"
	"flowgate/internal/oracle"
	"flowgate/internal/pkg/circuit"
	"flowgate/internal/risk"
	"flowgate/internal/state"
	"flowgate/internal/types"
)

// Deps carries everything a Scheduler needs. All fields are required except
// Notify, which defaults to a no-op.
type Deps struct {
	Cfg     config.SchedulerConfig
	ExecCfg config.ExecutionConfig
	ExitCfg config.ExitConfig
	Session *Session
	Flow    *flow.Client
	Filter  *flow.Filter
	Market  *market.Service
	Risk    *risk.Engine
	Gate    *gate.Gate
	Oracle  oracle.Evaluator
	Exec    *exec.Executor
	Monitor *exitrules.Monitor
	Broker  broker.Broker
	Store   *state.Store
	Notify  notifier.TextNotifier
	Breaker *circuit.Breaker
	State   *state.CycleState
}

// Scheduler owns the cycle loop and the CycleState. One cycle runs at a
// time; an overrunning cycle is abandoned at its deadline, never queued.
type Scheduler struct {
	d   Deps
	cs  *state.CycleState
	now func() time.Time
}

func New(d Deps) *Scheduler {
	if d.Notify == nil {
		d.Notify = notifier.Noop{}
	}
	return &Scheduler{d: d, cs: d.State, now: time.Now}
}

// Run blocks until ctx is canceled, firing one cycle per interval while the
// venue session is open.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := time.Duration(s.d.Cfg.IntervalSeconds) * time.Second
	logger.Infof("scheduler: running every %s inside venue session", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("scheduler: stopping, persisting state")
			s.persist(context.Background())
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()
	if !s.d.Session.InSession(now) {
		logger.Debugf("scheduler: venue closed, skipping cycle")
		return
	}
	deadline := time.Duration(s.d.Cfg.DeadlineSeconds) * time.Second
	cycleCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := s.now()
	s.runCycle(cycleCtx)
	elapsed := s.now().Sub(start).Round(time.Millisecond)
	if cycleCtx.Err() == context.DeadlineExceeded {
		logger.Warnf("scheduler: cycle abandoned at deadline after %s", elapsed)
	} else {
		logger.Debugf("scheduler: cycle finished in %s", elapsed)
	}
}

// cycleResult accumulates what happened, for the summary line.
type cycleResult struct {
	signals   int
	selected  int
	executed  int
	alerts    int
	skips     int
	blocked   int
	exits     int
	failed    bool
	failCause string
}

func (s *Scheduler) runCycle(ctx context.Context) {
	now := s.now()
	res := &cycleResult{}

	// Daily reset fires exactly once, on the first cycle of a new
	// venue-local date.
	date := s.d.Session.TradingDate(now)
	if s.cs.TradingDate != date {
		logger.Infof("scheduler: new trading date %s, resetting daily counters", date)
		s.cs.ResetDaily(date)
	}

	s.d.Market.BeginCycle()

	fetch := s.fetchAll(ctx)
	if fetch.fatalErr != nil {
		logger.Errorf("scheduler: cycle aborted, %v", fetch.fatalErr)
		s.failCycle(ctx, res, fetch.fatalErr.Error())
		return
	}
	if fetch.providerErr != nil {
		// Intake degrades to zero candidates; monitoring continues below.
		logger.Warnf("scheduler: signal fetch failed: %v", fetch.providerErr)
		res.failed = true
		res.failCause = fetch.providerErr.Error()
	}
	res.signals = len(fetch.signals)

	// Derived risk state is recomputed every cycle from live data.
	s.d.Risk.RefreshGreeks(ctx, fetch.positions, s.d.Broker.LastPrice, now)
	riskState := s.d.Risk.Assess(fetch.positions, fetch.account)
	logger.Infof("scheduler: risk score=%d level=%s capacity=%.2f positions=%d",
		riskState.RiskScore, riskState.RiskLevel, riskState.RiskCapacity, riskState.PositionCount)

	// Exits run before entries and regardless of breaker state; reducing
	// risk is never suppressed.
	s.runExits(ctx, fetch.positions, fetch.mctx, riskState, res)

	s.runEntries(ctx, fetch, riskState, res, now)

	if res.failed {
		s.d.Breaker.RecordFailure()
	} else {
		s.d.Breaker.RecordSuccess()
	}
	s.persist(ctx)
	s.summarize(res, riskState)
}

type fetchResult struct {
	mctx        types.MarketContext
	account     types.AccountSnapshot
	positions   []types.Position
	signals     []types.FlowSignal
	maxTS       time.Time
	providerErr error
	fatalErr    error
}

// fetchAll gathers the cycle's inputs concurrently, each with its own
// timeout, and joins before any decision logic runs.
func (s *Scheduler) fetchAll(ctx context.Context) *fetchResult {
	fetchTimeout := time.Duration(s.d.Cfg.FetchTimeoutSeconds) * time.Second
	out := &fetchResult{}
	var mctxErr, accountErr, positionsErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, cancel := context.WithTimeout(gctx, fetchTimeout)
		defer cancel()
		out.mctx, mctxErr = s.d.Market.Context(c)
		return nil
	})
	g.Go(func() error {
		c, cancel := context.WithTimeout(gctx, fetchTimeout)
		defer cancel()
		out.account, accountErr = s.d.Broker.Account(c)
		return nil
	})
	g.Go(func() error {
		c, cancel := context.WithTimeout(gctx, fetchTimeout)
		defer cancel()
		out.positions, positionsErr = s.d.Store.OpenPositions(c)
		return nil
	})
	g.Go(func() error {
		c, cancel := context.WithTimeout(gctx, fetchTimeout)
		defer cancel()
		out.signals, out.maxTS, out.providerErr = s.d.Flow.FetchNewerThan(c, s.cs.LastWatermark)
		return nil
	})
	g.Wait()

	// Without the account or open positions there is nothing safe to decide.
	if accountErr != nil {
		out.fatalErr = fmt.Errorf("account fetch failed: %w", accountErr)
		return out
	}
	if positionsErr != nil {
		out.fatalErr = fmt.Errorf("positions load failed: %w", positionsErr)
		return out
	}
	if mctxErr != nil {
		// Decisions degrade to an unknown trend rather than abort.
		logger.Warnf("scheduler: market context failed, trend unknown: %v", mctxErr)
		out.mctx = types.MarketContext{Trend: types.TrendUnknown, AsOf: s.now()}
	}
	return out
}

func (s *Scheduler) runExits(ctx context.Context, positions []types.Position, mctx types.MarketContext, riskState types.PortfolioRiskState, res *cycleResult) {
	if len(positions) == 0 {
		return
	}
	reviews, err := s.d.Oracle.ReviewPositions(ctx, positions, mctx, riskState)
	if err != nil {
		// Hard rules do not need the oracle; soft rules see no review.
		logger.Warnf("scheduler: position review failed: %v", err)
		res.failed = true
		res.failCause = err.Error()
	}

	trendOf := func(symbol string) types.TrendLabel {
		return s.d.Market.TrendFor(ctx, symbol)
	}
	planned := s.d.Monitor.Plan(positions, reviews, trendOf, exitrules.EvalInput{Now: s.now()})

	for _, pe := range planned {
		if err := s.executeExit(ctx, pe); err != nil {
			logger.Errorf("scheduler: exit for %s failed: %v", pe.Position.ContractSymbol, err)
			s.notify(fmt.Sprintf("⚠️ exit failed for %s (%s): %v", pe.Position.ContractSymbol, pe.Signal.RuleID, err))
			var ambiguous *exec.AmbiguousFillError
			if errors.As(err, &ambiguous) {
				res.failed = true
				res.failCause = err.Error()
			}
			continue
		}
		res.exits++
	}
}

func (s *Scheduler) executeExit(ctx context.Context, pe exitrules.PlannedExit) error {
	p := pe.Position
	sig := pe.Signal
	switch sig.Action {
	case exitrules.ActionClose:
		fill, err := s.d.Exec.ExecuteClose(ctx, p, p.Quantity, sig.Reason)
		if err != nil {
			return err
		}
		p.Status = types.PositionClosed
		p.ExitPrice = fill.AvgPrice
		p.ExitReason = fmt.Sprintf("%s: %s", sig.RuleID, sig.Reason)
		p.ClosedAt = s.now()
		p.Quantity = 0
		if err := s.d.Store.UpdatePosition(ctx, p); err != nil {
			return err
		}
		s.notify(fmt.Sprintf("🔴 closed %s at %.2f (%s)", p.ContractSymbol, fill.AvgPrice, sig.Reason))
	case exitrules.ActionTrim:
		qty := sig.Quantity
		if qty < 1 || qty >= p.Quantity {
			qty = p.Quantity / 2
		}
		if qty < 1 {
			return nil
		}
		fill, err := s.d.Exec.ExecuteClose(ctx, p, qty, sig.Reason)
		if err != nil {
			return err
		}
		p.Quantity -= fill.Quantity
		p.MarketValue = p.CurrentPrice * float64(p.Quantity) * exec.ContractMultiplier
		if err := s.d.Store.UpdatePosition(ctx, p); err != nil {
			return err
		}
		s.notify(fmt.Sprintf("🟠 trimmed %d x %s at %.2f (%s)", fill.Quantity, p.ContractSymbol, fill.AvgPrice, sig.Reason))
	case exitrules.ActionRoll:
		newPos, closeFill, err := s.d.Exec.ExecuteRoll(ctx, p, s.d.ExitCfg.RollDays, sig.Reason)
		if err != nil {
			// The close leg may have succeeded; reconcile the old position
			// before surfacing the error.
			if closeFill.Quantity > 0 {
				p.Status = types.PositionClosed
				p.ExitPrice = closeFill.AvgPrice
				p.ExitReason = fmt.Sprintf("%s: roll close leg", sig.RuleID)
				p.ClosedAt = s.now()
				if uerr := s.d.Store.UpdatePosition(ctx, p); uerr != nil {
					logger.Errorf("scheduler: recording roll close leg failed: %v", uerr)
				}
			}
			return err
		}
		p.Status = types.PositionClosed
		p.ExitPrice = closeFill.AvgPrice
		p.ExitReason = fmt.Sprintf("%s: rolled to %s", sig.RuleID, newPos.ContractSymbol)
		p.ClosedAt = s.now()
		if err := s.d.Store.UpdatePosition(ctx, p); err != nil {
			return err
		}
		if err := s.d.Store.SavePosition(ctx, newPos); err != nil {
			return err
		}
		s.notify(fmt.Sprintf("🔄 rolled %s -> %s (%s)", p.ContractSymbol, newPos.ContractSymbol, sig.Reason))
	}
	return nil
}

func (s *Scheduler) runEntries(ctx context.Context, fetch *fetchResult, riskState types.PortfolioRiskState, res *cycleResult, now time.Time) {
	trendOf := func(symbol string) types.TrendLabel {
		return s.d.Market.TrendFor(ctx, symbol)
	}
	candidates, stats := s.d.Filter.Select(fetch.signals, s.cs.Seen, trendOf, now)
	s.cs.AdvanceWatermark(fetch.maxTS)
	res.selected = stats.Selected
	if len(candidates) == 0 {
		return
	}

	// The breaker gates executions only; candidates still get evaluated and
	// recorded so blocked cycles stay observable.
	breakerOpen := !s.d.Breaker.Allow()

	recs, err := s.d.Oracle.Evaluate(ctx, oracle.Batch{
		Market:     fetch.mctx,
		Risk:       riskState,
		Candidates: candidates,
	})
	if err != nil {
		logger.Errorf("scheduler: oracle batch failed: %v", err)
		res.failed = true
		res.failCause = err.Error()
		recs = make([]oracle.Recommendation, len(candidates))
		for i, c := range candidates {
			recs[i] = oracle.Recommendation{
				SignalID: c.ID,
				Err:      &oracle.OracleError{SignalID: c.ID, Reason: "batch evaluation failed", Err: err},
			}
		}
	}

	snap := gate.Snapshot{
		Market:          fetch.mctx,
		Risk:            riskState,
		Account:         fetch.account,
		OpenPositions:   fetch.positions,
		ExecutionsToday: s.cs.ExecutionsToday,
		EarningsDates:   s.earningsDates(ctx, candidates),
		BreakerOpen:     breakerOpen,
		Now:             now,
	}

	fills := 0
	for i, sig := range candidates {
		rec := recs[i]
		estValue := s.estimateValue(sig, rec.Conviction, fetch.account, riskState)
		decision := s.d.Gate.Evaluate(sig, rec, snap, estValue)
		s.recordDecision(ctx, decision)

		switch decision.Action {
		case gate.ActionExecute:
			if fills >= s.d.ExecCfg.MaxFillsPerCycle {
				logger.Infof("scheduler: fill cap %d reached, deferring %s", s.d.ExecCfg.MaxFillsPerCycle, sig.ID)
				res.skips++
				continue
			}
			pos, err := s.d.Exec.ExecuteEntry(ctx, decision, fetch.account, riskState, trendOf(sig.Symbol))
			if err != nil {
				logger.Errorf("scheduler: entry for %s failed: %v", sig.Symbol, err)
				s.notify(fmt.Sprintf("⚠️ entry failed for %s: %v", sig.Symbol, err))
				var ambiguous *exec.AmbiguousFillError
				if errors.As(err, &ambiguous) {
					res.failed = true
					res.failCause = err.Error()
				}
				continue
			}
			if err := s.d.Store.SavePosition(ctx, pos); err != nil {
				logger.Errorf("scheduler: persisting position %s failed: %v", pos.ContractSymbol, err)
			}
			s.cs.ExecutionsToday++
			snap.ExecutionsToday = s.cs.ExecutionsToday
			snap.OpenPositions = append(snap.OpenPositions, pos)
			fills++
			res.executed++
			s.notify(fmt.Sprintf("🟢 opened %d x %s at %.2f (conviction %d, score %d)\n%s",
				pos.Quantity, pos.ContractSymbol, pos.EntryPrice, decision.Conviction, sig.Score, decision.Thesis))
		case gate.ActionAlert:
			res.alerts++
			s.notify(fmt.Sprintf("🟡 ALERT %s %s %.2f %s: %s",
				sig.Symbol, sig.OptionType, sig.Strike, sig.Expiration, strings.Join(decision.Reasons, "; ")))
		case gate.ActionBlocked:
			res.blocked++
		default:
			res.skips++
		}
	}
}

// estimateValue projects entry cost from the print itself; the executor
// re-sizes against the live quote before any order is placed.
func (s *Scheduler) estimateValue(sig types.FlowSignal, conviction int, account types.AccountSnapshot, riskState types.PortfolioRiskState) float64 {
	if conviction < 1 {
		return 0
	}
	if sig.Size <= 0 || sig.Premium <= 0 {
		return 0
	}
	estAsk := sig.Premium / (float64(sig.Size) * exec.ContractMultiplier)
	return exec.EstimateValue(s.d.ExecCfg, sig, conviction, account, riskState, estAsk)
}

func (s *Scheduler) earningsDates(ctx context.Context, candidates []types.FlowSignal) map[string]string {
	out := make(map[string]string, len(candidates))
	for _, sig := range candidates {
		if _, ok := out[sig.Symbol]; ok {
			continue
		}
		date, err := s.d.Broker.NextEarningsDate(ctx, sig.Symbol)
		if err != nil {
			logger.Debugf("scheduler: earnings lookup for %s failed: %v", sig.Symbol, err)
			continue
		}
		out[sig.Symbol] = date
	}
	return out
}

func (s *Scheduler) recordDecision(ctx context.Context, d gate.Decision) {
	rec := state.DecisionRecord{
		SessionID:  s.cs.SessionID,
		SignalID:   d.Signal.ID,
		Symbol:     d.Signal.Symbol,
		State:      string(d.State),
		Action:     string(d.Action),
		Conviction: d.Conviction,
		Thesis:     d.Thesis,
		Score:      d.Signal.Score,
		Breakdown:  d.Signal.ScoreBreakdown,
		Checks:     d.Checks,
		Reasons:    d.Reasons,
	}
	if err := s.d.Store.RecordDecision(ctx, rec); err != nil {
		logger.Errorf("scheduler: recording decision for %s failed: %v", d.Signal.ID, err)
	}
}

// failCycle records the failure and still persists state so the watermark
// and breaker survive the abort.
func (s *Scheduler) failCycle(ctx context.Context, res *cycleResult, cause string) {
	res.failed = true
	res.failCause = cause
	s.d.Breaker.RecordFailure()
	s.persist(ctx)
}

func (s *Scheduler) persist(ctx context.Context) {
	s.cs.Breaker = s.d.Breaker.Snapshot()
	if err := s.d.Store.SaveCycleState(ctx, s.cs); err != nil {
		logger.Errorf("scheduler: persisting cycle state failed: %v", err)
	}
}

func (s *Scheduler) summarize(res *cycleResult, riskState types.PortfolioRiskState) {
	var b strings.Builder
	fmt.Fprintf(&b, "cycle summary: signals=%d selected=%d executed=%d alerts=%d exits=%d blocked=%d skips=%d\n",
		res.signals, res.selected, res.executed, res.alerts, res.exits, res.blocked, res.skips)
	fmt.Fprintf(&b, "risk=%d (%s) capacity=%.2f executions_today=%d breaker=%s",
		riskState.RiskScore, riskState.RiskLevel, riskState.RiskCapacity,
		s.cs.ExecutionsToday, s.d.Breaker.State())
	if res.failed {
		fmt.Fprintf(&b, "\nfailure: %s", res.failCause)
	}
	logger.InfoBlock(b.String())
	if res.executed > 0 || res.exits > 0 || res.failed {
		s.notify(b.String())
	}
}

func (s *Scheduler) notify(text string) {
	if err := s.d.Notify.SendText(text); err != nil {
		logger.Warnf("scheduler: notification failed: %v", err)
	}
}
