package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flowgate/internal/broker"
	"flowgate/internal/config"
	"flowgate/internal/exec"
	"flowgate/internal/exitrules"
	"flowgate/internal/flow"
	"flowgate/internal/gate"
	"flowgate/internal/market"
	"flowgate/internal/oracle"
	"flowgate/internal/pkg/circuit"
	"flowgate/internal/risk"
	"flowgate/internal/state"
	"flowgate/internal/types"
)

var cycleNow = time.Date(2025, 6, 2, 14, 30, 0, 0, time.UTC)

// cycleBroker scripts the brokerage surface a full cycle touches. Orders
// placed through it fill at the limit on the first status poll.
type cycleBroker struct {
	broker.Broker

	equity    float64
	contracts []broker.OptionContract
	quote     broker.Quote
	placed    []broker.Order
	spot      float64
	closes    []float64
	earnings  map[string]string
}

func (f *cycleBroker) Account(context.Context) (types.AccountSnapshot, error) {
	return types.AccountSnapshot{Equity: f.equity, Cash: f.equity, BuyingPower: f.equity}, nil
}

func (f *cycleBroker) SearchContracts(context.Context, string, types.OptionType, string, string) ([]broker.OptionContract, error) {
	return f.contracts, nil
}

func (f *cycleBroker) ContractQuote(context.Context, string) (broker.Quote, error) {
	return f.quote, nil
}

func (f *cycleBroker) PlaceLimitOrder(_ context.Context, symbol string, side broker.OrderSide, qty int, limit float64, clientOrderID string) (broker.Order, error) {
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
	return o, nil
}

func (f *cycleBroker) CancelOrder(context.Context, string) error { return nil }

func (f *cycleBroker) OrderByID(_ context.Context, id string) (broker.Order, error) {
	for _, p := range f.placed {
		if p.ID == id {
			p.Status = broker.OrderFilled
			p.FilledQty = p.Quantity
			p.FilledAvgPrice = p.LimitPrice
			return p, nil
		}
	}
	return broker.Order{}, errors.New("order not found")
}

func (f *cycleBroker) OrderByClientID(_ context.Context, clientOrderID string) (broker.Order, error) {
	for _, p := range f.placed {
		if p.ClientOrderID == clientOrderID {
			return p, nil
		}
	}
	return broker.Order{}, errors.New("order not found")
}

func (f *cycleBroker) DailyCloses(context.Context, string, int) ([]float64, error) {
	return f.closes, nil
}

func (f *cycleBroker) LastPrice(context.Context, string) (float64, error) {
	return f.spot, nil
}

func (f *cycleBroker) NextEarningsDate(_ context.Context, symbol string) (string, error) {
	return f.earnings[symbol], nil
}

func (f *cycleBroker) orders(side broker.OrderSide) []broker.Order {
	var out []broker.Order
	for _, o := range f.placed {
		if o.Side == side {
			out = append(out, o)
		}
	}
	return out
}

func entryCycleBroker() *cycleBroker {
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 580
	}
	return &cycleBroker{
		equity: 100_000,
		contracts: []broker.OptionContract{{
			Symbol:     "NVDA250718C00130000",
			Underlying: "NVDA",
			OptionType: types.Call,
			Strike:     130,
			Expiration: "2025-07-18",
		}},
		quote:  broker.Quote{Bid: 2.00, Ask: 2.10, BidSize: 20, AskSize: 20},
		spot:   128,
		closes: closes,
	}
}

// cycleOracle answers every candidate with a fixed conviction and scripted
// position reviews.
type cycleOracle struct {
	conviction int
	evalErr    error
	reviews    []oracle.PositionReview
	reviewErr  error
}

func (o *cycleOracle) Evaluate(_ context.Context, batch oracle.Batch) ([]oracle.Recommendation, error) {
	if o.evalErr != nil {
		return nil, o.evalErr
	}
	recs := make([]oracle.Recommendation, len(batch.Candidates))
	for i, c := range batch.Candidates {
		recs[i] = oracle.Recommendation{SignalID: c.ID, Conviction: o.conviction, Thesis: "flow continuation"}
	}
	return recs, nil
}

func (o *cycleOracle) ReviewPositions(context.Context, []types.Position, types.MarketContext, types.PortfolioRiskState) ([]oracle.PositionReview, error) {
	if o.reviewErr != nil {
		return nil, o.reviewErr
	}
	return o.reviews, nil
}

func cycleAlert(id, ticker, hasFloor string) string {
	return `{
		"id": "` + id + `",
		"ticker": "` + ticker + `",
		"type": "call",
		"strike": "130",
		"expiry": "2025-07-18",
		"total_premium": "150000",
		"total_size": 500,
		"volume": 10000,
		"open_interest": 5000,
		"volume_oi_ratio": "2.0",
		"iv_rank": "35",
		"has_sweep": true,
		"has_floor": ` + hasFloor + `,
		"ask_side_pct": "0.9",
		"opening_pct": "0.8",
		"underlying_price": "128",
		"executed_at": ` + strconv.FormatInt(cycleNow.UnixMilli(), 10) + `
	}`
}

// newCycleScheduler wires a Scheduler from real engines, the scripted broker
// and oracle, a temp sqlite store, and an httptest flow feed.
func newCycleScheduler(t *testing.T, fb *cycleBroker, orc *cycleOracle, flowBody string, flowStatus int) (*Scheduler, *state.Store, *state.CycleState, *circuit.Breaker) {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if flowStatus != 0 {
			http.Error(w, "upstream down", flowStatus)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(flowBody))
	}))
	t.Cleanup(srv.Close)

	store, err := state.NewStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rulesPath := filepath.Join(t.TempDir(), "exit_rules.yaml")
	require.NoError(t, os.WriteFile(rulesPath, []byte("rules: {}\n"), 0o644))
	registry, err := exitrules.NewRegistry(rulesPath)
	require.NoError(t, err)

	session, err := NewSession("UTC", "09:30", "16:00")
	require.NoError(t, err)

	breaker := circuit.NewBreaker("cycle", 3, time.Hour)
	cs := state.NewCycleState("sess-test", 100)
	cs.TradingDate = session.TradingDate(cycleNow)

	flowCfg := config.FlowConfig{
		MinPremium:         50_000,
		MinDTE:             3,
		MaxDTE:             60,
		MinOpenInterest:    100,
		MaxStrikeDistPct:   0.15,
		MinScore:           6,
		MaxSignalsPerCycle: 5,
	}
	riskCfg := config.RiskConfig{
		RiskFreeRate:        0.05,
		DefaultIV:           0.30,
		MaxDeltaPer100K:     50,
		MaxGammaPer100K:     5,
		MaxThetaDailyPct:    0.01,
		MaxConcentrationPct: 0.40,
	}
	gateCfg := config.GateConfig{
		MaxOpenPositions:      5,
		MaxOptionsExposurePct: 0.30,
		MaxExecutionsPerDay:   3,
		MinRiskCapacity:       0.30,
		MinConviction:         80,
		ExceptionalConviction: 90,
		MaxSectorPct:          0.40,
		MaxUnderlyingPct:      0.25,
		EarningsBlackoutDays:  2,
	}
	execCfg := config.ExecutionConfig{
		StrikeTolerancePct:   0.05,
		MaxSpreadPct:         0.10,
		MinBid:               0.10,
		MinBidSize:           5,
		MaxContractsPerTrade: 10,
		MaxPositionValue:     10_000,
		MaxPositionPct:       0.05,
		LimitPriceBufferPct:  0.02,
		FillPollSeconds:      0,
		FillTimeoutSeconds:   30,
		MaxFillsPerCycle:     1,
	}
	exitCfg := config.ExitConfig{RulesPath: rulesPath, RollDays: 30}

	s := New(Deps{
		Cfg: config.SchedulerConfig{
			IntervalSeconds:     300,
			DeadlineSeconds:     240,
			FetchTimeoutSeconds: 5,
			BreakerThreshold:    3,
		},
		ExecCfg: execCfg,
		ExitCfg: exitCfg,
		Session: session,
		Flow:    flow.NewClient(srv.URL, "test-key", 5*time.Second),
		Filter:  flow.NewFilter(flowCfg),
		Market:  market.NewService(fb),
		Risk:    risk.NewEngine(riskCfg),
		Gate:    gate.New(gateCfg),
		Oracle:  orc,
		Exec:    exec.NewExecutor(execCfg, riskCfg, fb),
		Monitor: exitrules.NewMonitor(registry),
		Broker:  fb,
		Store:   store,
		Breaker: breaker,
		State:   cs,
	})
	s.now = func() time.Time { return cycleNow }
	return s, store, cs, breaker
}

func TestRunCycleDailyResetFiresOncePerDate(t *testing.T) {
	fb := entryCycleBroker()
	s, _, cs, _ := newCycleScheduler(t, fb, &cycleOracle{conviction: 85}, `{"data":[]}`, 0)

	watermark := cycleNow.Add(-time.Hour)
	cs.TradingDate = "2025-05-30"
	cs.ExecutionsToday = 3
	cs.LastWatermark = watermark
	cs.Seen.Add("stale-signal")

	s.runCycle(context.Background())

	// The date advanced, so counters and the seen set reset; the watermark
	// survives so already-processed alerts never replay.
	assert.Equal(t, "2025-06-02", cs.TradingDate)
	assert.Equal(t, 0, cs.ExecutionsToday)
	assert.False(t, cs.Seen.Contains("stale-signal"))
	assert.False(t, cs.LastWatermark.Before(watermark))

	// A second cycle on the same date leaves the counters alone.
	cs.ExecutionsToday = 2
	s.runCycle(context.Background())
	assert.Equal(t, "2025-06-02", cs.TradingDate)
	assert.Equal(t, 2, cs.ExecutionsToday)
}

func TestRunCycleOpenBreakerSuppressesEntriesNotExits(t *testing.T) {
	fb := entryCycleBroker()
	orc := &cycleOracle{conviction: 85}
	s, store, _, breaker := newCycleScheduler(t, fb, orc, `{"data":[`+cycleAlert("sig-1", "nvda", "false")+`]}`, 0)

	// A holding past its stop loss must exit even while the breaker is open.
	require.NoError(t, store.SavePosition(context.Background(), types.Position{
		ContractSymbol:  "NVDA250718C00130000",
		Underlying:      "NVDA",
		OptionType:      types.Call,
		Strike:          130,
		Expiration:      "2025-07-18",
		Quantity:        4,
		EntryPrice:      2.00,
		CurrentPrice:    0.90,
		EntryConviction: 80,
		Status:          types.PositionOpen,
		OpenedAt:        cycleNow.Add(-48 * time.Hour),
	}))
	for i := 0; i < 3; i++ {
		breaker.RecordFailure()
	}
	require.False(t, breaker.Allow())

	s.runCycle(context.Background())

	// One sell for the stop loss, no buys for the candidate.
	assert.Len(t, fb.orders(broker.Sell), 1)
	assert.Empty(t, fb.orders(broker.Buy))

	open, err := store.OpenPositions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestRunCycleRecordsOneBreakerFailure(t *testing.T) {
	fb := entryCycleBroker()
	// Both the provider fetch and the position review fail this cycle; the
	// breaker still counts a single cycle-level failure.
	orc := &cycleOracle{conviction: 85, reviewErr: errors.New("model down")}
	s, store, _, breaker := newCycleScheduler(t, fb, orc, "", http.StatusBadGateway)

	require.NoError(t, store.SavePosition(context.Background(), types.Position{
		ContractSymbol:  "NVDA250718C00130000",
		Underlying:      "NVDA",
		OptionType:      types.Call,
		Strike:          130,
		Expiration:      "2025-07-18",
		Quantity:        4,
		EntryPrice:      2.00,
		CurrentPrice:    2.10,
		EntryConviction: 80,
		Status:          types.PositionOpen,
		OpenedAt:        cycleNow.Add(-48 * time.Hour),
	}))

	s.runCycle(context.Background())

	snap := breaker.Snapshot()
	assert.Equal(t, 1, snap.Failures)
	assert.Equal(t, "CLOSED", snap.State)
}

func TestRunCycleFillCapDefersExtraEntries(t *testing.T) {
	fb := entryCycleBroker()
	orc := &cycleOracle{conviction: 85}
	// Both candidates clear the gate; the floor flag ranks NVDA first. The
	// per-cycle fill cap of one defers AMD to a later cycle.
	body := `{"data":[` + cycleAlert("sig-1", "nvda", "true") + `,` + cycleAlert("sig-2", "amd", "false") + `]}`
	s, store, cs, _ := newCycleScheduler(t, fb, orc, body, 0)

	s.runCycle(context.Background())

	buys := fb.orders(broker.Buy)
	require.Len(t, buys, 1)
	assert.Equal(t, "NVDA250718C00130000", buys[0].ContractSymbol)
	assert.Equal(t, 1, cs.ExecutionsToday)

	open, err := store.OpenPositions(context.Background())
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "NVDA250718C00130000", open[0].ContractSymbol)

	// Both signals were consumed either way; neither resurfaces next cycle.
	assert.False(t, cs.Seen.Add("sig-1"))
	assert.False(t, cs.Seen.Add("sig-2"))
}
