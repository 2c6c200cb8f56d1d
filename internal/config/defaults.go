package config

import "strings"

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppLogPath  = "logs/flowgate.log"
	defaultStatePath   = "data/flowgate.db"

	defaultProviderTimeout = 10
	defaultBrokerTimeout   = 15

	defaultOracleTimeout = 60
	defaultOracleRetries = 3

	defaultMinPremium       = 50000.0
	defaultMinDTE           = 3
	defaultMaxDTE           = 60
	defaultMinOpenInterest  = 100
	defaultMaxStrikeDist    = 0.15
	defaultMinScore         = 6
	defaultMaxSignalsCycle  = 5
	defaultSeenSetCapacity  = 2000

	defaultRiskFreeRate     = 0.05
	defaultIV               = 0.30
	defaultMaxDeltaPer100K  = 50.0
	defaultMaxGammaPer100K  = 5.0
	defaultMaxThetaDaily    = 0.01
	defaultMaxConcentration = 0.40

	defaultMaxOpenPositions  = 8
	defaultMaxExposurePct    = 0.20
	defaultMaxExecutionsDay  = 3
	defaultMinRiskCapacity   = 0.30
	defaultMinConviction     = 80
	defaultExceptionalConv   = 90
	defaultMaxSectorPct      = 0.40
	defaultMaxUnderlyingPct  = 0.25
	defaultEarningsBlackout  = 2

	defaultStrikeTolerance  = 0.05
	defaultMaxSpreadPct     = 0.10
	defaultMinBid           = 0.10
	defaultMinBidSize       = 10
	defaultMaxContracts     = 10
	defaultMaxPositionValue = 10000.0
	defaultMaxPositionPct   = 0.05
	defaultLimitBufferPct   = 0.02
	defaultFillPoll         = 3
	defaultFillTimeout      = 45
	defaultMaxFillsCycle    = 2

	defaultExitRulesPath  = "configs/exit_rules.yaml"
	defaultStopLossPct    = 0.50
	defaultProfitPct      = 0.75
	defaultCloseDTE       = 3
	defaultUrgencyDTE     = 7
	defaultTightProfitPct = 0.25
	defaultConvExitBelow  = 40
	defaultConvTrimBelow  = 60
	defaultRollDays       = 30

	defaultIntervalSeconds  = 300
	defaultDeadlineSeconds  = 240
	defaultFetchTimeout     = 20
	defaultVenueTimezone    = "America/New_York"
	defaultSessionOpen      = "09:30"
	defaultSessionClose     = "16:00"
	defaultBreakerThreshold = 3
	defaultBreakerCooldown  = 900
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Provider.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Oracle.applyDefaults(keys)
	c.Flow.applyDefaults(keys)
	c.Risk.applyDefaults(keys)
	c.Gate.applyDefaults(keys)
	c.Execution.applyDefaults(keys)
	c.Exits.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
		stringFieldDefault("app.state_path", &a.StatePath, defaultStatePath),
	)
}

func (p *ProviderConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("provider.timeout_seconds", &p.TimeoutSeconds, defaultProviderTimeout),
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("broker.timeout_seconds", &b.TimeoutSeconds, defaultBrokerTimeout),
	)
}

func (o *OracleConfig) applyDefaults(keys keySet) {
	if o == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("oracle.timeout_seconds", &o.TimeoutSeconds, defaultOracleTimeout),
		intFieldDefault("oracle.max_retries", &o.MaxRetries, defaultOracleRetries),
	)
}

func (f *FlowConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("flow.min_premium", &f.MinPremium, defaultMinPremium),
		intFieldDefault("flow.min_dte", &f.MinDTE, defaultMinDTE),
		intFieldDefault("flow.max_dte", &f.MaxDTE, defaultMaxDTE),
		intFieldDefault("flow.min_open_interest", &f.MinOpenInterest, defaultMinOpenInterest),
		floatFieldDefault("flow.max_strike_dist_pct", &f.MaxStrikeDistPct, defaultMaxStrikeDist),
		intFieldDefault("flow.min_score", &f.MinScore, defaultMinScore),
		intFieldDefault("flow.max_signals_per_cycle", &f.MaxSignalsPerCycle, defaultMaxSignalsCycle),
		intFieldDefault("flow.seen_set_capacity", &f.SeenSetCapacity, defaultSeenSetCapacity),
	)
	if len(f.ExcludedSymbols) == 0 && !keys.isSet("flow.excluded_symbols") {
		f.ExcludedSymbols = []string{"SPY", "QQQ", "IWM", "SPX", "SPXW", "NDX", "VIX", "XSP", "DIA", "RUT"}
	}
}

func (r *RiskConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("risk.risk_free_rate", &r.RiskFreeRate, defaultRiskFreeRate),
		floatFieldDefault("risk.default_iv", &r.DefaultIV, defaultIV),
		floatFieldDefault("risk.max_delta_per_100k", &r.MaxDeltaPer100K, defaultMaxDeltaPer100K),
		floatFieldDefault("risk.max_gamma_per_100k", &r.MaxGammaPer100K, defaultMaxGammaPer100K),
		floatFieldDefault("risk.max_theta_daily_pct", &r.MaxThetaDailyPct, defaultMaxThetaDaily),
		floatFieldDefault("risk.max_concentration_pct", &r.MaxConcentrationPct, defaultMaxConcentration),
	)
}

func (g *GateConfig) applyDefaults(keys keySet) {
	if g == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("gate.max_open_positions", &g.MaxOpenPositions, defaultMaxOpenPositions),
		floatFieldDefault("gate.max_options_exposure_pct", &g.MaxOptionsExposurePct, defaultMaxExposurePct),
		intFieldDefault("gate.max_executions_per_day", &g.MaxExecutionsPerDay, defaultMaxExecutionsDay),
		floatFieldDefault("gate.min_risk_capacity", &g.MinRiskCapacity, defaultMinRiskCapacity),
		intFieldDefault("gate.min_conviction", &g.MinConviction, defaultMinConviction),
		intFieldDefault("gate.exceptional_conviction", &g.ExceptionalConviction, defaultExceptionalConv),
		floatFieldDefault("gate.max_sector_pct", &g.MaxSectorPct, defaultMaxSectorPct),
		floatFieldDefault("gate.max_underlying_pct", &g.MaxUnderlyingPct, defaultMaxUnderlyingPct),
		intFieldDefault("gate.earnings_blackout_days", &g.EarningsBlackoutDays, defaultEarningsBlackout),
	)
}

func (e *ExecutionConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		floatFieldDefault("execution.strike_tolerance_pct", &e.StrikeTolerancePct, defaultStrikeTolerance),
		floatFieldDefault("execution.max_spread_pct", &e.MaxSpreadPct, defaultMaxSpreadPct),
		floatFieldDefault("execution.min_bid", &e.MinBid, defaultMinBid),
		intFieldDefault("execution.min_bid_size", &e.MinBidSize, defaultMinBidSize),
		intFieldDefault("execution.max_contracts_per_trade", &e.MaxContractsPerTrade, defaultMaxContracts),
		floatFieldDefault("execution.max_position_value", &e.MaxPositionValue, defaultMaxPositionValue),
		floatFieldDefault("execution.max_position_pct", &e.MaxPositionPct, defaultMaxPositionPct),
		floatFieldDefault("execution.limit_price_buffer_pct", &e.LimitPriceBufferPct, defaultLimitBufferPct),
		intFieldDefault("execution.fill_poll_seconds", &e.FillPollSeconds, defaultFillPoll),
		intFieldDefault("execution.fill_timeout_seconds", &e.FillTimeoutSeconds, defaultFillTimeout),
		intFieldDefault("execution.max_fills_per_cycle", &e.MaxFillsPerCycle, defaultMaxFillsCycle),
	)
}

func (x *ExitConfig) applyDefaults(keys keySet) {
	if x == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("exits.rules_path", &x.RulesPath, defaultExitRulesPath),
		floatFieldDefault("exits.stop_loss_pct", &x.StopLossPct, defaultStopLossPct),
		floatFieldDefault("exits.profit_target_pct", &x.ProfitTargetPct, defaultProfitPct),
		intFieldDefault("exits.close_dte", &x.CloseDTE, defaultCloseDTE),
		intFieldDefault("exits.urgency_dte", &x.UrgencyDTE, defaultUrgencyDTE),
		floatFieldDefault("exits.tight_profit_pct", &x.TightProfitPct, defaultTightProfitPct),
		intFieldDefault("exits.conviction_exit_below", &x.ConvictionExitBelow, defaultConvExitBelow),
		intFieldDefault("exits.conviction_trim_below", &x.ConvictionTrimBelow, defaultConvTrimBelow),
		intFieldDefault("exits.roll_days", &x.RollDays, defaultRollDays),
	)
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		intFieldDefault("scheduler.interval_seconds", &s.IntervalSeconds, defaultIntervalSeconds),
		intFieldDefault("scheduler.deadline_seconds", &s.DeadlineSeconds, defaultDeadlineSeconds),
		intFieldDefault("scheduler.fetch_timeout_seconds", &s.FetchTimeoutSeconds, defaultFetchTimeout),
		stringFieldDefault("scheduler.venue_timezone", &s.VenueTimezone, defaultVenueTimezone),
		stringFieldDefault("scheduler.session_open", &s.SessionOpen, defaultSessionOpen),
		stringFieldDefault("scheduler.session_close", &s.SessionClose, defaultSessionClose),
		intFieldDefault("scheduler.breaker_threshold", &s.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("scheduler.breaker_cooldown_seconds", &s.BreakerCooldownSecs, defaultBreakerCooldown),
	)
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return target != nil && *target <= 0 },
		apply: func() { *target = def },
	}
}
