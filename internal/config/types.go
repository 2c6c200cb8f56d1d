package config

// Config is the top-level configuration carrier for the flowgate service.
type Config struct {
	App       AppConfig       `toml:"app"`
	Provider  ProviderConfig  `toml:"provider"`
	Broker    BrokerConfig    `toml:"broker"`
	Oracle    OracleConfig    `toml:"oracle"`
	Flow      FlowConfig      `toml:"flow"`
	Risk      RiskConfig      `toml:"risk"`
	Gate      GateConfig      `toml:"gate"`
	Execution ExecutionConfig `toml:"execution"`
	Exits     ExitConfig      `toml:"exits"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Notify    NotifyConfig    `toml:"notify"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogPath   string `toml:"log_path"`
	StatePath string `toml:"state_path"` // sqlite file for cycle state + audit log
}

// ProviderConfig points at the options-flow alert feed.
type ProviderConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// BrokerConfig points at the brokerage execution/data API.
type BrokerConfig struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	APISecret      string `toml:"api_secret"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// OracleConfig describes the conviction-scoring model endpoint
// (OpenAI-compatible chat completions).
type OracleConfig struct {
	APIURL         string `toml:"api_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	MaxRetries     int    `toml:"max_retries"`
}

// FlowConfig controls signal intake and the pre-filter.
type FlowConfig struct {
	MinPremium         float64  `toml:"min_premium"`
	ExcludedSymbols    []string `toml:"excluded_symbols"` // index/ETF names
	MinDTE             int      `toml:"min_dte"`
	MaxDTE             int      `toml:"max_dte"`
	MinOpenInterest    int      `toml:"min_open_interest"`
	MaxStrikeDistPct   float64  `toml:"max_strike_dist_pct"` // strike vs spot, 0.15 = 15%
	MinScore           int      `toml:"min_score"`
	MaxSignalsPerCycle int      `toml:"max_signals_per_cycle"`
	SeenSetCapacity    int      `toml:"seen_set_capacity"`
}

// RiskConfig parameterizes the portfolio risk engine.
type RiskConfig struct {
	RiskFreeRate         float64 `toml:"risk_free_rate"`
	DefaultIV            float64 `toml:"default_iv"`
	MaxDeltaPer100K      float64 `toml:"max_delta_per_100k"`
	MaxGammaPer100K      float64 `toml:"max_gamma_per_100k"`
	MaxThetaDailyPct     float64 `toml:"max_theta_daily_pct"`
	MaxConcentrationPct  float64 `toml:"max_concentration_pct"` // single sector/underlying share of options value
}

// GateConfig holds the hard admission-control limits.
type GateConfig struct {
	MaxOpenPositions       int     `toml:"max_open_positions"`
	MaxOptionsExposurePct  float64 `toml:"max_options_exposure_pct"` // of equity
	MaxExecutionsPerDay    int     `toml:"max_executions_per_day"`
	MinRiskCapacity        float64 `toml:"min_risk_capacity"`
	MinConviction          int     `toml:"min_conviction"`
	ExceptionalConviction  int     `toml:"exceptional_conviction"`
	MaxSectorPct           float64 `toml:"max_sector_pct"`     // projected post-fill
	MaxUnderlyingPct       float64 `toml:"max_underlying_pct"` // projected post-fill
	EarningsBlackoutDays   int     `toml:"earnings_blackout_days"`
}

// ExecutionConfig controls contract resolution, liquidity and sizing.
type ExecutionConfig struct {
	StrikeTolerancePct  float64 `toml:"strike_tolerance_pct"`
	MaxSpreadPct        float64 `toml:"max_spread_pct"`
	MinBid              float64 `toml:"min_bid"`
	MinBidSize          int     `toml:"min_bid_size"`
	MaxContractsPerTrade int    `toml:"max_contracts_per_trade"`
	MaxPositionValue    float64 `toml:"max_position_value"`
	MaxPositionPct      float64 `toml:"max_position_pct"` // of equity
	LimitPriceBufferPct float64 `toml:"limit_price_buffer_pct"`
	FillPollSeconds     int     `toml:"fill_poll_seconds"`
	FillTimeoutSeconds  int     `toml:"fill_timeout_seconds"`
	MaxFillsPerCycle    int     `toml:"max_fills_per_cycle"`
}

// ExitConfig holds the thresholds the exit rules read.
type ExitConfig struct {
	RulesPath           string  `toml:"rules_path"`
	StopLossPct         float64 `toml:"stop_loss_pct"`      // 0.5 = -50%
	ProfitTargetPct     float64 `toml:"profit_target_pct"`  // 0.75 = +75%
	CloseDTE            int     `toml:"close_dte"`
	UrgencyDTE          int     `toml:"urgency_dte"`
	TightProfitPct      float64 `toml:"tight_profit_pct"`
	ConvictionExitBelow int     `toml:"conviction_exit_below"`
	ConvictionTrimBelow int     `toml:"conviction_trim_below"`
	RollDays            int     `toml:"roll_days"`
}

// SchedulerConfig times the cycle loop against the venue session.
type SchedulerConfig struct {
	IntervalSeconds     int    `toml:"interval_seconds"`
	DeadlineSeconds     int    `toml:"deadline_seconds"`
	FetchTimeoutSeconds int    `toml:"fetch_timeout_seconds"`
	VenueTimezone       string `toml:"venue_timezone"`
	SessionOpen         string `toml:"session_open"`  // "09:30"
	SessionClose        string `toml:"session_close"` // "16:00"
	BreakerThreshold    int    `toml:"breaker_threshold"`
	BreakerCooldownSecs int    `toml:"breaker_cooldown_seconds"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}
