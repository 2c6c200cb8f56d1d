package config

import (
	"fmt"
	"strings"
	"time"
)

func validate(c *Config) error {
	if err := c.Provider.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Oracle.validate(); err != nil {
		return err
	}
	if err := c.Flow.validate(); err != nil {
		return err
	}
	if err := c.Gate.validate(); err != nil {
		return err
	}
	if err := c.Execution.validate(); err != nil {
		return err
	}
	if err := c.Exits.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Notify.validate(); err != nil {
		return err
	}
	return nil
}

func (p *ProviderConfig) validate() error {
	if strings.TrimSpace(p.BaseURL) == "" {
		return fmt.Errorf("provider.base_url cannot be empty")
	}
	if strings.TrimSpace(p.APIKey) == "" {
		return fmt.Errorf("provider.api_key cannot be empty")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	if strings.TrimSpace(b.BaseURL) == "" {
		return fmt.Errorf("broker.base_url cannot be empty")
	}
	if strings.TrimSpace(b.APIKey) == "" {
		return fmt.Errorf("broker.api_key cannot be empty")
	}
	if strings.TrimSpace(b.APISecret) == "" {
		return fmt.Errorf("broker.api_secret cannot be empty")
	}
	return nil
}

func (o *OracleConfig) validate() error {
	if strings.TrimSpace(o.APIURL) == "" {
		return fmt.Errorf("oracle.api_url cannot be empty")
	}
	if strings.TrimSpace(o.APIKey) == "" {
		return fmt.Errorf("oracle.api_key cannot be empty")
	}
	if strings.TrimSpace(o.Model) == "" {
		return fmt.Errorf("oracle.model cannot be empty")
	}
	return nil
}

func (f *FlowConfig) validate() error {
	if f.MinDTE < 0 {
		return fmt.Errorf("flow.min_dte must be >= 0")
	}
	if f.MaxDTE < f.MinDTE {
		return fmt.Errorf("flow.max_dte must be >= flow.min_dte")
	}
	if f.MaxSignalsPerCycle < 1 {
		return fmt.Errorf("flow.max_signals_per_cycle must be >= 1")
	}
	if f.SeenSetCapacity < f.MaxSignalsPerCycle {
		return fmt.Errorf("flow.seen_set_capacity must hold at least one cycle of signals")
	}
	return nil
}

func (g *GateConfig) validate() error {
	if g.MaxOpenPositions < 1 {
		return fmt.Errorf("gate.max_open_positions must be >= 1")
	}
	if g.MaxExecutionsPerDay < 1 {
		return fmt.Errorf("gate.max_executions_per_day must be >= 1")
	}
	if g.MinRiskCapacity < 0 || g.MinRiskCapacity > 1 {
		return fmt.Errorf("gate.min_risk_capacity must be in [0,1]")
	}
	if g.MinConviction < 1 || g.MinConviction > 100 {
		return fmt.Errorf("gate.min_conviction must be in [1,100]")
	}
	if g.ExceptionalConviction < g.MinConviction || g.ExceptionalConviction > 100 {
		return fmt.Errorf("gate.exceptional_conviction must be in [gate.min_conviction,100]")
	}
	return nil
}

func (e *ExecutionConfig) validate() error {
	if e.MaxContractsPerTrade < 1 {
		return fmt.Errorf("execution.max_contracts_per_trade must be >= 1")
	}
	if e.LimitPriceBufferPct < 0 || e.LimitPriceBufferPct > 0.5 {
		return fmt.Errorf("execution.limit_price_buffer_pct must be in [0,0.5]")
	}
	if e.FillTimeoutSeconds < e.FillPollSeconds {
		return fmt.Errorf("execution.fill_timeout_seconds must be >= fill_poll_seconds")
	}
	return nil
}

func (x *ExitConfig) validate() error {
	if x.StopLossPct <= 0 || x.StopLossPct > 1 {
		return fmt.Errorf("exits.stop_loss_pct must be in (0,1]")
	}
	if x.ProfitTargetPct <= 0 {
		return fmt.Errorf("exits.profit_target_pct must be > 0")
	}
	if x.UrgencyDTE < x.CloseDTE {
		return fmt.Errorf("exits.urgency_dte must be >= exits.close_dte")
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if s.DeadlineSeconds >= s.IntervalSeconds {
		return fmt.Errorf("scheduler.deadline_seconds must be < interval_seconds")
	}
	if _, err := time.LoadLocation(s.VenueTimezone); err != nil {
		return fmt.Errorf("scheduler.venue_timezone invalid: %w", err)
	}
	for _, field := range []struct{ key, val string }{
		{"scheduler.session_open", s.SessionOpen},
		{"scheduler.session_close", s.SessionClose},
	} {
		if _, err := time.Parse("15:04", field.val); err != nil {
			return fmt.Errorf("%s must be HH:MM: %w", field.key, err)
		}
	}
	if s.BreakerThreshold < 1 {
		return fmt.Errorf("scheduler.breaker_threshold must be >= 1")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	if !n.Telegram.Enabled {
		return nil
	}
	if strings.TrimSpace(n.Telegram.BotToken) == "" {
		return fmt.Errorf("notify.telegram.bot_token cannot be empty when enabled")
	}
	if strings.TrimSpace(n.Telegram.ChatID) == "" {
		return fmt.Errorf("notify.telegram.chat_id cannot be empty when enabled")
	}
	return nil
}
