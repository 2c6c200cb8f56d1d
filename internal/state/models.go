package state

import "time"

// cycleStateModel maps to the single-row 'cycle_state' table. The row is
// replaced wholesale inside one transaction; a torn write is never visible.
type cycleStateModel struct {
	ID              int64     `gorm:"column:id;primaryKey"`
	SessionID       string    `gorm:"column:session_id"`
	TradingDate     string    `gorm:"column:trading_date"`
	ExecutionsToday int       `gorm:"column:executions_today"`
	LastWatermark   time.Time `gorm:"column:last_watermark"`
	SeenIDs         string    `gorm:"column:seen_ids"` // JSON array, oldest first
	BreakerState    string    `gorm:"column:breaker_state"`
	BreakerFailures int       `gorm:"column:breaker_failures"`
	BreakerLastFail time.Time `gorm:"column:breaker_last_fail"`
	UpdatedAt       time.Time `gorm:"column:updated_at"`
}

func (cycleStateModel) TableName() string { return "cycle_state" }

// positionModel maps to the 'positions' table.
type positionModel struct {
	ID             int64  `gorm:"column:id;primaryKey"`
	ContractSymbol string `gorm:"column:contract_symbol;index"`
	Underlying     string `gorm:"column:underlying;index"`
	OptionType     string `gorm:"column:option_type"`
	Strike         float64 `gorm:"column:strike"`
	Expiration     string  `gorm:"column:expiration"`
	Quantity       int     `gorm:"column:quantity"`
	Sector         string  `gorm:"column:sector"`

	EntryPrice      float64   `gorm:"column:entry_price"`
	EntryGreeks     string    `gorm:"column:entry_greeks"` // JSON
	EntryThesis     string    `gorm:"column:entry_thesis"`
	EntryConviction int       `gorm:"column:entry_conviction"`
	EntryTrend      string    `gorm:"column:entry_trend"`
	SignalScore     int       `gorm:"column:signal_score"`
	OpenedAt        time.Time `gorm:"column:opened_at"`

	CurrentPrice  float64 `gorm:"column:current_price"`
	CurrentGreeks string  `gorm:"column:current_greeks"` // JSON
	MarketValue   float64 `gorm:"column:market_value"`

	Status     string    `gorm:"column:status;index"`
	ExitPrice  float64   `gorm:"column:exit_price"`
	ExitReason string    `gorm:"column:exit_reason"`
	ClosedAt   time.Time `gorm:"column:closed_at"`
}

func (positionModel) TableName() string { return "positions" }

// decisionModel maps to the 'signal_decisions' audit table. One row per
// signal per cycle, carrying the full gate reason trail.
type decisionModel struct {
	ID         int64     `gorm:"column:id;primaryKey"`
	SessionID  string    `gorm:"column:session_id;index"`
	SignalID   string    `gorm:"column:signal_id;index"`
	Symbol     string    `gorm:"column:symbol"`
	State      string    `gorm:"column:state"`
	Action     string    `gorm:"column:action"`
	Conviction int       `gorm:"column:conviction"`
	Thesis     string    `gorm:"column:thesis"`
	Score      int       `gorm:"column:score"`
	Breakdown  string    `gorm:"column:breakdown"` // JSON factor map
	Checks     string    `gorm:"column:checks"`    // JSON gate-check results
	Reasons    string    `gorm:"column:reasons"`   // JSON block reasons
	CreatedAt  time.Time `gorm:"column:created_at;index"`
}

func (decisionModel) TableName() string { return "signal_decisions" }
