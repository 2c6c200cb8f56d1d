package state

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"flowgate/internal/pkg/circuit"
	"flowgate/internal/types"
)

const cycleStateRowID = 1

// Store persists cycle state, positions, and the signal-decision audit log in
// a single sqlite database.
type Store struct {
	db *gorm.DB
}

func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   gormlogger.Default.LogMode(gormlogger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	return newStore(db)
}

func NewStoreFromDB(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db cannot be nil")
	}
	return newStore(db)
}

func newStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&cycleStateModel{}, &positionModel{}, &decisionModel{}); err != nil {
		return nil, err
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// LoadCycleState reads the persisted state wholesale. Returns (nil, nil) when
// no state has been written yet.
func (s *Store) LoadCycleState(ctx context.Context, seenCapacity int) (*CycleState, error) {
	var row cycleStateModel
	err := s.db.WithContext(ctx).First(&row, cycleStateRowID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("loading cycle state failed: %w", err)
	}
	var ids []string
	if strings.TrimSpace(row.SeenIDs) != "" {
		if err := json.Unmarshal([]byte(row.SeenIDs), &ids); err != nil {
			return nil, fmt.Errorf("decoding seen ids failed: %w", err)
		}
	}
	cs := NewCycleState(row.SessionID, seenCapacity)
	cs.TradingDate = row.TradingDate
	cs.ExecutionsToday = row.ExecutionsToday
	cs.LastWatermark = row.LastWatermark
	cs.Seen.Restore(ids)
	cs.Breaker = circuit.Snapshot{
		State:       row.BreakerState,
		Failures:    row.BreakerFailures,
		LastFailure: row.BreakerLastFail,
	}
	cs.UpdatedAt = row.UpdatedAt
	return cs, nil
}

// SaveCycleState replaces the single state row inside one transaction.
func (s *Store) SaveCycleState(ctx context.Context, cs *CycleState) error {
	ids, err := json.Marshal(cs.Seen.IDs())
	if err != nil {
		return err
	}
	row := cycleStateModel{
		ID:              cycleStateRowID,
		SessionID:       cs.SessionID,
		TradingDate:     cs.TradingDate,
		ExecutionsToday: cs.ExecutionsToday,
		LastWatermark:   cs.LastWatermark,
		SeenIDs:         string(ids),
		BreakerState:    cs.Breaker.State,
		BreakerFailures: cs.Breaker.Failures,
		BreakerLastFail: cs.Breaker.LastFailure,
		UpdatedAt:       time.Now(),
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", cycleStateRowID).Delete(&cycleStateModel{}).Error; err != nil {
			return err
		}
		return tx.Create(&row).Error
	})
}

// SavePosition inserts a newly opened position.
func (s *Store) SavePosition(ctx context.Context, p types.Position) error {
	row, err := toPositionModel(p)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

// UpdatePosition rewrites the stored row for p's contract symbol while open.
func (s *Store) UpdatePosition(ctx context.Context, p types.Position) error {
	row, err := toPositionModel(p)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Model(&positionModel{}).
		Where("contract_symbol = ? AND status = ?", p.ContractSymbol, string(types.PositionOpen)).
		Updates(map[string]any{
			"quantity":       row.Quantity,
			"current_price":  row.CurrentPrice,
			"current_greeks": row.CurrentGreeks,
			"market_value":   row.MarketValue,
			"status":         row.Status,
			"exit_price":     row.ExitPrice,
			"exit_reason":    row.ExitReason,
			"closed_at":      row.ClosedAt,
		}).Error
}

// OpenPositions returns every position still marked open.
func (s *Store) OpenPositions(ctx context.Context) ([]types.Position, error) {
	var rows []positionModel
	err := s.db.WithContext(ctx).
		Where("status = ?", string(types.PositionOpen)).
		Order("opened_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.Position, 0, len(rows))
	for _, row := range rows {
		p, err := fromPositionModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// DecisionRecord is one audit entry for a signal's trip through the gate.
type DecisionRecord struct {
	SessionID  string
	SignalID   string
	Symbol     string
	State      string
	Action     string
	Conviction int
	Thesis     string
	Score      int
	Breakdown  map[string]int
	Checks     map[string]bool
	Reasons    []string
}

// RecordDecision appends one audit row. Audit failures are reported but must
// not abort the cycle; the caller decides.
func (s *Store) RecordDecision(ctx context.Context, rec DecisionRecord) error {
	breakdown, err := json.Marshal(rec.Breakdown)
	if err != nil {
		return err
	}
	checks, err := json.Marshal(rec.Checks)
	if err != nil {
		return err
	}
	reasons, err := json.Marshal(rec.Reasons)
	if err != nil {
		return err
	}
	row := decisionModel{
		SessionID:  rec.SessionID,
		SignalID:   rec.SignalID,
		Symbol:     rec.Symbol,
		State:      rec.State,
		Action:     rec.Action,
		Conviction: rec.Conviction,
		Thesis:     rec.Thesis,
		Score:      rec.Score,
		Breakdown:  string(breakdown),
		Checks:     string(checks),
		Reasons:    string(reasons),
		CreatedAt:  time.Now(),
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func toPositionModel(p types.Position) (positionModel, error) {
	entryGreeks, err := json.Marshal(p.EntryGreeks)
	if err != nil {
		return positionModel{}, err
	}
	currentGreeks, err := json.Marshal(p.CurrentGreeks)
	if err != nil {
		return positionModel{}, err
	}
	return positionModel{
		ContractSymbol:  p.ContractSymbol,
		Underlying:      p.Underlying,
		OptionType:      string(p.OptionType),
		Strike:          p.Strike,
		Expiration:      p.Expiration,
		Quantity:        p.Quantity,
		Sector:          p.Sector,
		EntryPrice:      p.EntryPrice,
		EntryGreeks:     string(entryGreeks),
		EntryThesis:     p.EntryThesis,
		EntryConviction: p.EntryConviction,
		EntryTrend:      string(p.EntryTrend),
		SignalScore:     p.SignalScore,
		OpenedAt:        p.OpenedAt,
		CurrentPrice:    p.CurrentPrice,
		CurrentGreeks:   string(currentGreeks),
		MarketValue:     p.MarketValue,
		Status:          string(p.Status),
		ExitPrice:       p.ExitPrice,
		ExitReason:      p.ExitReason,
		ClosedAt:        p.ClosedAt,
	}, nil
}

func fromPositionModel(row positionModel) (types.Position, error) {
	var entryGreeks, currentGreeks types.Greeks
	if strings.TrimSpace(row.EntryGreeks) != "" {
		if err := json.Unmarshal([]byte(row.EntryGreeks), &entryGreeks); err != nil {
			return types.Position{}, err
		}
	}
	if strings.TrimSpace(row.CurrentGreeks) != "" {
		if err := json.Unmarshal([]byte(row.CurrentGreeks), &currentGreeks); err != nil {
			return types.Position{}, err
		}
	}
	return types.Position{
		ContractSymbol:  row.ContractSymbol,
		Underlying:      row.Underlying,
		OptionType:      types.OptionType(row.OptionType),
		Strike:          row.Strike,
		Expiration:      row.Expiration,
		Quantity:        row.Quantity,
		Sector:          row.Sector,
		EntryPrice:      row.EntryPrice,
		EntryGreeks:     entryGreeks,
		EntryThesis:     row.EntryThesis,
		EntryConviction: row.EntryConviction,
		EntryTrend:      types.TrendLabel(row.EntryTrend),
		SignalScore:     row.SignalScore,
		OpenedAt:        row.OpenedAt,
		CurrentPrice:    row.CurrentPrice,
		CurrentGreeks:   currentGreeks,
		MarketValue:     row.MarketValue,
		Status:          types.PositionStatus(row.Status),
		ExitPrice:       row.ExitPrice,
		ExitReason:      row.ExitReason,
		ClosedAt:        row.ClosedAt,
	}, nil
}
