// Package store persists execution results to a sqlite database.
//
// Every finished execution, successful or not, becomes a row in the
// trade_history table. The history survives restarts and feeds the
// kelly sizing estimate and the stats endpoint.
package store

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"hydra/pkg/types"
)

// TradeRecord is one row of trade history.
type TradeRecord struct {
	ID                     uint   `gorm:"primaryKey"`
	Timestamp              string `gorm:"index"`
	Path                   string
	Success                bool
	ProfitLoss             string
	InitialAmount          string
	FinalAmount            string
	ExecutionTime          float64 // seconds
	TotalCommission        string
	PredictedProfitPercent string
	OperatingRegime        string
}

// TableName keeps the historical table name.
func (TradeRecord) TableName() string { return "trade_history" }

// Summary aggregates the whole trade history.
type Summary struct {
	Trades      int64
	Wins        int64
	TotalProfit decimal.Decimal
}

// Store wraps the sqlite database holding trade history.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open opens (or creates) the sqlite database at path and migrates the
// trade_history table.
func Open(path string, logger *slog.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	if err := db.AutoMigrate(&TradeRecord{}); err != nil {
		return nil, fmt.Errorf("migrate trade_history: %w", err)
	}
	return &Store{db: db, logger: logger.With("component", "store")}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append records one execution result.
func (s *Store) Append(result types.ExecutionResult) error {
	rec := TradeRecord{
		Timestamp:              time.Now().UTC().Format(time.RFC3339),
		Path:                   strings.Join(result.Path, " -> "),
		Success:                result.Success,
		ProfitLoss:             result.ProfitLoss.String(),
		InitialAmount:          result.InitialAmount.String(),
		FinalAmount:            result.FinalAmount.String(),
		ExecutionTime:          result.ExecutionTime.Seconds(),
		TotalCommission:        result.TotalCommission.String(),
		PredictedProfitPercent: result.PredictedProfitPercent.String(),
		OperatingRegime:        result.Regime,
	}
	if err := s.db.Create(&rec).Error; err != nil {
		return fmt.Errorf("append trade record: %w", err)
	}
	return nil
}

// Recent returns the newest records, most recent first.
func (s *Store) Recent(limit int) ([]TradeRecord, error) {
	var records []TradeRecord
	err := s.db.Order("id desc").Limit(limit).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("load trade history: %w", err)
	}
	return records, nil
}

// Summarize aggregates trade counts and total profit across the whole
// history. Rows whose profit fails to parse are counted but contribute
// zero.
func (s *Store) Summarize() (Summary, error) {
	var sum Summary
	if err := s.db.Model(&TradeRecord{}).Count(&sum.Trades).Error; err != nil {
		return Summary{}, fmt.Errorf("count trades: %w", err)
	}
	if err := s.db.Model(&TradeRecord{}).Where("success = ?", true).Count(&sum.Wins).Error; err != nil {
		return Summary{}, fmt.Errorf("count wins: %w", err)
	}

	var profits []string
	if err := s.db.Model(&TradeRecord{}).Pluck("profit_loss", &profits).Error; err != nil {
		return Summary{}, fmt.Errorf("load profits: %w", err)
	}
	total := decimal.Zero
	for _, p := range profits {
		d, err := decimal.NewFromString(p)
		if err != nil {
			s.logger.Warn("unparseable profit in trade history", "value", p)
			continue
		}
		total = total.Add(d)
	}
	sum.TotalProfit = total
	return sum, nil
}

// ProfitLossDecimal parses the stored profit of one record.
func (r TradeRecord) ProfitLossDecimal() (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(r.ProfitLoss)
	return d, err == nil
}

// InitialAmountDecimal parses the stored initial amount of one record.
func (r TradeRecord) InitialAmountDecimal() (decimal.Decimal, bool) {
	d, err := decimal.NewFromString(r.InitialAmount)
	return d, err == nil
}
