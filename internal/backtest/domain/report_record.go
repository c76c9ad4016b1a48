package domain

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ReportRecord 回测结果的持久化实体
type ReportRecord struct {
	gorm.Model
	Name         string          `gorm:"column:name;type:varchar(128);index"`
	StartingCash decimal.Decimal `gorm:"column:starting_cash;type:decimal(32,8)"`
	FinalEquity  decimal.Decimal `gorm:"column:final_equity;type:decimal(32,8)"`
	TotalReturn  decimal.Decimal `gorm:"column:total_return;type:decimal(16,8)"`
	SharpeRatio  float64         `gorm:"column:sharpe_ratio"`
	MaxDrawdown  decimal.Decimal `gorm:"column:max_drawdown;type:decimal(16,8)"`
	Ticks        int             `gorm:"column:ticks"`
	Submitted    int             `gorm:"column:submitted"`
	Filled       int             `gorm:"column:filled"`
	Rejected     int             `gorm:"column:rejected"`
	Failed       int             `gorm:"column:failed"`
}

func (ReportRecord) TableName() string {
	return "backtest_reports"
}

// ReportRepository 回测报告仓储
type ReportRepository interface {
	Save(ctx context.Context, record *ReportRecord) error
	ListRecent(ctx context.Context, limit int) ([]*ReportRecord, error)
}
