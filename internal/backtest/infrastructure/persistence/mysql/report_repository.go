// Package mysql 回测报告的 MySQL 仓储实现
package mysql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/wyfcoding/tradesim/internal/backtest/domain"
)

// ReportRepository 回测报告仓储
type ReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) Save(ctx context.Context, record *domain.ReportRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("save backtest report: %w", err)
	}
	return nil
}

func (r *ReportRepository) ListRecent(ctx context.Context, limit int) ([]*domain.ReportRecord, error) {
	var records []*domain.ReportRecord
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list backtest reports: %w", err)
	}
	return records, nil
}
