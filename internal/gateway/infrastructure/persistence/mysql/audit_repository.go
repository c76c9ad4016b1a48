// Package mysql 审计事件与成交记录的 MySQL 仓储实现
package mysql

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/wyfcoding/tradesim/internal/gateway/domain"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
)

// AuditRepository 审计事件仓储
type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Save(ctx context.Context, record *domain.AuditRecord) error {
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("save audit record: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListByOrder(ctx context.Context, orderID string) ([]*domain.AuditRecord, error) {
	var records []*domain.AuditRecord
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("event_time ASC, id ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}
	return records, nil
}

// RepositorySink 将审计事件落库的下沉适配
type RepositorySink struct {
	repo *AuditRepository
}

func NewRepositorySink(repo *AuditRepository) *RepositorySink {
	return &RepositorySink{repo: repo}
}

func (s *RepositorySink) Record(ctx context.Context, event domain.AuditEvent) error {
	return s.repo.Save(ctx, &domain.AuditRecord{
		Kind:      string(event.Kind),
		EventTime: event.Timestamp,
		OrderID:   event.OrderID,
		Symbol:    event.Symbol,
		Side:      string(event.Side),
		Quantity:  event.Quantity,
		Price:     event.Price,
		Status:    string(event.Status),
		Reason:    event.Reason,
	})
}

// TradeRepository 成交记录仓储
type TradeRepository struct {
	db *gorm.DB
}

func NewTradeRepository(db *gorm.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

func (r *TradeRepository) Save(ctx context.Context, trade *matchdomain.Trade) error {
	if err := r.db.WithContext(ctx).Create(trade).Error; err != nil {
		return fmt.Errorf("save trade: %w", err)
	}
	return nil
}

func (r *TradeRepository) GetLatest(ctx context.Context, symbol string, limit int) ([]*matchdomain.Trade, error) {
	var trades []*matchdomain.Trade
	err := r.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("executed_at DESC").
		Limit(limit).
		Find(&trades).Error
	if err != nil {
		return nil, fmt.Errorf("load latest trades: %w", err)
	}
	return trades, nil
}
