// Package domain 订单网关的领域模型：审计事件与下沉接口
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
)

// EventKind 审计事件类型
type EventKind string

const (
	EventSubmission   EventKind = "SUBMISSION"
	EventFill         EventKind = "FILL"
	EventCancellation EventKind = "CANCELLATION"
)

// AuditEvent 只追加的审计记录
// 每次提交、成交、拒绝、撤销各产生恰好一条；固定种子下整个事件流逐字节可重现
type AuditEvent struct {
	Kind      EventKind               `json:"kind"`
	Timestamp time.Time               `json:"timestamp"`
	OrderID   string                  `json:"order_id"`
	Symbol    string                  `json:"symbol"`
	Side      matchdomain.OrderSide   `json:"side"`
	Quantity  decimal.Decimal         `json:"quantity"`
	Price     decimal.Decimal         `json:"price"`
	Status    matchdomain.OrderStatus `json:"status"`
	Reason    string                  `json:"reason"` // 成功为空，拒绝/失败为描述串
}

// Sink 审计事件下沉接口；实现方不得阻塞撮合主路径之外的调用方
type Sink interface {
	Record(ctx context.Context, event AuditEvent) error
}

// AuditRecord 审计事件的持久化映射
type AuditRecord struct {
	gorm.Model
	Kind      string          `gorm:"column:kind;type:varchar(16);not null"`
	EventTime time.Time       `gorm:"column:event_time;index;not null"`
	OrderID   string          `gorm:"column:order_id;type:varchar(32);index;not null"`
	Symbol    string          `gorm:"column:symbol;type:varchar(20);index;not null"`
	Side      string          `gorm:"column:side;type:varchar(8);not null"`
	Quantity  decimal.Decimal `gorm:"column:quantity;type:decimal(20,8);not null"`
	Price     decimal.Decimal `gorm:"column:price;type:decimal(20,8);not null"`
	Status    string          `gorm:"column:status;type:varchar(20);not null"`
	Reason    string          `gorm:"column:reason;type:varchar(255)"`
}

func (AuditRecord) TableName() string { return "audit_events" }

// AuditRepository 审计事件仓储接口
type AuditRepository interface {
	Save(ctx context.Context, record *AuditRecord) error
	ListByOrder(ctx context.Context, orderID string) ([]*AuditRecord, error)
}
