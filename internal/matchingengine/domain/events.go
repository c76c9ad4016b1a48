package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Fill 单边成交回报，不可变的审计记录
// OrderStatus 为本笔成交入账后该订单的状态（PARTIALLY_FILLED 或 FILLED）
type Fill struct {
	OrderID        string
	CounterOrderID string // 对手订单 ID；实盘为券商回执单号
	Symbol         string
	Side           OrderSide
	Quantity       decimal.Decimal
	Price          decimal.Decimal
	Timestamp      time.Time
	OrderStatus    OrderStatus
}

// Notional 成交金额
func (f *Fill) Notional() decimal.Decimal {
	return f.Quantity.Mul(f.Price)
}

// Trade 一笔撮合成交（双边视角），用于持久化与行情发布
type Trade struct {
	gorm.Model
	TradeID     string          `gorm:"column:trade_id;type:varchar(32);uniqueIndex;not null" json:"trade_id"`
	Symbol      string          `gorm:"column:symbol;type:varchar(20);index;not null" json:"symbol"`
	BuyOrderID  string          `gorm:"column:buy_order_id;type:varchar(32);index;not null" json:"buy_order_id"`
	SellOrderID string          `gorm:"column:sell_order_id;type:varchar(32);index;not null" json:"sell_order_id"`
	Price       decimal.Decimal `gorm:"column:price;type:decimal(20,8);not null" json:"price"`
	Quantity    decimal.Decimal `gorm:"column:quantity;type:decimal(20,8);not null" json:"quantity"`
	ExecutedAt  time.Time       `gorm:"column:executed_at;not null" json:"executed_at"`
}

func (Trade) TableName() string { return "trades" }

// ExecutionResult 一次订单提交的撮合结果
type ExecutionResult struct {
	Order  *Order
	Fills  []*Fill  // 双边回报，先本方后对手方
	Trades []*Trade // 双边成交记录
}

// TradeRepository 成交记录仓储接口
type TradeRepository interface {
	Save(ctx context.Context, trade *Trade) error
	GetLatest(ctx context.Context, symbol string, limit int) ([]*Trade, error)
}
