// Package domain 撮合引擎的领域模型：订单、订单簿与撮合算法
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide 买卖方向
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// Opposite 返回对手方向
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType 订单类型
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusAccepted        OrderStatus = "ACCEPTED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusResting         OrderStatus = "RESTING"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusFailed          OrderStatus = "FAILED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// 合法的状态迁移表，终态不可再迁移
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusNew:      {OrderStatusAccepted, OrderStatusRejected},
	OrderStatusAccepted: {OrderStatusResting, OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusFailed, OrderStatusCancelled},
	OrderStatusResting:  {OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusCancelled},
	OrderStatusPartiallyFilled: {
		OrderStatusPartiallyFilled, OrderStatusFilled, OrderStatusFailed, OrderStatusCancelled,
	},
}

var (
	// ErrInvalidOrder 非法订单（数量或价格非正）
	ErrInvalidOrder = errors.New("invalid order: quantity and price must be strictly positive")
	// ErrOrderNotFound 订单簿中不存在该订单
	ErrOrderNotFound = errors.New("order not found")
	// ErrInvalidTransition 非法状态迁移
	ErrInvalidTransition = errors.New("invalid order status transition")
)

// Order 订单实体
// 只能通过定义好的状态迁移修改，终态订单不再复活
type Order struct {
	OrderID        string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Price          decimal.Decimal // 市价单为零值
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         OrderStatus
	Reason         string
	SubmittedAt    time.Time
}

// NewOrder 创建一笔待受理订单
func NewOrder(orderID, symbol string, side OrderSide, typ OrderType, price, quantity decimal.Decimal, submittedAt time.Time) *Order {
	return &Order{
		OrderID:        orderID,
		Symbol:         symbol,
		Side:           side,
		Type:           typ,
		Price:          price,
		Quantity:       quantity,
		FilledQuantity: decimal.Zero,
		Status:         OrderStatusNew,
		SubmittedAt:    submittedAt,
	}
}

// Validate 基础校验：数量必须为正，限价单价格必须为正
func (o *Order) Validate() error {
	if !o.Quantity.IsPositive() {
		return ErrInvalidOrder
	}
	if o.Type == OrderTypeLimit && !o.Price.IsPositive() {
		return ErrInvalidOrder
	}
	return nil
}

// RemainingQuantity 剩余未成交数量
func (o *Order) RemainingQuantity() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// IsTerminal 是否已进入终态
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusFailed, OrderStatusCancelled:
		return true
	}
	return false
}

// CanBeCancelled 仅挂单中或部分成交的订单可撤
func (o *Order) CanBeCancelled() bool {
	return o.Status == OrderStatusResting || o.Status == OrderStatusPartiallyFilled
}

// Transition 执行状态迁移，非法迁移返回错误
func (o *Order) Transition(to OrderStatus) error {
	for _, allowed := range transitions[o.Status] {
		if allowed == to {
			o.Status = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (order %s)", ErrInvalidTransition, o.Status, to, o.OrderID)
}

// MarkRejected 风控或校验拒绝
func (o *Order) MarkRejected(reason string) {
	o.Status = OrderStatusRejected
	o.Reason = reason
}

// MarkFailed 模拟执行失败
func (o *Order) MarkFailed(reason string) {
	o.Status = OrderStatusFailed
	o.Reason = reason
}

// ApplyFill 记录一笔成交，按累计成交量推进状态
func (o *Order) ApplyFill(quantity decimal.Decimal) {
	o.FilledQuantity = o.FilledQuantity.Add(quantity)
	if o.FilledQuantity.GreaterThanOrEqual(o.Quantity) {
		o.Status = OrderStatusFilled
	} else {
		o.Status = OrderStatusPartiallyFilled
	}
}
