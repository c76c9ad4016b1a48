// Package domain 实盘接入边界：券商适配器与其执行场所包装
package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	marketdomain "github.com/wyfcoding/tradesim/internal/marketdata/domain"
	matchdomain "github.com/wyfcoding/tradesim/internal/matchingengine/domain"
)

// ErrUnsupported 券商通道不支持的操作（撤单、做市报价）
var ErrUnsupported = errors.New("operation not supported by broker venue")

// BrokerExecution 券商对一笔订单的执行回执
// FilledPrice 为零表示券商未同步返回成交价，由调用方按参考价入账
type BrokerExecution struct {
	BrokerOrderID string
	FilledPrice   decimal.Decimal
	FilledQty     decimal.Decimal
}

// BrokerAdapter 券商适配器
// 实盘模式仅依赖两种能力：拉取近期 K 线用于策略预热与轮询，
// 以及提交市价单
type BrokerAdapter interface {
	FetchRecentBars(ctx context.Context, symbol string, lookback int) ([]marketdomain.MarketDataPoint, error)
	SubmitOrder(ctx context.Context, order *matchdomain.Order) (*BrokerExecution, error)
}

// BrokerVenue 把券商适配器包装成风控闸口可用的执行场所
// 回测与实盘共用同一条 Gateway → OrderManager 链路，差异只在这里
type BrokerVenue struct {
	mu      sync.RWMutex
	adapter BrokerAdapter
	marks   map[string]decimal.Decimal // 各交易对最近收盘价
}

func NewBrokerVenue(adapter BrokerAdapter) *BrokerVenue {
	return &BrokerVenue{
		adapter: adapter,
		marks:   make(map[string]decimal.Decimal),
	}
}

// SetMark 更新交易对的最近行情价，轮询循环每根 K 线调用一次
func (v *BrokerVenue) SetMark(symbol string, price decimal.Decimal) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.marks[symbol] = price
}

// Submit 将订单交给券商执行
// 券商未返回成交价时按最近行情价入账，保证台账每笔成交恰好记一次
func (v *BrokerVenue) Submit(ctx context.Context, order *matchdomain.Order) (*matchdomain.ExecutionResult, error) {
	if err := order.Validate(); err != nil {
		order.MarkRejected(err.Error())
		return &matchdomain.ExecutionResult{Order: order}, err
	}
	if err := order.Transition(matchdomain.OrderStatusAccepted); err != nil {
		return nil, err
	}

	exec, err := v.adapter.SubmitOrder(ctx, order)
	if err != nil {
		order.MarkFailed(fmt.Sprintf("Broker rejected order: %v", err))
		return &matchdomain.ExecutionResult{Order: order}, err
	}

	qty := exec.FilledQty
	if qty.IsZero() {
		qty = order.Quantity
	}
	price := exec.FilledPrice
	if price.IsZero() {
		mark, ok := v.ReferencePrice(order.Symbol, order.Side)
		if !ok {
			order.MarkFailed("No mark price to settle broker fill")
			return &matchdomain.ExecutionResult{Order: order}, fmt.Errorf("no mark price for %s", order.Symbol)
		}
		price = mark
	}

	order.ApplyFill(qty)
	fillStatus := order.Status
	// 券商市价单不保留剩余部分：部分成交即取消余量。
	// 订单离开执行场所时必须已是终态，风控闸口据此释放剩余占用
	if !order.IsTerminal() {
		if err := order.Transition(matchdomain.OrderStatusCancelled); err != nil {
			return nil, err
		}
		order.Reason = "Remainder not filled by broker"
	}
	fill := &matchdomain.Fill{
		OrderID:        order.OrderID,
		CounterOrderID: exec.BrokerOrderID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Quantity:       qty,
		Price:          price,
		Timestamp:      order.SubmittedAt,
		OrderStatus:    fillStatus,
	}
	return &matchdomain.ExecutionResult{Order: order, Fills: []*matchdomain.Fill{fill}}, nil
}

// SubmitQuote 实盘不存在合成流动性
func (v *BrokerVenue) SubmitQuote(ctx context.Context, order *matchdomain.Order) (*matchdomain.ExecutionResult, error) {
	return nil, fmt.Errorf("synthetic quotes: %w", ErrUnsupported)
}

// Cancel 市价单即时成交，无可撤订单
func (v *BrokerVenue) Cancel(ctx context.Context, orderID string) (*matchdomain.Order, error) {
	return nil, fmt.Errorf("cancel %s: %w", orderID, ErrUnsupported)
}

// ReferencePrice 以最近行情价作为风控参考价
func (v *BrokerVenue) ReferencePrice(symbol string, _ matchdomain.OrderSide) (decimal.Decimal, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	price, ok := v.marks[symbol]
	return price, ok
}

// WorstFillPrice 券商通道没有可见盘口，以最近行情价作为最差成交价估计
func (v *BrokerVenue) WorstFillPrice(symbol string, side matchdomain.OrderSide, _ decimal.Decimal) (decimal.Decimal, bool) {
	return v.ReferencePrice(symbol, side)
}
